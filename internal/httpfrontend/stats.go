/*
 * This file is part of privtracker.
 *
 * privtracker is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * privtracker is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with privtracker.  If not, see <http://www.gnu.org/licenses/>.
 */

package httpfrontend

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jinzhu/copier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"github.com/anacrolix-labs/privtracker/internal/log"
)

// statsCounters is the plain counters payload behind GET /stats. It's
// assembled from a single pass over the gate cache and swarm registry,
// then reshaped into statsResponse with copier rather than a hand-written
// field-by-field assignment.
type statsCounters struct {
	Uptime     float64
	Users      int
	Clients    int
	Torrents   int
	Seeders    int64
	Leechers   int64
	HitAndRuns int
	Pruned     int
	BonusPts   float64
	Requests   uint64
	Failures   uint64
}

type statsResponse struct {
	Uptime     float64 `json:"uptime_seconds"`
	Users      int     `json:"users"`
	Clients    int     `json:"approved_clients"`
	Torrents   int     `json:"torrents"`
	Seeders    int64   `json:"seeders"`
	Leechers   int64   `json:"leechers"`
	HitAndRuns int     `json:"hit_and_runs"`
	Pruned     int     `json:"torrents_pruned"`
	BonusPts   float64 `json:"bonus_points_outstanding"`
	Requests   uint64  `json:"requests_total"`
	Failures   uint64  `json:"requests_failed_total"`
}

func (p *Pipeline) handleStats(ctx *fasthttp.RequestCtx) {
	users, clients, hnrs := p.cache.Counts()

	var seeders, leechers int64
	pruned := 0

	for _, t := range p.reg.AllTorrentRecords() {
		snap := t.Snapshot()
		seeders += snap.Seeders
		leechers += snap.Leechers

		if snap.Pruned {
			pruned++
		}
	}

	counters := statsCounters{
		Uptime:     time.Since(p.startTime).Seconds(),
		Users:      users,
		Clients:    clients,
		Torrents:   len(p.reg.AllTorrentRecords()),
		Seeders:    seeders,
		Leechers:   leechers,
		HitAndRuns: hnrs,
		Pruned:     pruned,
	}

	if p.metrics != nil {
		counters.BonusPts = p.metrics.BonusOutstanding()
		counters.Requests, counters.Failures = p.metrics.Totals()
	}

	var resp statsResponse
	if err := copier.Copy(&resp, &counters); err != nil {
		log.Error.Printf("stats: failed to shape response: %s", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)

		return
	}

	body, _ := json.Marshal(resp)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// handleMetrics renders the Prometheus text exposition format the way
// server/metrics.go gathers its normalRegisterer into buf, except our
// Collector computes every gauge fresh from live state rather than reading
// package-level counters someone forgot to update at a call site.
func (p *Pipeline) handleMetrics(ctx *fasthttp.RequestCtx) {
	if p.metrics == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(p.metrics); err != nil {
		log.Error.Printf("metrics: failed to register collector: %s", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)

		return
	}

	mfs, err := registry.Gather()
	if err != nil {
		log.Error.Printf("metrics: gather failed: %s", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)

		return
	}

	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			log.Error.Printf("metrics: encode failed: %s", err)
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)

			return
		}
	}

	ctx.SetContentType(string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	ctx.SetBody(buf.Bytes())
}
