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

// Package metrics backs the /metrics endpoint: a prometheus.Collector that
// reads the already-maintained gate/swarm/bonus state on demand rather than
// keeping its own shadow counters, registered into a private registry
// rather than the global DefaultRegisterer.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anacrolix-labs/privtracker/internal/bonus"
	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/swarm"
)

// Collector implements prometheus.Collector over the tracker's live
// state. Every gauge is re-derived straight from the gate cache and swarm
// registry at Collect time; there are no hand-updated shadow counters to
// drift out of sync.
type Collector struct {
	start time.Time
	cache *gate.Cache
	reg   *swarm.Registry
	bonus *bonus.Calculator

	requests atomic.Uint64
	failures atomic.Uint64

	uptimeDesc   *prometheus.Desc
	usersDesc    *prometheus.Desc
	clientsDesc  *prometheus.Desc
	torrentsDesc *prometheus.Desc
	seedersDesc  *prometheus.Desc
	leechersDesc *prometheus.Desc
	hnrDesc      *prometheus.Desc
	requestsDesc *prometheus.Desc
	failuresDesc *prometheus.Desc
	bonusPtsDesc *prometheus.Desc
	prunedDesc   *prometheus.Desc
}

func New(cache *gate.Cache, reg *swarm.Registry, calc *bonus.Calculator) *Collector {
	return &Collector{
		start: time.Now(),
		cache: cache,
		reg:   reg,
		bonus: calc,

		uptimeDesc:   prometheus.NewDesc("privtracker_uptime_seconds", "Process uptime in seconds", nil, nil),
		usersDesc:    prometheus.NewDesc("privtracker_users", "Number of users known to the gate cache", nil, nil),
		clientsDesc:  prometheus.NewDesc("privtracker_approved_clients", "Number of whitelisted client prefixes", nil, nil),
		torrentsDesc: prometheus.NewDesc("privtracker_torrents", "Number of torrents currently tracked", nil, nil),
		seedersDesc:  prometheus.NewDesc("privtracker_seeders", "Total seeders across all tracked swarms", nil, nil),
		leechersDesc: prometheus.NewDesc("privtracker_leechers", "Total leechers across all tracked swarms", nil, nil),
		hnrDesc:      prometheus.NewDesc("privtracker_hit_and_runs", "Number of users currently locked out by hit-and-run warnings", nil, nil),
		requestsDesc: prometheus.NewDesc("privtracker_requests_total", "Number of announce/scrape requests served", nil, nil),
		failuresDesc: prometheus.NewDesc("privtracker_requests_failed_total", "Number of announce/scrape requests that returned a bencoded failure reason", nil, nil),
		bonusPtsDesc: prometheus.NewDesc("privtracker_bonus_points_outstanding", "Sum of unredeemed bonus points across all users", nil, nil),
		prunedDesc:   prometheus.NewDesc("privtracker_torrents_pruned", "Number of tracked torrents currently idle-pruned", nil, nil),
	}
}

// IncRequests and IncFailures are called from the HTTP front door on every
// served request and every failure response; UDP traffic is not counted.
func (c *Collector) IncRequests() { c.requests.Add(1) }
func (c *Collector) IncFailures() { c.failures.Add(1) }

// Totals exposes the same running counters for the JSON /stats endpoint.
func (c *Collector) Totals() (requests, failures uint64) {
	return c.requests.Load(), c.failures.Load()
}

// BonusOutstanding exposes the bonus calculator's outstanding-points gauge
// for the JSON /stats endpoint, so it doesn't need its own handle on the
// calculator.
func (c *Collector) BonusOutstanding() float64 {
	if c.bonus == nil {
		return 0
	}

	return c.bonus.OutstandingPoints()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptimeDesc
	ch <- c.usersDesc
	ch <- c.clientsDesc
	ch <- c.torrentsDesc
	ch <- c.seedersDesc
	ch <- c.leechersDesc
	ch <- c.hnrDesc
	ch <- c.requestsDesc
	ch <- c.failuresDesc
	ch <- c.bonusPtsDesc
	ch <- c.prunedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	users, clients, hnrs := c.cache.Counts()

	torrents := c.reg.AllTorrentRecords()

	var seeders, leechers, pruned int64

	for _, t := range torrents {
		seeders += t.Seeders.Load()
		leechers += t.Leechers.Load()

		if t.Pruned.Load() {
			pruned++
		}
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.CounterValue, time.Since(c.start).Seconds())
	ch <- prometheus.MustNewConstMetric(c.usersDesc, prometheus.GaugeValue, float64(users))
	ch <- prometheus.MustNewConstMetric(c.clientsDesc, prometheus.GaugeValue, float64(clients))
	ch <- prometheus.MustNewConstMetric(c.torrentsDesc, prometheus.GaugeValue, float64(len(torrents)))
	ch <- prometheus.MustNewConstMetric(c.seedersDesc, prometheus.GaugeValue, float64(seeders))
	ch <- prometheus.MustNewConstMetric(c.leechersDesc, prometheus.GaugeValue, float64(leechers))
	ch <- prometheus.MustNewConstMetric(c.hnrDesc, prometheus.GaugeValue, float64(hnrs))
	ch <- prometheus.MustNewConstMetric(c.requestsDesc, prometheus.CounterValue, float64(c.requests.Load()))
	ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(c.failures.Load()))
	ch <- prometheus.MustNewConstMetric(c.prunedDesc, prometheus.GaugeValue, float64(pruned))

	if c.bonus != nil {
		ch <- prometheus.MustNewConstMetric(c.bonusPtsDesc, prometheus.GaugeValue, c.bonus.OutstandingPoints())
	}
}
