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
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/anacrolix-labs/privtracker/internal/eligibility"
	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/metrics"
	"github.com/anacrolix-labs/privtracker/internal/ratelimit"
	"github.com/anacrolix-labs/privtracker/internal/stats"
	"github.com/anacrolix-labs/privtracker/internal/swarm"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

// responseBuffers recycles the bencode response buffers across requests
// instead of allocating one per announce/scrape.
var responseBuffers = util.NewBufferPool(512)

// Config is the HTTP leg's share of the configuration file.
type Config struct {
	AnnounceInterval time.Duration
	AnnounceJitter   float64
	DefaultNumWant   int
	MaxNumWant       int
	StrictPort       bool
	ProxyHeader      string
	Eligibility      eligibility.Config
}

// Pipeline is the HTTP request pipeline: gate -> decode -> swarm dispatch
// -> stats record -> response, wired against the shared gate cache, rate limiter,
// swarm registry and stats buffer every transport uses.
type Pipeline struct {
	cfg     Config
	cache   *gate.Cache
	limiter *ratelimit.Limiter
	reg     *swarm.Registry
	buf     *stats.Buffer
	metrics *metrics.Collector

	startTime time.Time
}

func NewPipeline(cfg Config, cache *gate.Cache, limiter *ratelimit.Limiter, reg *swarm.Registry, buf *stats.Buffer) *Pipeline {
	return &Pipeline{cfg: cfg, cache: cache, limiter: limiter, reg: reg, buf: buf, startTime: time.Now()}
}

// WithMetrics attaches the /stats and /metrics collector; left nil, /metrics
// 404s and /stats serves its swarm counts with the request, failure and
// bonus counters at zero, so tests that build a bare Pipeline don't need to
// wire one up.
func (p *Pipeline) WithMetrics(m *metrics.Collector) *Pipeline {
	p.metrics = m
	return p
}

// Handler is the fasthttp.RequestHandler entrypoint.
func (p *Pipeline) Handler(ctx *fasthttp.RequestCtx) {
	defer func() {
		if r := recover(); r != nil {
			log.Error.Printf("httpfrontend panic: %v", r)
			log.WriteStack()
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		}
	}()

	ctx.SetContentType("text/plain; charset=utf-8")

	path := string(ctx.Path())

	switch path {
	case "/health":
		p.handleHealth(ctx)
		return
	case "/stats":
		p.handleStats(ctx)
		return
	case "/metrics":
		p.handleMetrics(ctx)
		return
	}

	if p.metrics != nil {
		p.metrics.IncRequests()
	}

	// Expect /{32-hex-passkey}/{announce,scrape}.
	trimmed := strings.TrimPrefix(path, "/")

	slash := strings.IndexByte(trimmed, '/')
	if slash != 32 {
		p.writeFailure(ctx, "Passkey required")
		return
	}

	passkey := trimmed[:32]
	action := trimmed[33:]

	clientIP := p.clientIP(ctx)

	if ban := p.cache.CheckBanned(clientIP); ban.Banned {
		p.writeFailure(ctx, "Banned: "+ban.Reason)
		return
	}

	class := ratelimit.ClassAnnounce
	if action == "scrape" {
		class = ratelimit.ClassScrape
	}

	if res := p.limiter.Allow(clientIP, class, time.Now()); !res.Allowed {
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		p.writeFailure(ctx, "Rate limit exceeded")

		return
	}

	user, ok := p.cache.LookupPasskey(passkey)
	if !ok {
		p.writeFailure(ctx, "Invalid passkey")
		return
	}

	switch action {
	case "announce":
		p.handleAnnounce(ctx, user, clientIP)
	case "scrape":
		p.handleScrape(ctx, user)
	default:
		p.writeFailure(ctx, "Unknown action")
	}
}

func (p *Pipeline) handleHealth(ctx *fasthttp.RequestCtx) {
	body, _ := json.Marshal(map[string]string{"status": "ok"})
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// clientIP honors the configured proxy header (X-Forwarded-For): the first
// comma-separated token when present and parseable, otherwise the socket
// address.
func (p *Pipeline) clientIP(ctx *fasthttp.RequestCtx) net.IP {
	if p.cfg.ProxyHeader != "" {
		v := ctx.Request.Header.Peek(p.cfg.ProxyHeader)
		if len(v) > 0 {
			first := v
			if i := bytes.IndexByte(v, ','); i >= 0 {
				first = v[:i]
			}

			if ip := net.ParseIP(strings.TrimSpace(string(first))); ip != nil {
				return ip
			}
		}
	}

	return ctx.RemoteIP()
}
