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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/anacrolix-labs/privtracker/internal/bonus"
	"github.com/anacrolix-labs/privtracker/internal/config"
	"github.com/anacrolix-labs/privtracker/internal/eligibility"
	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/hnr"
	"github.com/anacrolix-labs/privtracker/internal/httpfrontend"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/metrics"
	"github.com/anacrolix-labs/privtracker/internal/peerstore"
	"github.com/anacrolix-labs/privtracker/internal/ratelimit"
	"github.com/anacrolix-labs/privtracker/internal/stats"
	"github.com/anacrolix-labs/privtracker/internal/store"
	"github.com/anacrolix-labs/privtracker/internal/swarm"
	"github.com/anacrolix-labs/privtracker/internal/udpfrontend"
	"github.com/anacrolix-labs/privtracker/internal/util"
	"github.com/anacrolix-labs/privtracker/internal/verify"
)

var (
	configPath string
	help       bool
)

// provided at compile-time
var (
	BuildDate    = "0000-00-00T00:00:00+0000"
	BuildVersion = "development"
)

func init() {
	flag.StringVar(&configPath, "c", "config.json", "Path to the JSON config file")
	flag.BoolVar(&help, "h", false, "Shows this help dialog")
}

func main() {
	fmt.Printf("privtracker, ver=%s date=%s runtime=%s\n\n", BuildVersion, BuildDate, runtime.Version())

	flag.Parse()

	if help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()

		return
	}

	config.SetFile(configPath)
	runtime.GOMAXPROCS(runtime.NumCPU())

	ctx, cancel := context.WithCancel(context.Background())

	st := openStore()
	ps := openPeerStore()

	cache := gate.New()
	if err := cache.Reload(ctx, st); err != nil {
		log.Fatal.Fatalf("initial gate cache load failed: %s", err)
	}

	verifierCfg := verify.DefaultConfig()
	peerVerification := config.Section("peer_verification")
	verifierCfg.Enabled, _ = peerVerification.GetBool("enabled", verifierCfg.Enabled)

	if secs, ok := peerVerification.GetInt("connect_timeout", 0); ok {
		verifierCfg.ConnectTimeout = time.Duration(secs) * time.Second
	}

	if secs, ok := peerVerification.GetInt("cache_ttl", 0); ok {
		verifierCfg.CacheTTL = time.Duration(secs) * time.Second
	}

	if n, ok := peerVerification.GetInt("max_concurrent", 0); ok {
		verifierCfg.MaxConcurrent = n
	}

	verifier := verify.New(verifierCfg)

	buf := stats.NewBuffer()

	whitelistEnforced, _ := config.GetBool("whitelist_enforced", false)
	reg := swarm.NewRegistry(st, ps, verifier, buf, whitelistEnforced)

	torrents, err := st.LoadTorrents(ctx)
	if err != nil {
		log.Fatal.Fatalf("initial torrent load failed: %s", err)
	}

	reg.LoadExisting(torrents)

	limiter := buildRateLimiter()

	hnrDetector := hnr.New(buildHnrConfig(), st, cache)
	bonusCalc := bonus.New(buildBonusConfig(), st, cache, reg)
	collector := stats.NewCollector(buf, st)

	go reg.Run(ctx)
	go verifier.Run(ctx)
	go hnrDetector.Run(ctx)
	go bonusCalc.Run(ctx)
	go collector.Run(ctx)

	// Gate reload picks up admin-side user/whitelist/ban changes (and the
	// stats the collector flushed) from the durable store; the rate-limit
	// sweep drops records whose window has gone empty.
	reloadSecs, _ := config.GetInt("gate_reload_interval", 45)
	go util.ContextTick(ctx, time.Duration(reloadSecs)*time.Second, func() {
		if err := cache.Reload(ctx, st); err != nil {
			log.Error.Printf("gate cache reload failed: %s", err)
		}
	})

	go util.ContextTick(ctx, time.Minute, func() {
		limiter.Sweep(time.Now())
	})

	promCollector := metrics.New(cache, reg, bonusCalc)

	pipeline := httpfrontend.NewPipeline(buildHTTPConfig(), cache, limiter, reg, buf).
		WithMetrics(promCollector)
	httpAddr, _ := config.Get("http_addr", ":34000")

	httpServer := &fasthttp.Server{
		Handler: pipeline.Handler,
		Name:    "privtracker",
	}

	httpsAddr, hasHTTPS := config.Get("https_addr", "")
	httpsOnly, _ := config.GetBool("https_only", false)
	tlsCert, _ := config.Get("tls_cert_path", "")
	tlsKey, _ := config.Get("tls_key_path", "")

	if !httpsOnly {
		go func() {
			log.Info.Printf("http frontend listening on %s", httpAddr)

			if err := httpServer.ListenAndServe(httpAddr); err != nil {
				log.Fatal.Fatalf("http listener failed: %s", err)
			}
		}()
	}

	if hasHTTPS && tlsCert != "" && tlsKey != "" {
		go func() {
			log.Info.Printf("https frontend listening on %s", httpsAddr)

			if err := httpServer.ListenAndServeTLS(httpsAddr, tlsCert, tlsKey); err != nil {
				log.Fatal.Fatalf("https listener failed: %s", err)
			}
		}()
	} else if httpsOnly {
		log.Fatal.Fatalf("https_only is set but https_addr/tls_cert_path/tls_key_path are incomplete")
	}

	udpCfg := buildUDPConfig()
	udpFrontend := udpfrontend.NewFrontend(udpCfg, cache, limiter, reg)

	go func() {
		log.Info.Printf("udp frontend listening on %s", udpCfg.Addr)

		if err := udpFrontend.ListenAndServe(ctx); err != nil {
			log.Fatal.Fatalf("udp listener failed: %s", err)
		}
	}()

	waitForShutdown(cancel, httpServer, st, ps)
}

func waitForShutdown(cancel context.CancelFunc, httpServer *fasthttp.Server, st store.Store, ps peerstore.Store) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info.Println("caught interrupt, shutting down...")

	cancel()
	_ = httpServer.Shutdown()
	_ = st.Close()

	if closer, ok := ps.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	os.Exit(0)
}

func openStore() store.Store {
	backend, _ := config.Get("store_backend", "mysql")

	switch backend {
	case "memory":
		return store.NewMemStore()
	default:
		return store.OpenMySQL()
	}
}

func openPeerStore() peerstore.Store {
	section := config.Section("peer_storage")

	backend, _ := section.Get("backend", "memory")
	if backend != "external" && backend != "redis" {
		return peerstore.NewMemory()
	}

	addr, _ := section.Get("redis_addr", "127.0.0.1:6379")
	prefix, _ := section.Get("redis_prefix", "privtracker:")

	return peerstore.NewRedis(peerstore.RedisOptions{
		Network:     "tcp",
		Addr:        addr,
		Prefix:      prefix,
		MaxIdle:     8,
		IdleTimeout: 5 * time.Minute,
		ConnTimeout: 2 * time.Second,
	})
}

func buildRateLimiter() *ratelimit.Limiter {
	enabled, _ := config.GetBool("rate_limiting_enabled", true)

	limits := map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassAnnounce: {MaxRequests: 6, Per: time.Minute},
		ratelimit.ClassScrape:   {MaxRequests: 2, Per: time.Minute},
		ratelimit.ClassAdminAPI: {MaxRequests: 120, Per: time.Minute},
	}

	if !enabled {
		for class := range limits {
			limits[class] = ratelimit.Limit{}
		}
	}

	section := config.Section("rate_limits")

	if n, ok := section.GetInt("announce", 0); ok {
		limits[ratelimit.ClassAnnounce] = ratelimit.Limit{MaxRequests: n, Per: time.Minute}
	}

	if n, ok := section.GetInt("scrape", 0); ok {
		limits[ratelimit.ClassScrape] = ratelimit.Limit{MaxRequests: n, Per: time.Minute}
	}

	if n, ok := section.GetInt("admin_api", 0); ok {
		limits[ratelimit.ClassAdminAPI] = ratelimit.Limit{MaxRequests: n, Per: time.Minute}
	}

	whitelist := config.Section("rate_limits").GetStringSlice("whitelist")

	return ratelimit.New(limits, whitelist)
}

func buildHnrConfig() hnr.Config {
	section := config.Section("hnr")

	enabled, _ := section.GetBool("enabled", true)
	minSeedtime, _ := section.GetInt("min_seedtime", 72*3600)
	gracePeriod, _ := section.GetInt("grace_period_days", 14)
	maxWarnings, _ := section.GetInt("max_warnings", 3)

	return hnr.Config{
		Enabled:     enabled,
		MinSeedtime: time.Duration(minSeedtime) * time.Second,
		GracePeriod: time.Duration(gracePeriod) * 24 * time.Hour,
		MaxWarnings: maxWarnings,
	}
}

func buildBonusConfig() bonus.Config {
	section := config.Section("bonus_points")

	enabled, _ := section.GetBool("enabled", true)
	basePoints, _ := section.GetFloat("base_points", 1)
	conversionRate, _ := section.GetFloat("conversion_rate", 1024*1024)

	return bonus.Config{
		Enabled:       enabled,
		BasePoints:    basePoints,
		BytesPerPoint: uint64(conversionRate),
	}
}

func buildEligibilityConfig() eligibility.Config {
	minRatio, _ := config.GetFloat("min_ratio", 0.5)
	graceBytes, _ := config.GetInt("ratio_grace_bytes", 1024*1024*1024)

	return eligibility.Config{MinRatio: minRatio, GraceBytes: uint64(graceBytes)}
}

func buildHTTPConfig() httpfrontend.Config {
	interval, _ := config.GetInt("announce_interval", 1800)
	jitter, _ := config.GetFloat("announce_jitter", 0.1)
	numWant, _ := config.GetInt("default_numwant", 50)
	maxNumWant, _ := config.GetInt("max_numwant", 50)
	strictPort, _ := config.GetBool("strict_port", false)
	proxyHeader, _ := config.Get("proxy_header", "X-Forwarded-For")

	return httpfrontend.Config{
		AnnounceInterval: time.Duration(interval) * time.Second,
		AnnounceJitter:   jitter,
		DefaultNumWant:   numWant,
		MaxNumWant:       maxNumWant,
		StrictPort:       strictPort,
		ProxyHeader:      proxyHeader,
		Eligibility:      buildEligibilityConfig(),
	}
}

func buildUDPConfig() udpfrontend.Config {
	addr, _ := config.Get("udp_addr", ":34001")
	timeoutSecs, _ := config.GetInt("udp_connection_timeout", 120)
	interval, _ := config.GetInt("announce_interval", 1800)
	jitter, _ := config.GetFloat("announce_jitter", 0.1)
	numWant, _ := config.GetInt("default_numwant", 50)
	maxNumWant, _ := config.GetInt("max_numwant", 50)

	return udpfrontend.Config{
		Addr:             addr,
		ConnectionTTL:    time.Duration(timeoutSecs) * time.Second,
		AnnounceInterval: time.Duration(interval) * time.Second,
		AnnounceJitter:   jitter,
		DefaultNumWant:   numWant,
		MaxNumWant:       maxNumWant,
	}
}
