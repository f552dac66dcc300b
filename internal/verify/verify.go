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

// Package verify implements the asynchronous peer-reachability prober:
// a bounded pool of TCP dialers that populate a TTL cache the swarm
// worker consults when ordering peers.
package verify

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/peerstore"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

type Config struct {
	Enabled        bool
	ConnectTimeout time.Duration
	CacheTTL       time.Duration
	MaxConcurrent  int
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		ConnectTimeout: 3 * time.Second,
		CacheTTL:       1 * time.Hour,
		MaxConcurrent:  50,
	}
}

type cacheEntry struct {
	connectable bool
	expiresAt   time.Time
}

// Verifier probes peer reachability off the request path.
type Verifier struct {
	cfg Config

	mu    sync.RWMutex
	cache map[string]cacheEntry

	sem util.Semaphore

	queued sync.Map // dedups in-flight probes for the same addr
}

func New(cfg Config) *Verifier {
	return &Verifier{
		cfg:   cfg,
		cache: make(map[string]cacheEntry),
		sem:   util.NewSizedSemaphore(util.Max(1, cfg.MaxConcurrent)),
	}
}

func addrKey(ip net.IP, port uint16) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
}

// Check returns the cached reachability, enqueuing a fresh probe on a miss
// or expiry. When disabled it always reports Unknown and never probes.
func (v *Verifier) Check(ip net.IP, port uint16) peerstore.Connectable {
	if !v.cfg.Enabled {
		return peerstore.ConnectableUnknown
	}

	key := addrKey(ip, port)
	now := time.Now()

	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()

	if ok && now.Before(entry.expiresAt) {
		if entry.connectable {
			return peerstore.ConnectableTrue
		}

		return peerstore.ConnectableFalse
	}

	v.enqueue(key, ip, port)

	return peerstore.ConnectableUnknown
}

func (v *Verifier) enqueue(key string, ip net.IP, port uint16) {
	if _, alreadyQueued := v.queued.LoadOrStore(key, struct{}{}); alreadyQueued {
		return
	}

	go v.probe(key, ip, port)
}

func (v *Verifier) probe(key string, ip net.IP, port uint16) {
	defer v.queued.Delete(key)

	util.TakeSemaphore(v.sem)
	defer util.ReturnSemaphore(v.sem)

	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(int(port))))

	connectable := err == nil
	if connectable {
		conn.Close()
	}

	v.mu.Lock()
	v.cache[key] = cacheEntry{connectable: connectable, expiresAt: time.Now().Add(v.cfg.CacheTTL)}
	v.mu.Unlock()
}

// Sweep drops expired cache entries; run it periodically from a background
// ticker the way the gate cache and rate limiter are swept.
func (v *Verifier) Sweep(now time.Time) (removed int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for k, e := range v.cache {
		if now.After(e.expiresAt) {
			delete(v.cache, k)
			removed++
		}
	}

	return removed
}

// Run drives the periodic sweep until ctx is cancelled.
func (v *Verifier) Run(ctx context.Context) {
	util.ContextTick(ctx, v.cfg.CacheTTL, func() {
		removed := v.Sweep(time.Now())
		if removed > 0 {
			log.Verbose.Printf("verifier cache swept %d expired entries", removed)
		}
	})
}
