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

package swarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/peerstore"
	"github.com/anacrolix-labs/privtracker/internal/stats"
	"github.com/anacrolix-labs/privtracker/internal/store"
	"github.com/anacrolix-labs/privtracker/internal/util"
	"github.com/anacrolix-labs/privtracker/internal/verify"
)

// ErrTorrentNotRegistered is returned on a miss when whitelist enforcement
// is on.
var ErrTorrentNotRegistered = errors.New("swarm: torrent not registered")

// Registry maps info_hash -> worker and owns worker lifecycle.
type Registry struct {
	st       store.Store
	ps       peerstore.Store
	verifier *verify.Verifier
	buf      *stats.Buffer

	enforceWhitelist bool

	mu       sync.Mutex
	workers  map[bittorrent.InfoHash]*Worker
	torrents map[bittorrent.InfoHash]*store.TorrentRecord
}

func NewRegistry(st store.Store, ps peerstore.Store, verifier *verify.Verifier, buf *stats.Buffer, enforceWhitelist bool) *Registry {
	return &Registry{
		st:               st,
		ps:               ps,
		verifier:         verifier,
		buf:              buf,
		enforceWhitelist: enforceWhitelist,
		workers:          make(map[bittorrent.InfoHash]*Worker),
		torrents:         make(map[bittorrent.InfoHash]*store.TorrentRecord),
	}
}

// LoadExisting seeds the registry with workers for every already-durable
// torrent, so a fresh process resumes serving known swarms without having
// to wait for the first announce to recreate each worker.
func (r *Registry) LoadExisting(torrents []*store.TorrentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range torrents {
		r.workers[t.InfoHash] = NewWorker(t.InfoHash, t.ID, t.Completed.Load(), r.ps, r.verifier, r.buf)
		r.torrents[t.InfoHash] = t
	}
}

// TorrentRecord returns the cached durable torrent row for infoHash, the
// way the pipeline's multiplier/freeleech lookup needs it without a
// per-announce store round trip.
func (r *Registry) TorrentRecord(infoHash bittorrent.InfoHash) (*store.TorrentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.torrents[infoHash]

	return t, ok
}

// GetOrCreate looks up the worker, or race-safely spawns one,
// registering a new torrent row unless whitelist enforcement requires a
// pre-existing one. seeding reports whether the triggering announce has
// left == 0: only a seeder revives a pruned torrent, while a leecher
// announcing a still-pruned torrent is rejected outright.
func (r *Registry) GetOrCreate(ctx context.Context, infoHash bittorrent.InfoHash, seeding bool) (*Worker, error) {
	r.mu.Lock()
	w, ok := r.workers[infoHash]
	r.mu.Unlock()

	if ok {
		return w, nil
	}

	// The registry keeps the durable row cached across the worker's
	// lifetime, so a torrent pruned by the idle check is still known here;
	// only a hash the registry has never seen goes to the store.
	r.mu.Lock()
	rec, hasRec := r.torrents[infoHash]
	r.mu.Unlock()

	if !hasRec {
		if r.enforceWhitelist {
			torrents, err := r.st.LoadTorrents(ctx)
			if err != nil {
				return nil, err
			}

			found := false

			for _, t := range torrents {
				if t.InfoHash == infoHash {
					found = true
					break
				}
			}

			if !found {
				return nil, ErrTorrentNotRegistered
			}
		}

		var err error

		rec, err = r.st.GetOrCreateTorrent(ctx, infoHash)
		if err != nil {
			return nil, err
		}
	}

	// A worker only disappears when runIdleCheck pruned it. A seeder's
	// announce makes the swarm servable again, so it clears the mark
	// (unprune-on-seed); a leecher has nothing to leech from and is turned
	// away until a seeder returns.
	if rec.Pruned.Load() {
		if !seeding {
			return nil, ErrTorrentNotRegistered
		}

		rec.Pruned.Store(false)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have won the race while we were doing I/O above.
	if existing, ok := r.workers[infoHash]; ok {
		return existing, nil
	}

	w = NewWorker(infoHash, rec.ID, rec.Completed.Load(), r.ps, r.verifier, r.buf)
	r.workers[infoHash] = w
	r.torrents[infoHash] = rec

	return w, nil
}

// Lookup is a plain O(1) read with no spawn, used by scrape and by
// background jobs that only want existing swarms.
func (r *Registry) Lookup(infoHash bittorrent.InfoHash) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[infoHash]

	return w, ok
}

// AllTorrentRecords returns a snapshot of every durable torrent row the
// registry currently tracks, for the metrics exporter's swarm/peer gauges.
func (r *Registry) AllTorrentRecords() []*store.TorrentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*store.TorrentRecord, 0, len(r.torrents))
	for _, t := range r.torrents {
		out = append(out, t)
	}

	return out
}

// All returns a snapshot of every active worker.
func (r *Registry) All() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}

	return out
}

// runCleanup, runIdleCheck and runSync are the three scheduled
// maintenance events every worker population needs.

func (r *Registry) runCleanup(ctx context.Context) {
	for _, w := range r.All() {
		removed, _, err := w.Cleanup(ctx, time.Now())
		if err != nil {
			log.Error.Printf("peer cleanup failed for %s: %s", w.InfoHash, err)
			continue
		}

		if removed > 0 {
			log.Verbose.Printf("swarm %s: cleaned up %d expired peers", w.InfoHash, removed)
		}
	}
}

func (r *Registry) runIdleCheck(ctx context.Context) {
	for _, w := range r.All() {
		idle, err := w.Idle(ctx, time.Now())
		if err != nil {
			log.Error.Printf("idle check failed for %s: %s", w.InfoHash, err)
			continue
		}

		if !idle {
			continue
		}

		r.terminate(ctx, w)
	}
}

func (r *Registry) terminate(ctx context.Context, w *Worker) {
	seeders, leechers, completedDelta, err := w.SyncSnapshot(ctx)
	if err == nil {
		r.buf.SetTorrentSnapshot(w.TorrentID, int64(seeders), int64(leechers), completedDelta)
		r.refreshCachedCounts(w, seeders, leechers)
	}

	r.mu.Lock()
	delete(r.workers, w.InfoHash)
	if t, ok := r.torrents[w.InfoHash]; ok {
		t.Pruned.Store(true)
	}
	r.mu.Unlock()

	w.Close()

	log.Verbose.Printf("swarm %s terminated (idle)", w.InfoHash)
}

func (r *Registry) runSync(ctx context.Context) {
	for _, w := range r.All() {
		seeders, leechers, completedDelta, err := w.SyncSnapshot(ctx)
		if err != nil {
			log.Error.Printf("sync failed for %s: %s", w.InfoHash, err)
			continue
		}

		r.buf.SetTorrentSnapshot(w.TorrentID, int64(seeders), int64(leechers), completedDelta)
		r.refreshCachedCounts(w, seeders, leechers)
	}
}

// refreshCachedCounts keeps the cached torrent row's seeder/leecher gauges
// current for scrape and metrics reads. Only the idempotent count fields are
// touched here; the additive completed counter flows exclusively through the
// stats buffer so it is applied once.
func (r *Registry) refreshCachedCounts(w *Worker, seeders, leechers int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.torrents[w.InfoHash]; ok {
		t.Seeders.Store(int64(seeders))
		t.Leechers.Store(int64(leechers))
	}
}

// Run drives the three scheduled maintenance loops until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(3)

	go func() {
		defer wg.Done()
		util.ContextTick(ctx, cleanupInterval, func() { r.runCleanup(ctx) })
	}()

	go func() {
		defer wg.Done()
		util.ContextTick(ctx, idleCheckInterval, func() { r.runIdleCheck(ctx) })
	}()

	go func() {
		defer wg.Done()
		util.ContextTick(ctx, syncInterval, func() { r.runSync(ctx) })
	}()

	wg.Wait()
}
