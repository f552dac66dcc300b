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

// Package stats implements the stats pipeline: a lock-free multi-
// writer buffer the request path and the swarm sync path append/overwrite
// into, drained by a single collector goroutine every 10 seconds. The
// buffer itself never talks to the durable store — Collector does, so the
// buffer stays allocation-light and non-blocking on the hot path.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/store"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

const collectInterval = 10 * time.Second

type userDelta struct {
	up   atomic.Uint64
	down atomic.Uint64
}

type torrentSnapshot struct {
	seeders        atomic.Int64
	leechers       atomic.Int64
	completedDelta atomic.Int64
}

// snatchKey identifies a (user, torrent) pair for the seedtime/snatch
// accumulator, mirroring store.SnatchKey without importing store here.
type snatchKey struct {
	userID    uint32
	torrentID uint32
}

type snatchDelta struct {
	seedtimeDelta atomic.Int64

	mu          sync.Mutex
	snatched    bool
	completedAt time.Time
}

// Buffer is the multi-writer single-drainer accumulator.
type Buffer struct {
	mu       sync.Mutex
	users    map[uint32]*userDelta
	torrents map[uint32]*torrentSnapshot
	snatches map[snatchKey]*snatchDelta
}

func NewBuffer() *Buffer {
	return &Buffer{
		users:    make(map[uint32]*userDelta),
		torrents: make(map[uint32]*torrentSnapshot),
		snatches: make(map[snatchKey]*snatchDelta),
	}
}

func (b *Buffer) userCell(userID uint32) *userDelta {
	b.mu.Lock()
	cell, ok := b.users[userID]
	if !ok {
		cell = &userDelta{}
		b.users[userID] = cell
	}
	b.mu.Unlock()

	return cell
}

func (b *Buffer) torrentCell(torrentID uint32) *torrentSnapshot {
	b.mu.Lock()
	cell, ok := b.torrents[torrentID]
	if !ok {
		cell = &torrentSnapshot{}
		b.torrents[torrentID] = cell
	}
	b.mu.Unlock()

	return cell
}

func (b *Buffer) snatchCell(userID, torrentID uint32) *snatchDelta {
	k := snatchKey{userID: userID, torrentID: torrentID}

	b.mu.Lock()
	cell, ok := b.snatches[k]
	if !ok {
		cell = &snatchDelta{}
		b.snatches[k] = cell
	}
	b.mu.Unlock()

	return cell
}

// AddUserDelta accumulates a post-multiplier (up, down) pair for userID.
// Anonymous announces (no user id) never reach this call.
func (b *Buffer) AddUserDelta(userID uint32, up, down uint64) {
	cell := b.userCell(userID)
	cell.up.Add(up)
	cell.down.Add(down)
}

// SetTorrentSnapshot overwrites the (seeders, leechers) snapshot for
// torrentID and accumulates completedDelta: counts are a point-in-time
// gauge, completions are additive.
func (b *Buffer) SetTorrentSnapshot(torrentID uint32, seeders, leechers int64, completedDelta int64) {
	cell := b.torrentCell(torrentID)
	cell.seeders.Store(seeders)
	cell.leechers.Store(leechers)
	cell.completedDelta.Add(completedDelta)
}

// AddSeedtime accumulates a seedtime delta for the (userID, torrentID)
// snatch row. The caller (the swarm worker) has already applied the
// 7200s-per-announce abuse clamp. Anonymous (UDP) announces never reach
// this call.
func (b *Buffer) AddSeedtime(userID, torrentID uint32, seedtimeDelta int64) {
	b.snatchCell(userID, torrentID).seedtimeDelta.Add(seedtimeDelta)
}

// MarkSnatch records that (userID, torrentID) completed at completedAt;
// the snatch row is created once, on the event=completed announce. Only
// the first mark in a drain window sticks.
func (b *Buffer) MarkSnatch(userID, torrentID uint32, completedAt time.Time) {
	cell := b.snatchCell(userID, torrentID)

	cell.mu.Lock()
	if !cell.snatched {
		cell.snatched = true
		cell.completedAt = completedAt
	}
	cell.mu.Unlock()
}

type drainedUser struct {
	userID   uint32
	up, down uint64
}

type drainedTorrent struct {
	torrentID      uint32
	seeders        int64
	leechers       int64
	completedDelta int64
}

type drainedSnatch struct {
	userID        uint32
	torrentID     uint32
	seedtimeDelta int64
	snatched      bool
	completedAt   time.Time
}

// drain atomically snapshots and clears all three tables in one pass.
func (b *Buffer) drain() ([]drainedUser, []drainedTorrent, []drainedSnatch) {
	b.mu.Lock()
	users := b.users
	torrents := b.torrents
	snatches := b.snatches
	b.users = make(map[uint32]*userDelta)
	b.torrents = make(map[uint32]*torrentSnapshot)
	b.snatches = make(map[snatchKey]*snatchDelta)
	b.mu.Unlock()

	drainedUsers := make([]drainedUser, 0, len(users))
	for id, cell := range users {
		up, down := cell.up.Load(), cell.down.Load()
		if up == 0 && down == 0 {
			continue
		}

		drainedUsers = append(drainedUsers, drainedUser{userID: id, up: up, down: down})
	}

	drainedTorrents := make([]drainedTorrent, 0, len(torrents))
	for id, cell := range torrents {
		drainedTorrents = append(drainedTorrents, drainedTorrent{
			torrentID:      id,
			seeders:        cell.seeders.Load(),
			leechers:       cell.leechers.Load(),
			completedDelta: cell.completedDelta.Load(),
		})
	}

	drainedSnatches := make([]drainedSnatch, 0, len(snatches))
	for k, cell := range snatches {
		seedtimeDelta := cell.seedtimeDelta.Load()

		cell.mu.Lock()
		snatched, completedAt := cell.snatched, cell.completedAt
		cell.mu.Unlock()

		if seedtimeDelta == 0 && !snatched {
			continue
		}

		drainedSnatches = append(drainedSnatches, drainedSnatch{
			userID:        k.userID,
			torrentID:     k.torrentID,
			seedtimeDelta: seedtimeDelta,
			snatched:      snatched,
			completedAt:   completedAt,
		})
	}

	return drainedUsers, drainedTorrents, drainedSnatches
}

// Collector periodically flushes a Buffer to the durable store.
type Collector struct {
	buf *Buffer
	st  store.Store
}

func NewCollector(buf *Buffer, st store.Store) *Collector {
	return &Collector{buf: buf, st: st}
}

// Flush drains the buffer once and applies every entry to the store.
// Per-entry failures are logged and skipped; the unflushed delta is lost,
// an accepted bounded data-loss window (the tracker prefers availability
// over exact per-announce durability).
func (c *Collector) Flush(ctx context.Context) {
	users, torrents, snatches := c.buf.drain()

	for _, u := range users {
		if err := c.st.ApplyUserDelta(ctx, u.userID, u.up, u.down); err != nil {
			log.Error.Printf("stats flush: user %d delta lost: %s", u.userID, err)
		}
	}

	for _, t := range torrents {
		if err := c.st.ApplyTorrentCounts(ctx, t.torrentID, t.seeders, t.leechers, t.completedDelta); err != nil {
			log.Error.Printf("stats flush: torrent %d counts lost: %s", t.torrentID, err)
		}
	}

	for _, s := range snatches {
		// RecordSnatch first: a completed-and-seeding announce in the same
		// drain window needs the row to exist before the seedtime update
		// applies on top of it.
		if s.snatched {
			if err := c.st.RecordSnatch(ctx, s.userID, s.torrentID, s.completedAt); err != nil {
				log.Error.Printf("stats flush: snatch (user=%d torrent=%d) lost: %s", s.userID, s.torrentID, err)
			}
		}

		if s.seedtimeDelta != 0 {
			if err := c.st.UpdateSnatchSeedtime(ctx, s.userID, s.torrentID, s.seedtimeDelta, time.Now()); err != nil {
				log.Error.Printf("stats flush: seedtime (user=%d torrent=%d) lost: %s", s.userID, s.torrentID, err)
			}
		}
	}
}

// Run flushes every 10 seconds until ctx is cancelled, with one final
// flush on exit so shutdown doesn't drop an in-flight window.
func (c *Collector) Run(ctx context.Context) {
	util.ContextTick(ctx, collectInterval, func() { c.Flush(ctx) })
	c.Flush(context.Background())
}
