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

// Package hnr implements the hit-and-run detector: a periodic scan of
// snatch records that marks violations, issues warnings and disables leech
// once a user crosses the configured threshold.
package hnr

import (
	"context"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/store"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

const runInterval = 6 * time.Hour

type Config struct {
	Enabled     bool
	MinSeedtime time.Duration
	GracePeriod time.Duration
	MaxWarnings int
}

// Detector runs the periodic scan against st, updating both the durable rows
// and the live gate-cache UserRecords so the new can_leech state is visible
// to the request path immediately, without waiting for a gate reload.
type Detector struct {
	cfg   Config
	st    store.Store
	cache *gate.Cache
}

func New(cfg Config, st store.Store, cache *gate.Cache) *Detector {
	return &Detector{cfg: cfg, st: st, cache: cache}
}

// RunOnce performs one full detection pass. It's exported so the
// admin-triggered "run now" action (outside this spec's scope) can reuse it
// directly instead of waiting for the next scheduled tick.
func (d *Detector) RunOnce(ctx context.Context) error {
	if !d.cfg.Enabled {
		return nil
	}

	now := time.Now()

	snatches, err := d.st.LoadSnatches(ctx)
	if err != nil {
		return err
	}

	violationsByUser := make(map[uint32]int)

	cutoff := now.Add(-d.cfg.GracePeriod)

	for _, s := range snatches {
		if s.HnR {
			continue
		}

		if !s.CompletedAt.Before(cutoff) {
			continue
		}

		if time.Duration(s.Seedtime)*time.Second >= d.cfg.MinSeedtime {
			continue
		}

		if err := d.st.MarkHnR(ctx, s.UserID, s.TorrentID, now); err != nil {
			log.Error.Printf("hnr: failed to mark snatch (user=%d torrent=%d): %s", s.UserID, s.TorrentID, err)
			continue
		}

		violationsByUser[s.UserID]++
	}

	for userID, newViolations := range violationsByUser {
		d.applyWarnings(ctx, userID, newViolations)
	}

	if len(violationsByUser) > 0 {
		log.Info.Printf("hnr pass: %d users received new violations", len(violationsByUser))
	}

	return nil
}

func (d *Detector) applyWarnings(ctx context.Context, userID uint32, newViolations int) {
	u, ok := d.cache.LookupUserID(userID)
	if !ok {
		log.Warning.Printf("hnr: user %d not present in gate cache, skipping warning update", userID)
		return
	}

	total := u.HnrWarnings.Add(int32(newViolations))
	canLeech := int(total) < d.cfg.MaxWarnings

	u.CanLeech.Store(canLeech)

	if err := d.st.SetUserHnrState(ctx, userID, total, canLeech); err != nil {
		log.Error.Printf("hnr: failed to persist warning state for user %d: %s", userID, err)
	}
}

// ClearWarnings implements the admin clear-warnings action: resets
// both durable and cached state to zero/true.
func (d *Detector) ClearWarnings(ctx context.Context, userID uint32) error {
	if u, ok := d.cache.LookupUserID(userID); ok {
		u.HnrWarnings.Store(0)
		u.CanLeech.Store(true)
	}

	return d.st.SetUserHnrState(ctx, userID, 0, true)
}

// Run drives the periodic scan until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	util.ContextTick(ctx, runInterval, func() {
		if err := d.RunOnce(ctx); err != nil {
			log.Error.Printf("hnr pass failed: %s", err)
		}
	})
}
