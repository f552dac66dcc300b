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

// Package bonus implements the rarity-weighted bonus-point calculator:
// an hourly pass over every active swarm that rewards seeders, plus
// the redemption path that converts points into synthetic upload credit.
package bonus

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/store"
	"github.com/anacrolix-labs/privtracker/internal/swarm"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

const runInterval = 1 * time.Hour

// Config mirrors the bonus_points = {base_points, conversion_rate}
// configuration block. Enabled=false makes the calculator a no-op.
type Config struct {
	Enabled       bool
	BasePoints    float64
	BytesPerPoint uint64
}

// Calculator runs the hourly pass over every swarm the registry knows about.
type Calculator struct {
	cfg   Config
	st    store.Store
	cache *gate.Cache
	reg   *swarm.Registry
}

func New(cfg Config, st store.Store, cache *gate.Cache, reg *swarm.Registry) *Calculator {
	return &Calculator{cfg: cfg, st: st, cache: cache, reg: reg}
}

// RunOnce performs one award pass: for every active swarm, compute this
// tick's per-seeder points and accumulate them per user, then apply once.
func (c *Calculator) RunOnce(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	accum := make(map[uint32]float64)

	for _, w := range c.reg.All() {
		seeders, leechers, err := w.Counts(ctx)
		if err != nil {
			log.Error.Printf("bonus: counts failed for torrent %d: %s", w.TorrentID, err)
			continue
		}

		if seeders == 0 {
			continue
		}

		denom := leechers
		if denom < 1 {
			denom = 1
		}

		points := c.cfg.BasePoints * math.Sqrt(float64(seeders)) / float64(denom)
		if points <= 0 {
			continue
		}

		peers, err := w.AllPeers(ctx)
		if err != nil {
			log.Error.Printf("bonus: peer list failed for torrent %d: %s", w.TorrentID, err)
			continue
		}

		for _, p := range peers {
			if p.IsSeeder && p.HasUserID {
				accum[p.UserID] += points
			}
		}
	}

	// The store owns the balance mutation; the cached UserRecord picks the
	// new value up on the next gate reload (the in-memory store shares the
	// record outright, so there it is visible immediately).
	for userID, points := range accum {
		if err := c.st.ApplyBonusPoints(ctx, userID, points); err != nil {
			log.Error.Printf("bonus: failed to persist points for user %d: %s", userID, err)
			continue
		}

		log.Verbose.Printf("bonus: user %d awarded %.4f points", userID, points)
	}

	if len(accum) > 0 {
		log.Info.Printf("bonus pass: awarded points to %d users", len(accum))
	}

	return nil
}

// OutstandingPoints sums every cached user's current balance, for the
// /metrics gauge.
func (c *Calculator) OutstandingPoints() float64 {
	return c.cache.TotalBonusPoints()
}

// Run drives the periodic pass until ctx is cancelled.
func (c *Calculator) Run(ctx context.Context) {
	util.ContextTick(ctx, runInterval, func() {
		if err := c.RunOnce(ctx); err != nil {
			log.Error.Printf("bonus pass failed: %s", err)
		}
	})
}

var (
	// ErrNotFound is returned by Redeem when the user isn't in the gate cache.
	ErrNotFound = errors.New("bonus: user not found")
	// ErrInsufficientPoints is returned by Redeem when the user's balance is
	// too low to cover the requested spend.
	ErrInsufficientPoints = errors.New("bonus: insufficient points")
)

// Redeem converts points into synthetic upload credit at the configured
// bytes-per-point exchange rate, or returns a policy error.
func (c *Calculator) Redeem(ctx context.Context, userID uint32, points float64) error {
	u, ok := c.cache.LookupUserID(userID)
	if !ok {
		return ErrNotFound
	}

	if u.BonusPoints() < points {
		return ErrInsufficientPoints
	}

	credit := uint64(points * float64(c.cfg.BytesPerPoint))

	// The store's conditional update is the authoritative balance guard; the
	// cached check above only short-circuits the obvious rejection.
	return c.st.RedeemBonusPoints(ctx, userID, points, credit)
}
