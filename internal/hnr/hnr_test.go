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

package hnr

import (
	"context"
	"testing"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/store"
)

func newDetector(t *testing.T, cfg Config) (*Detector, *store.MemStore, *gate.Cache) {
	t.Helper()

	ctx := context.Background()
	st := store.NewMemStore()
	cache := gate.New()

	if err := cache.Reload(ctx, st); err != nil {
		t.Fatalf("reload: %v", err)
	}

	return New(cfg, st, cache), st, cache
}

func TestRunOnceMarksPastGraceUnderSeedtime(t *testing.T) {
	ctx := context.Background()

	cfg := Config{Enabled: true, MinSeedtime: 72 * time.Hour, GracePeriod: 14 * 24 * time.Hour, MaxWarnings: 3}
	d, st, cache := newDetector(t, cfg)

	u := store.NewUserRecord(1, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 0, 0, 0, true, 0, 0)
	st.AddUser(u)

	if err := cache.Reload(ctx, st); err != nil {
		t.Fatalf("reload: %v", err)
	}

	completedAt := time.Now().Add(-20 * 24 * time.Hour)
	if err := st.RecordSnatch(ctx, 1, 1, completedAt); err != nil {
		t.Fatalf("record snatch: %v", err)
	}

	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snatches, err := st.LoadSnatches(ctx)
	if err != nil {
		t.Fatalf("load snatches: %v", err)
	}

	if len(snatches) != 1 || !snatches[0].HnR {
		t.Fatalf("expected snatch to be marked hnr, got %+v", snatches)
	}

	cu, ok := cache.LookupUserID(1)
	if !ok {
		t.Fatal("expected user 1 in gate cache")
	}

	if cu.HnrWarnings.Load() != 1 {
		t.Fatalf("expected 1 warning, got %d", cu.HnrWarnings.Load())
	}

	if !cu.CanLeech.Load() {
		t.Fatal("expected can_leech still true below max_warnings")
	}
}

func TestRunOnceSkipsSufficientSeedtimeAndWithinGrace(t *testing.T) {
	ctx := context.Background()

	cfg := Config{Enabled: true, MinSeedtime: 72 * time.Hour, GracePeriod: 14 * 24 * time.Hour, MaxWarnings: 3}
	d, st, cache := newDetector(t, cfg)

	u := store.NewUserRecord(1, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 0, 0, 0, true, 0, 0)
	st.AddUser(u)

	if err := cache.Reload(ctx, st); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// Past grace, but enough seedtime already accumulated: must not be marked.
	completedAt := time.Now().Add(-20 * 24 * time.Hour)
	if err := st.RecordSnatch(ctx, 1, 1, completedAt); err != nil {
		t.Fatalf("record snatch: %v", err)
	}

	if err := st.UpdateSnatchSeedtime(ctx, 1, 1, int64((73 * time.Hour).Seconds()), time.Now()); err != nil {
		t.Fatalf("update seedtime: %v", err)
	}

	// Still within grace period, no seedtime: must not be marked either.
	if err := st.RecordSnatch(ctx, 1, 2, time.Now()); err != nil {
		t.Fatalf("record snatch: %v", err)
	}

	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snatches, err := st.LoadSnatches(ctx)
	if err != nil {
		t.Fatalf("load snatches: %v", err)
	}

	for _, s := range snatches {
		if s.HnR {
			t.Fatalf("did not expect snatch (user=%d torrent=%d) to be marked hnr", s.UserID, s.TorrentID)
		}
	}

	cu, ok := cache.LookupUserID(1)
	if !ok {
		t.Fatal("expected user 1 in gate cache")
	}

	if cu.HnrWarnings.Load() != 0 {
		t.Fatalf("expected no warnings, got %d", cu.HnrWarnings.Load())
	}
}

func TestWarningsDisableLeechAtThreshold(t *testing.T) {
	ctx := context.Background()

	cfg := Config{Enabled: true, MinSeedtime: 72 * time.Hour, GracePeriod: 14 * 24 * time.Hour, MaxWarnings: 2}
	d, st, cache := newDetector(t, cfg)

	u := store.NewUserRecord(1, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 0, 0, 0, true, 0, 0)
	st.AddUser(u)

	if err := cache.Reload(ctx, st); err != nil {
		t.Fatalf("reload: %v", err)
	}

	completedAt := time.Now().Add(-20 * 24 * time.Hour)

	for torrentID := uint32(1); torrentID <= 2; torrentID++ {
		if err := st.RecordSnatch(ctx, 1, torrentID, completedAt); err != nil {
			t.Fatalf("record snatch: %v", err)
		}
	}

	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	cu, ok := cache.LookupUserID(1)
	if !ok {
		t.Fatal("expected user 1 in gate cache")
	}

	if cu.HnrWarnings.Load() != 2 {
		t.Fatalf("expected 2 warnings, got %d", cu.HnrWarnings.Load())
	}

	if cu.CanLeech.Load() {
		t.Fatal("expected can_leech false at max_warnings threshold")
	}

	if u.HnrWarnings.Load() != 2 || u.CanLeech.Load() {
		t.Fatalf("expected durable store row to match cache state, got warnings=%d can_leech=%v",
			u.HnrWarnings.Load(), u.CanLeech.Load())
	}
}

func TestClearWarningsResetsState(t *testing.T) {
	ctx := context.Background()

	cfg := Config{Enabled: true, MinSeedtime: 72 * time.Hour, GracePeriod: 14 * 24 * time.Hour, MaxWarnings: 1}
	d, st, cache := newDetector(t, cfg)

	u := store.NewUserRecord(1, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 0, 0, 0, true, 0, 0)
	st.AddUser(u)

	if err := cache.Reload(ctx, st); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := st.RecordSnatch(ctx, 1, 1, time.Now().Add(-20*24*time.Hour)); err != nil {
		t.Fatalf("record snatch: %v", err)
	}

	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if err := d.ClearWarnings(ctx, 1); err != nil {
		t.Fatalf("clear warnings: %v", err)
	}

	cu, ok := cache.LookupUserID(1)
	if !ok {
		t.Fatal("expected user 1 in gate cache")
	}

	if cu.HnrWarnings.Load() != 0 || !cu.CanLeech.Load() {
		t.Fatalf("expected reset state, got warnings=%d can_leech=%v", cu.HnrWarnings.Load(), cu.CanLeech.Load())
	}

	if u.HnrWarnings.Load() != 0 || !u.CanLeech.Load() {
		t.Fatalf("expected durable store reset, got warnings=%d can_leech=%v", u.HnrWarnings.Load(), u.CanLeech.Load())
	}
}

func TestRunOnceDisabledIsNoop(t *testing.T) {
	ctx := context.Background()

	cfg := Config{Enabled: false, MinSeedtime: 72 * time.Hour, GracePeriod: 14 * 24 * time.Hour, MaxWarnings: 3}
	d, st, _ := newDetector(t, cfg)

	if err := st.RecordSnatch(ctx, 1, 1, time.Now().Add(-20*24*time.Hour)); err != nil {
		t.Fatalf("record snatch: %v", err)
	}

	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snatches, err := st.LoadSnatches(ctx)
	if err != nil {
		t.Fatalf("load snatches: %v", err)
	}

	if snatches[0].HnR {
		t.Fatal("expected disabled detector to leave snatches untouched")
	}
}
