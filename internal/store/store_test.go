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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

func TestMemStoreUserDeltaAndBonus(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	u := NewUserRecord(1, "passkey1", 0, 0, 0, true, 0, 10)
	s.AddUser(u)

	if err := s.ApplyUserDelta(ctx, 1, 100, 50); err != nil {
		t.Fatal(err)
	}

	if got := u.Uploaded.Load(); got != 100 {
		t.Errorf("uploaded = %d, want 100", got)
	}

	if err := s.ApplyBonusPoints(ctx, 1, 5); err != nil {
		t.Fatal(err)
	}

	if got := u.BonusPoints(); got != 15 {
		t.Errorf("bonus points = %v, want 15", got)
	}

	if err := s.RedeemBonusPoints(ctx, 1, 1000, 1); err != nil {
		t.Fatal(err)
	}

	if got := u.BonusPoints(); got != 15 {
		t.Errorf("over-redemption should be rejected, bonus points = %v", got)
	}

	if err := s.RedeemBonusPoints(ctx, 1, 10, 1<<20); err != nil {
		t.Fatal(err)
	}

	if got := u.BonusPoints(); got != 5 {
		t.Errorf("bonus points after redeem = %v, want 5", got)
	}

	if got := u.Uploaded.Load(); got != 100+(1<<20) {
		t.Errorf("uploaded after redeem = %d", got)
	}
}

func TestMemStoreGetOrCreateTorrentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	var hash bittorrent.InfoHash
	for i := range hash {
		hash[i] = byte(i)
	}

	first, err := s.GetOrCreateTorrent(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}

	second, err := s.GetOrCreateTorrent(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Errorf("GetOrCreateTorrent returned different ids: %d, %d", first.ID, second.ID)
	}
}

func TestMemStoreSnatchLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	now := time.Unix(1700000000, 0)

	if err := s.RecordSnatch(ctx, 1, 2, now); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateSnatchSeedtime(ctx, 1, 2, 60, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkHnR(ctx, 1, 2, now.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	snatches, err := s.LoadSnatches(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(snatches) != 1 {
		t.Fatalf("expected 1 snatch, got %d", len(snatches))
	}

	got := snatches[0]
	if got.Seedtime != 60 || !got.HnR {
		t.Errorf("snatch = %+v, want seedtime=60 hnr=true", got)
	}
}

func TestTorrentFreeleechWindow(t *testing.T) {
	var hash bittorrent.InfoHash

	tr := NewTorrentRecord(1, hash, 1, 1)
	now := time.Unix(1700000000, 0)

	if tr.FreeleechActive(now) {
		t.Fatal("should not be freeleech by default")
	}

	tr.SetFreeleechUntil(now.Add(time.Hour))

	if !tr.FreeleechActive(now) {
		t.Error("should be freeleech within the window")
	}

	if tr.FreeleechActive(now.Add(2 * time.Hour)) {
		t.Error("should not be freeleech after the window elapses")
	}

	if tr.EffectiveDownMultiplier(now) != 0 {
		t.Error("effective down multiplier should be 0 while freeleech is active")
	}
}

func TestWhitelistEntryMatches(t *testing.T) {
	var id bittorrent.PeerID
	copy(id[:], "-TR2940-abcdefghijkl")

	var e WhitelistEntry
	e.Length = copy(e.Prefix[:], "-TR2940-"[:8])

	if !e.Matches(id) {
		t.Error("expected prefix match")
	}

	copy(id[:], "-qB4500-abcdefghijkl")
	if e.Matches(id) {
		t.Error("unexpected prefix match")
	}
}
