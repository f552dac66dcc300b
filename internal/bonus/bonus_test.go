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

package bonus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/peerstore"
	"github.com/anacrolix-labs/privtracker/internal/stats"
	"github.com/anacrolix-labs/privtracker/internal/store"
	"github.com/anacrolix-labs/privtracker/internal/swarm"
)

func TestRunOnceAwardsSeedersNotLeechers(t *testing.T) {
	ctx := context.Background()

	st := store.NewMemStore()
	seeder := store.NewUserRecord(1, "seeder-passkey", 0, 0, 0, true, 0, 0)
	st.AddUser(seeder)

	cache := gate.New()
	if err := cache.Reload(ctx, st); err != nil {
		t.Fatalf("reload: %v", err)
	}

	ps := peerstore.NewMemory()
	buf := stats.NewBuffer()
	reg := swarm.NewRegistry(st, ps, nil, buf, false)

	var h bittorrent.InfoHash
	w, err := reg.GetOrCreate(ctx, h, true)
	if err != nil {
		t.Fatalf("get-or-create: %v", err)
	}

	_, err = w.Announce(ctx, swarm.AnnounceRequest{
		UserID: 1, HasUserID: true,
		IP: net.ParseIP("127.0.0.1"), Port: 6881,
		Event: bittorrent.EventStarted, Left: 0,
	}, time.Now())
	if err != nil {
		t.Fatalf("seeder announce: %v", err)
	}

	_, err = w.Announce(ctx, swarm.AnnounceRequest{
		IP: net.ParseIP("127.0.0.2"), Port: 6882,
		Event: bittorrent.EventStarted, Left: 100,
	}, time.Now())
	if err != nil {
		t.Fatalf("leecher announce: %v", err)
	}

	calc := New(Config{Enabled: true, BasePoints: 10, BytesPerPoint: 1024}, st, cache, reg)

	if err := calc.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	u, ok := cache.LookupUserID(1)
	if !ok {
		t.Fatal("expected user 1 in gate cache")
	}

	if u.BonusPoints() <= 0 {
		t.Fatalf("expected positive bonus points, got %f", u.BonusPoints())
	}
}

func TestRedeemInsufficientPoints(t *testing.T) {
	ctx := context.Background()

	st := store.NewMemStore()
	u := store.NewUserRecord(1, "passkey", 0, 0, 0, true, 0, 5)
	st.AddUser(u)

	cache := gate.New()
	if err := cache.Reload(ctx, st); err != nil {
		t.Fatalf("reload: %v", err)
	}

	reg := swarm.NewRegistry(st, peerstore.NewMemory(), nil, stats.NewBuffer(), false)
	calc := New(Config{Enabled: true, BasePoints: 1, BytesPerPoint: 1024}, st, cache, reg)

	if err := calc.Redeem(ctx, 1, 10); err != ErrInsufficientPoints {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	if err := calc.Redeem(ctx, 1, 5); err != nil {
		t.Fatalf("expected redemption to succeed: %v", err)
	}

	if u.Uploaded.Load() != 5*1024 {
		t.Fatalf("expected upload credit of 5120, got %d", u.Uploaded.Load())
	}
}
