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

package verify

import (
	"net"
	"testing"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/peerstore"
)

func TestDisabledAlwaysUnknown(t *testing.T) {
	v := New(Config{Enabled: false})

	if got := v.Check(net.ParseIP("127.0.0.1"), 1); got != peerstore.ConnectableUnknown {
		t.Errorf("got %v, want Unknown", got)
	}
}

func TestCheckMissEnqueuesAndReturnsUnknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 100 * time.Millisecond
	v := New(cfg)

	got := v.Check(net.ParseIP("203.0.113.1"), 1) // TEST-NET-3, expected unroutable
	if got != peerstore.ConnectableUnknown {
		t.Errorf("got %v on first check, want Unknown", got)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	v := New(DefaultConfig())

	v.mu.Lock()
	v.cache["stale"] = cacheEntry{connectable: true, expiresAt: time.Now().Add(-time.Minute)}
	v.cache["fresh"] = cacheEntry{connectable: true, expiresAt: time.Now().Add(time.Hour)}
	v.mu.Unlock()

	removed := v.Sweep(time.Now())
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
