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

// Package udpfrontend implements the BEP 15 (UDP tracker protocol) leg.
// Connection ids are issued from crypto/rand and tracked in an expiring
// map rather than derived deterministically. The xxhash scratch table
// below is an additional fast-reject layer in front of that map.
package udpfrontend

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// connIDTable is the single-owner map of issued connection ids to their
// expiry. scratch holds an xxhash
// fingerprint of (ip, connID) pairs known to be currently valid, checked
// before taking the map lock so a flood of replayed/garbage ids never
// contends with real traffic.
type connEntry struct {
	ip     string // net.IP.String(), comparable map key
	expiry time.Time
}

type connIDTable struct {
	mu      sync.RWMutex
	entries map[uint64]connEntry
	scratch map[uint64]struct{}

	ttl time.Duration
}

func newConnIDTable(ttl time.Duration) *connIDTable {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}

	return &connIDTable{
		entries: make(map[uint64]connEntry),
		scratch: make(map[uint64]struct{}),
		ttl:     ttl,
	}
}

func fingerprint(ip net.IP, connID uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], connID)

	h := xxhash.New()
	h.Write(ip.To16())
	h.Write(buf[:])

	return h.Sum64()
}

// issue generates a fresh connection id for ip and records it with an
// expiry of now+ttl.
func (t *connIDTable) issue(ip net.IP, now time.Time) uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is a platform-level problem; fall back to the
		// clock rather than panicking the listener goroutine.
		binary.BigEndian.PutUint64(b[:], uint64(now.UnixNano()))
	}

	id := binary.BigEndian.Uint64(b[:])
	fp := fingerprint(ip, id)
	ipStr := ip.String()

	t.mu.Lock()
	t.entries[id] = connEntry{ip: ipStr, expiry: now.Add(t.ttl)}
	t.scratch[fp] = struct{}{}
	t.mu.Unlock()

	return id
}

// valid reports whether connID was issued to ip and has not expired.
func (t *connIDTable) valid(ip net.IP, connID uint64, now time.Time) bool {
	fp := fingerprint(ip, connID)

	t.mu.RLock()
	_, known := t.scratch[fp]
	t.mu.RUnlock()

	if !known {
		return false
	}

	t.mu.RLock()
	entry, ok := t.entries[connID]
	t.mu.RUnlock()

	return ok && entry.ip == ip.String() && now.Before(entry.expiry)
}

// sweep removes every expired entry, run periodically off util.ContextTick.
// The scratch fingerprint set is rebuilt from the surviving entries so it
// never grows unbounded across the lifetime of the process.
func (t *connIDTable) sweep(now time.Time) (removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.entries {
		if !now.Before(entry.expiry) {
			delete(t.entries, id)
			removed++
		}
	}

	if removed > 0 {
		t.scratch = make(map[uint64]struct{}, len(t.entries))
		for id, entry := range t.entries {
			ip := net.ParseIP(entry.ip)
			t.scratch[fingerprint(ip, id)] = struct{}{}
		}
	}

	return removed
}
