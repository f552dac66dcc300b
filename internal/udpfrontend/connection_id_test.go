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

package udpfrontend

import (
	"net"
	"testing"
	"time"
)

func TestConnIDTableIssueAndValidate(t *testing.T) {
	tbl := newConnIDTable(2 * time.Minute)
	now := time.Now()
	ip := net.ParseIP("203.0.113.5")

	id := tbl.issue(ip, now)

	if !tbl.valid(ip, id, now.Add(time.Minute)) {
		t.Fatal("expected id to be valid within ttl")
	}

	if tbl.valid(ip, id, now.Add(3*time.Minute)) {
		t.Fatal("expected id to be expired past ttl")
	}
}

func TestConnIDTableRejectsWrongIP(t *testing.T) {
	tbl := newConnIDTable(2 * time.Minute)
	now := time.Now()

	id := tbl.issue(net.ParseIP("203.0.113.5"), now)

	if tbl.valid(net.ParseIP("203.0.113.6"), id, now) {
		t.Fatal("expected id issued to one ip not to validate for another")
	}
}

func TestConnIDTableRejectsUnknownID(t *testing.T) {
	tbl := newConnIDTable(2 * time.Minute)

	if tbl.valid(net.ParseIP("203.0.113.5"), 0xdeadbeef, time.Now()) {
		t.Fatal("expected an id that was never issued to be invalid")
	}
}

func TestConnIDTableSweep(t *testing.T) {
	tbl := newConnIDTable(time.Minute)
	now := time.Now()
	ip := net.ParseIP("203.0.113.5")

	id := tbl.issue(ip, now)

	removed := tbl.sweep(now.Add(2 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 entry swept, got %d", removed)
	}

	if tbl.valid(ip, id, now.Add(2*time.Minute)) {
		t.Fatal("expected swept id to no longer validate")
	}
}
