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

// Package gate holds the in-memory reflection of durable state the request
// path consults on every announce/scrape: the passkey table, the client
// whitelist and the ban list. All three are loaded wholesale at startup and
// on reload, swapped into place with atomic.Pointer so readers never block
// a writer and never see a half-built table.
package gate

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/store"
)

// Cache is the request gate. It is the sole writer of its three
// tables; everything else only reads. Readers go through atomic pointer
// loads only, so the hot path never blocks on a reload in progress.
type Cache struct {
	usersByPasskey atomicMap[string, *store.UserRecord]
	usersByID      atomicMap[uint32, *store.UserRecord]
	whitelist      atomicSlice[store.WhitelistEntry]
	bans           atomicSlice[compiledBan]
}

type compiledBan struct {
	store.BanRecord
	prefix netip.Prefix
	isCIDR bool
	addr   netip.Addr
}

func compileBan(b store.BanRecord) compiledBan {
	cb := compiledBan{BanRecord: b}

	if p, err := netip.ParsePrefix(b.IP); err == nil {
		cb.prefix = p
		cb.isCIDR = true

		return cb
	}

	if a, err := netip.ParseAddr(b.IP); err == nil {
		cb.addr = a
	}

	return cb
}

func (cb compiledBan) matches(addr netip.Addr) bool {
	if cb.isCIDR {
		return cb.prefix.Contains(addr)
	}

	return cb.addr == addr
}

func New() *Cache {
	return &Cache{}
}

// Reload rebuilds all three tables from st in one O(n) pass and swaps them
// into place atomically.
func (c *Cache) Reload(ctx context.Context, st store.Store) error {
	users, err := st.LoadUsers(ctx)
	if err != nil {
		return err
	}

	whitelist, err := st.LoadWhitelist(ctx)
	if err != nil {
		return err
	}

	bans, err := st.LoadBans(ctx)
	if err != nil {
		return err
	}

	byPasskey := make(map[string]*store.UserRecord, len(users))
	byID := make(map[uint32]*store.UserRecord, len(users))

	for _, u := range users {
		byPasskey[u.Passkey] = u
		byID[u.ID] = u
	}

	compiled := make([]compiledBan, 0, len(bans))
	for _, b := range bans {
		compiled = append(compiled, compileBan(b))
	}

	c.usersByPasskey.store(byPasskey)
	c.usersByID.store(byID)
	c.whitelist.store(whitelist)
	c.bans.store(compiled)

	log.Info.Printf("gate cache reloaded: %d users, %d whitelist entries, %d bans", len(users), len(whitelist), len(bans))

	return nil
}

// LookupPasskey is the hot-path passkey→user resolution. A miss means
// "Invalid passkey".
func (c *Cache) LookupPasskey(passkey string) (*store.UserRecord, bool) {
	m := c.usersByPasskey.load()
	if m == nil {
		return nil, false
	}

	u, ok := (*m)[passkey]

	return u, ok
}

// LookupUserID is used by background subsystems (HnR, bonus) that only have
// a numeric id handy.
func (c *Cache) LookupUserID(id uint32) (*store.UserRecord, bool) {
	m := c.usersByID.load()
	if m == nil {
		return nil, false
	}

	u, ok := (*m)[id]

	return u, ok
}

// ValidClient reports whether the first 3 bytes of peerID match a
// registered whitelist prefix. Only the first 3 bytes are checked on this
// path even though whitelist entries may carry up to 8 bytes of prefix;
// longer prefixes simply never discriminate here.
func (c *Cache) ValidClient(peerID bittorrent.PeerID) bool {
	const httpPrefixLen = 3

	list := c.whitelist.load()
	if list == nil {
		return false
	}

	for _, e := range *list {
		n := e.Length
		if n > httpPrefixLen {
			n = httpPrefixLen
		}

		if n == 0 {
			continue
		}

		if string(peerID[:n]) == string(e.Prefix[:n]) {
			return true
		}
	}

	return false
}

// BanResult is the outcome of CheckBanned.
type BanResult struct {
	Banned bool
	Reason string
}

// CheckBanned evaluates the ban list against addr at the current wall
// clock; expired bans never match.
func (c *Cache) CheckBanned(addr net.IP) BanResult {
	a, ok := netip.AddrFromSlice(addr.To16())
	if !ok {
		return BanResult{}
	}

	a = a.Unmap()

	list := c.bans.load()
	if list == nil {
		return BanResult{}
	}

	now := time.Now()

	for _, b := range *list {
		if b.Expired(now) {
			continue
		}

		if b.matches(a) {
			return BanResult{Banned: true, Reason: b.Reason}
		}
	}

	return BanResult{}
}

// Counts reports the current table sizes for the metrics exporter; it never
// blocks a concurrent Reload since the maps are read by pointer. hnrs is the
// number of users currently locked out of leeching by the hit-and-run
// detector.
func (c *Cache) Counts() (users, clients, hnrs int) {
	if m := c.usersByPasskey.load(); m != nil {
		users = len(*m)
	}

	if l := c.whitelist.load(); l != nil {
		clients = len(*l)
	}

	if m := c.usersByID.load(); m != nil {
		for _, u := range *m {
			if !u.CanLeech.Load() {
				hnrs++
			}
		}
	}

	return users, clients, hnrs
}

// TotalBonusPoints sums every user's current balance, for the bonus
// calculator's outstanding-points gauge.
func (c *Cache) TotalBonusPoints() float64 {
	m := c.usersByID.load()
	if m == nil {
		return 0
	}

	var total float64
	for _, u := range *m {
		total += u.BonusPoints()
	}

	return total
}
