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
	"sync"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

// MemStore is an in-process Store used by tests and by any deployment that
// would rather skip MySQL entirely; it keeps the same durable-entity shape
// the MySQL implementation does, just backed by maps under a mutex instead
// of prepared statements.
type MemStore struct {
	mu sync.Mutex

	users         map[uint32]*UserRecord
	torrents      map[bittorrent.InfoHash]*TorrentRecord
	whitelist     []WhitelistEntry
	bans          []BanRecord
	snatches      map[SnatchKey]*SnatchRecord
	nextTorrentID uint32
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:    make(map[uint32]*UserRecord),
		torrents: make(map[bittorrent.InfoHash]*TorrentRecord),
		snatches: make(map[SnatchKey]*SnatchRecord),
	}
}

func (m *MemStore) AddUser(u *UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[u.ID] = u
}

func (m *MemStore) AddTorrent(t *TorrentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.torrents[t.InfoHash] = t

	if t.ID >= m.nextTorrentID {
		m.nextTorrentID = t.ID + 1
	}
}

func (m *MemStore) AddWhitelistEntry(e WhitelistEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.whitelist = append(m.whitelist, e)
}

func (m *MemStore) AddBan(b BanRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bans = append(m.bans, b)
}

func (m *MemStore) LoadUsers(context.Context) ([]*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*UserRecord, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}

	return out, nil
}

func (m *MemStore) LoadTorrents(context.Context) ([]*TorrentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*TorrentRecord, 0, len(m.torrents))
	for _, t := range m.torrents {
		out = append(out, t)
	}

	return out, nil
}

func (m *MemStore) LoadWhitelist(context.Context) ([]WhitelistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]WhitelistEntry(nil), m.whitelist...), nil
}

func (m *MemStore) LoadBans(context.Context) ([]BanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]BanRecord(nil), m.bans...), nil
}

func (m *MemStore) LoadSnatches(context.Context) ([]SnatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SnatchRecord, 0, len(m.snatches))
	for _, s := range m.snatches {
		out = append(out, *s)
	}

	return out, nil
}

func (m *MemStore) GetOrCreateTorrent(_ context.Context, infoHash bittorrent.InfoHash) (*TorrentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.torrents[infoHash]; ok {
		return t, nil
	}

	id := m.nextTorrentID
	m.nextTorrentID++

	t := NewTorrentRecord(id, infoHash, 1, 1)
	m.torrents[infoHash] = t

	return t, nil
}

func (m *MemStore) ApplyUserDelta(_ context.Context, userID uint32, deltaUp, deltaDown uint64) error {
	m.mu.Lock()
	u := m.users[userID]
	m.mu.Unlock()

	if u == nil {
		return nil
	}

	u.Uploaded.Add(deltaUp)
	u.Downloaded.Add(deltaDown)

	return nil
}

func (m *MemStore) ApplyTorrentCounts(_ context.Context, torrentID uint32, seeders, leechers int64, completedDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.torrents {
		if t.ID != torrentID {
			continue
		}

		t.Seeders.Store(seeders)
		t.Leechers.Store(leechers)
		t.Completed.Add(completedDelta)

		return nil
	}

	return nil
}

func (m *MemStore) RecordSnatch(_ context.Context, userID, torrentID uint32, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SnatchKey{UserID: userID, TorrentID: torrentID}

	m.snatches[key] = &SnatchRecord{
		UserID:       userID,
		TorrentID:    torrentID,
		CompletedAt:  completedAt,
		LastAnnounce: completedAt,
	}

	return nil
}

func (m *MemStore) UpdateSnatchSeedtime(_ context.Context, userID, torrentID uint32, seedtimeDelta int64, lastAnnounce time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SnatchKey{UserID: userID, TorrentID: torrentID}

	s, ok := m.snatches[key]
	if !ok {
		return nil
	}

	s.Seedtime += seedtimeDelta
	s.LastAnnounce = lastAnnounce

	return nil
}

func (m *MemStore) MarkHnR(_ context.Context, userID, torrentID uint32, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SnatchKey{UserID: userID, TorrentID: torrentID}
	if s, ok := m.snatches[key]; ok {
		s.HnR = true
	}

	return nil
}

func (m *MemStore) SetUserHnrState(_ context.Context, userID uint32, warnings int32, canLeech bool) error {
	m.mu.Lock()
	u := m.users[userID]
	m.mu.Unlock()

	if u == nil {
		return nil
	}

	u.HnrWarnings.Store(warnings)
	u.CanLeech.Store(canLeech)

	return nil
}

func (m *MemStore) ApplyBonusPoints(_ context.Context, userID uint32, delta float64) error {
	m.mu.Lock()
	u := m.users[userID]
	m.mu.Unlock()

	if u == nil {
		return nil
	}

	u.AddBonusPoints(delta)

	return nil
}

func (m *MemStore) RedeemBonusPoints(_ context.Context, userID uint32, spent float64, uploadCredit uint64) error {
	m.mu.Lock()
	u := m.users[userID]
	m.mu.Unlock()

	if u == nil {
		return nil
	}

	if u.BonusPoints() < spent {
		return nil
	}

	u.AddBonusPoints(-spent)
	u.Uploaded.Add(uploadCredit)

	return nil
}

func (m *MemStore) Close() error { return nil }
