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
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

// Store is the durable backing the tracker reads its world from at boot and
// writes its accounting to in the background. Everything on the announce
// hot path runs against the in-memory caches built from these loads. The one
// synchronous use from a request is the swarm registry's first sight of an
// info_hash, which calls GetOrCreateTorrent (and LoadTorrents when whitelist
// enforcement is on).
type Store interface {
	LoadUsers(ctx context.Context) ([]*UserRecord, error)
	LoadTorrents(ctx context.Context) ([]*TorrentRecord, error)
	LoadWhitelist(ctx context.Context) ([]WhitelistEntry, error)
	LoadBans(ctx context.Context) ([]BanRecord, error)
	LoadSnatches(ctx context.Context) ([]SnatchRecord, error)

	// GetOrCreateTorrent returns the existing torrents row for infoHash, or
	// inserts a new one. Whether a pruned torrent may be revived is the
	// swarm registry's decision, not the store's.
	GetOrCreateTorrent(ctx context.Context, infoHash bittorrent.InfoHash) (*TorrentRecord, error)

	// ApplyUserDelta persists the accounting deltas the stats buffer
	// accumulated for one user since the last flush.
	ApplyUserDelta(ctx context.Context, userID uint32, deltaUp, deltaDown uint64) error

	// ApplyTorrentCounts persists the cached seeder/leecher/completed
	// counters the swarm worker maintains for one torrent.
	ApplyTorrentCounts(ctx context.Context, torrentID uint32, seeders, leechers int64, completedDelta int64) error

	RecordSnatch(ctx context.Context, userID, torrentID uint32, completedAt time.Time) error
	UpdateSnatchSeedtime(ctx context.Context, userID, torrentID uint32, seedtimeDelta int64, lastAnnounce time.Time) error
	MarkHnR(ctx context.Context, userID, torrentID uint32, at time.Time) error

	SetUserHnrState(ctx context.Context, userID uint32, warnings int32, canLeech bool) error
	ApplyBonusPoints(ctx context.Context, userID uint32, delta float64) error
	RedeemBonusPoints(ctx context.Context, userID uint32, spent float64, uploadCredit uint64) error

	Close() error
}
