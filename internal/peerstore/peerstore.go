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

// Package peerstore defines the pluggable peer-storage backend the
// swarm worker keeps its live peer map behind, plus two implementations: an
// in-process map for single-node deployments and a Redis-backed store for
// shared, multi-node operation. Only one is ever wired into a given
// process; the backends are never mixed.
package peerstore

import (
	"context"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

// Connectable is a tri-state reachability flag.
type Connectable uint8

const (
	ConnectableUnknown Connectable = iota
	ConnectableTrue
	ConnectableFalse
)

// Peer is the swarm-local, volatile peer record.
type Peer struct {
	UserID      uint32 // 0 means anonymous (UDP peers)
	HasUserID   bool
	PeerID      bittorrent.PeerID
	IsSeeder    bool
	Uploaded    uint64
	Downloaded  uint64
	UpdatedAt   time.Time
	AnnounceKey string // 16 hex chars
	Connectable Connectable
}

// Store is the pluggable peer-storage backend the swarm worker keeps its
// live peer map behind. Every method is scoped to a single info_hash's
// swarm.
type Store interface {
	GetPeer(ctx context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey) (*Peer, bool, error)
	PutPeer(ctx context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey, p *Peer) error
	DeletePeer(ctx context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey) error
	GetAllPeers(ctx context.Context, h bittorrent.InfoHash) (map[bittorrent.PeerKey]*Peer, error)
	CountPeers(ctx context.Context, h bittorrent.InfoHash) (int, error)
	CleanupExpired(ctx context.Context, h bittorrent.InfoHash, cutoff time.Time) (removed int, err error)
	GetCounts(ctx context.Context, h bittorrent.InfoHash) (seeders, leechers int, err error)
	Clear(ctx context.Context, h bittorrent.InfoHash) error
}
