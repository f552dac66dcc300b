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

package peerstore

import (
	"context"
	"sync"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

// Memory is the single-node peer-storage backend: one RWMutex-guarded map
// per info_hash, created lazily. In practice the swarm worker already
// serializes access to its own info_hash, but Memory is also reachable from
// admin/debug paths so it stays safe on its own.
type Memory struct {
	mu     sync.Mutex
	swarms map[bittorrent.InfoHash]*swarmPeers
}

type swarmPeers struct {
	mu    sync.RWMutex
	peers map[bittorrent.PeerKey]*Peer
}

func NewMemory() *Memory {
	return &Memory{swarms: make(map[bittorrent.InfoHash]*swarmPeers)}
}

func (m *Memory) swarm(h bittorrent.InfoHash) *swarmPeers {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.swarms[h]
	if !ok {
		s = &swarmPeers{peers: make(map[bittorrent.PeerKey]*Peer)}
		m.swarms[h] = s
	}

	return s
}

func (m *Memory) GetPeer(_ context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey) (*Peer, bool, error) {
	s := m.swarm(h)

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[key]

	return p, ok, nil
}

func (m *Memory) PutPeer(_ context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey, p *Peer) error {
	s := m.swarm(h)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers[key] = p

	return nil
}

func (m *Memory) DeletePeer(_ context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey) error {
	s := m.swarm(h)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, key)

	return nil
}

func (m *Memory) GetAllPeers(_ context.Context, h bittorrent.InfoHash) (map[bittorrent.PeerKey]*Peer, error) {
	s := m.swarm(h)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[bittorrent.PeerKey]*Peer, len(s.peers))
	for k, v := range s.peers {
		out[k] = v
	}

	return out, nil
}

func (m *Memory) CountPeers(_ context.Context, h bittorrent.InfoHash) (int, error) {
	s := m.swarm(h)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.peers), nil
}

func (m *Memory) CleanupExpired(_ context.Context, h bittorrent.InfoHash, cutoff time.Time) (int, error) {
	s := m.swarm(h)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for k, p := range s.peers {
		if p.UpdatedAt.Before(cutoff) {
			delete(s.peers, k)
			removed++
		}
	}

	return removed, nil
}

func (m *Memory) GetCounts(_ context.Context, h bittorrent.InfoHash) (seeders, leechers int, err error) {
	s := m.swarm(h)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.peers {
		if p.IsSeeder {
			seeders++
		} else {
			leechers++
		}
	}

	return seeders, leechers, nil
}

func (m *Memory) Clear(_ context.Context, h bittorrent.InfoHash) error {
	m.mu.Lock()
	delete(m.swarms, h)
	m.mu.Unlock()

	return nil
}
