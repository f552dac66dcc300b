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

// Package swarm implements the per-torrent worker and the registry that
// owns the worker population. A Worker is the single-owner actor for its
// info_hash: every mutating method takes peerLock, so announces for the
// same torrent serialize while different torrents proceed in parallel,
// with the peer map itself behind the pluggable peerstore.Store.
package swarm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/peerstore"
	"github.com/anacrolix-labs/privtracker/internal/stats"
	"github.com/anacrolix-labs/privtracker/internal/verify"
)

const (
	peerExpiry        = 1 * time.Hour
	cleanupInterval   = 5 * time.Minute
	idleCheckInterval = 1 * time.Hour
	syncInterval      = 30 * time.Second

	maxSeedtimeClamp = 2 * time.Hour
	defaultNumWant   = 50
	maxNumWant       = 50
)

// ErrKeyRequired and ErrInvalidKey are the two anti-spoof failures.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrKeyRequired Error = "announce key required"
	ErrInvalidKey  Error = "invalid announce key"
)

// AnnounceRequest is the transport-agnostic input to Announce; both the
// HTTP and UDP frontends build one of these from their decoded wire forms.
type AnnounceRequest struct {
	UserID        uint32
	HasUserID     bool // false for anonymous UDP announces
	IP            net.IP
	Port          uint16
	PeerID        bittorrent.PeerID
	Event         bittorrent.Event
	Uploaded      uint64
	Downloaded    uint64
	Left          uint64
	Key           string // anti-spoof announce_key presented by the client, "" if absent
	NumWant       int
	PreferSeeders bool
}

// AnnounceResult is what the worker hands back to the request pipeline.
type AnnounceResult struct {
	Seeders     int
	Leechers    int
	Peers       []SelectedPeer
	DeltaUp     uint64
	DeltaDown   uint64
	AnnounceKey string
}

// SelectedPeer is one entry of the response peer list.
type SelectedPeer struct {
	IP     net.IP
	Port   uint16
	PeerID bittorrent.PeerID
}

// Worker is the single actor for one info_hash.
type Worker struct {
	InfoHash  bittorrent.InfoHash
	TorrentID uint32

	store    peerstore.Store
	verifier *verify.Verifier
	buf      *stats.Buffer

	completed      atomic.Int64
	completedDelta atomic.Int64

	peerLock sync.Mutex

	lastActivity atomic.Int64 // unix seconds, used by the idle-check timer

	stopOnce sync.Once
	stop     chan struct{}
}

func NewWorker(infoHash bittorrent.InfoHash, torrentID uint32, completed int64, ps peerstore.Store, verifier *verify.Verifier, buf *stats.Buffer) *Worker {
	w := &Worker{
		InfoHash:  infoHash,
		TorrentID: torrentID,
		store:     ps,
		verifier:  verifier,
		buf:       buf,
		stop:      make(chan struct{}),
	}

	w.completed.Store(completed)
	w.lastActivity.Store(time.Now().Unix())

	return w
}

func (w *Worker) peerLockAcquire() { w.peerLock.Lock() }
func (w *Worker) peerUnlock()      { w.peerLock.Unlock() }

// Announce processes one announce atomically: anti-spoof check, delta
// computation, peer mutation, then peer selection for the response.
func (w *Worker) Announce(ctx context.Context, req AnnounceRequest, now time.Time) (AnnounceResult, error) {
	w.peerLockAcquire()
	defer w.peerUnlock()

	w.lastActivity.Store(now.Unix())

	key := bittorrent.NewPeerKey(req.IP, req.Port)

	old, hadOld, err := w.store.GetPeer(ctx, w.InfoHash, key)
	if err != nil {
		return AnnounceResult{}, err
	}

	if hadOld && old.AnnounceKey != "" {
		if req.Key == "" {
			return AnnounceResult{}, ErrKeyRequired
		}

		if req.Key != old.AnnounceKey {
			return AnnounceResult{}, ErrInvalidKey
		}
	}

	var prevUp, prevDown uint64
	if hadOld {
		prevUp, prevDown = old.Uploaded, old.Downloaded
	}

	deltaUp := saturatingSub(req.Uploaded, prevUp)
	deltaDown := saturatingSub(req.Downloaded, prevDown)

	announceKey := req.Key
	if hadOld && old.AnnounceKey != "" {
		announceKey = old.AnnounceKey
	} else if announceKey == "" {
		announceKey = generateAnnounceKey()
	}

	if req.Event == bittorrent.EventStopped {
		if err := w.store.DeletePeer(ctx, w.InfoHash, key); err != nil {
			return AnnounceResult{}, err
		}
	} else {
		connectable := peerstore.ConnectableUnknown
		if w.verifier != nil {
			connectable = w.verifier.Check(req.IP, req.Port)
		}

		np := &peerstore.Peer{
			UserID:      req.UserID,
			HasUserID:   req.HasUserID,
			PeerID:      req.PeerID,
			IsSeeder:    req.Left == 0,
			Uploaded:    req.Uploaded,
			Downloaded:  req.Downloaded,
			UpdatedAt:   now,
			AnnounceKey: announceKey,
			Connectable: connectable,
		}

		if err := w.store.PutPeer(ctx, w.InfoHash, key, np); err != nil {
			return AnnounceResult{}, err
		}

		if req.Event == bittorrent.EventCompleted {
			w.completed.Add(1)
			w.completedDelta.Add(1)

			if req.HasUserID && w.buf != nil {
				w.buf.MarkSnatch(req.UserID, w.TorrentID, now)
			}
		}

		// Seedtime accumulates only while reported seeding, clamped at
		// maxSeedtimeClamp per announce. A brand-new peer has no prior
		// announce to measure elapsed time against and contributes 0.
		if np.IsSeeder && hadOld && req.HasUserID && w.buf != nil {
			elapsed := now.Sub(old.UpdatedAt)
			if elapsed < 0 {
				elapsed = 0
			}

			if elapsed > maxSeedtimeClamp {
				elapsed = maxSeedtimeClamp
			}

			if elapsed > 0 {
				w.buf.AddSeedtime(req.UserID, w.TorrentID, int64(elapsed.Seconds()))
			}
		}
	}

	seeders, leechers, err := w.store.GetCounts(ctx, w.InfoHash)
	if err != nil {
		return AnnounceResult{}, err
	}

	peers, err := w.store.GetAllPeers(ctx, w.InfoHash)
	if err != nil {
		return AnnounceResult{}, err
	}

	numWant := req.NumWant
	if numWant <= 0 || numWant > maxNumWant {
		numWant = defaultNumWant
	}

	selected := selectPeers(peers, key, req.Left == 0, req.PreferSeeders, numWant)

	return AnnounceResult{
		Seeders:     seeders,
		Leechers:    leechers,
		Peers:       selected,
		DeltaUp:     deltaUp,
		DeltaDown:   deltaDown,
		AnnounceKey: announceKey,
	}, nil
}

func saturatingSub(reported, previous uint64) uint64 {
	if reported <= previous {
		return 0
	}

	return reported - previous
}

func generateAnnounceKey() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		log.Error.Printf("announce key generation fell back to time-based entropy: %s", err)
		binary.BigEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	}

	return hex.EncodeToString(b[:])
}

// Cleanup removes peers inactive for more than peerExpiry and reports
// whether the swarm is now empty.
func (w *Worker) Cleanup(ctx context.Context, now time.Time) (removed int, empty bool, err error) {
	w.peerLockAcquire()
	defer w.peerUnlock()

	removed, err = w.store.CleanupExpired(ctx, w.InfoHash, now.Add(-peerExpiry))
	if err != nil {
		return removed, false, err
	}

	count, err := w.store.CountPeers(ctx, w.InfoHash)
	if err != nil {
		return removed, false, err
	}

	return removed, count == 0, nil
}

// Idle reports whether the swarm currently has no peers and it's been at
// least idleCheckInterval since the last announce.
func (w *Worker) Idle(ctx context.Context, now time.Time) (bool, error) {
	count, err := w.store.CountPeers(ctx, w.InfoHash)
	if err != nil {
		return false, err
	}

	if count > 0 {
		return false, nil
	}

	last := time.Unix(w.lastActivity.Load(), 0)

	return now.Sub(last) >= idleCheckInterval, nil
}

// SyncSnapshot returns (seeders, leechers, completedDelta) and zeroes the
// delta, for the periodic torrent-stat sync.
func (w *Worker) SyncSnapshot(ctx context.Context) (seeders, leechers int, completedDelta int64, err error) {
	seeders, leechers, err = w.store.GetCounts(ctx, w.InfoHash)
	if err != nil {
		return 0, 0, 0, err
	}

	completedDelta = w.completedDelta.Swap(0)

	return seeders, leechers, completedDelta, nil
}

// Counts returns the current (seeders, leechers) without touching
// completedDelta — used by read-only background passes like the bonus
// calculator that must not interfere with the stats sync cadence.
func (w *Worker) Counts(ctx context.Context) (seeders, leechers int, err error) {
	return w.store.GetCounts(ctx, w.InfoHash)
}

// AllPeers returns a snapshot of every peer currently in this swarm.
func (w *Worker) AllPeers(ctx context.Context) (map[bittorrent.PeerKey]*peerstore.Peer, error) {
	return w.store.GetAllPeers(ctx, w.InfoHash)
}

func (w *Worker) Completed() int64 { return w.completed.Load() }

func (w *Worker) Close() { w.stopOnce.Do(func() { close(w.stop) }) }
