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

// Package store defines the durable entities and the Store interface
// every background subsystem and the request path write through. UserRecord
// and TorrentRecord hold their hot fields as atomics so the gate cache and
// swarm workers can read/update them without taking a lock per announce.
package store

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

// UserRecord is the in-memory reflection of a users row. ID/Passkey are
// immutable after load; everything else is mutated by the stats collector,
// the HnR detector or the bonus calculator.
type UserRecord struct {
	ID      uint32
	Passkey string

	Uploaded   atomic.Uint64
	Downloaded atomic.Uint64

	HnrWarnings atomic.Int32
	CanLeech    atomic.Bool

	// RequiredRatio/BonusPoints store float64 bit patterns; a required
	// ratio of 0 means "use the global min_ratio".
	requiredRatioBits atomic.Uint64
	bonusPointsBits   atomic.Uint64
}

func NewUserRecord(id uint32, passkey string, uploaded, downloaded uint64, hnrWarnings int, canLeech bool, requiredRatio, bonusPoints float64) *UserRecord {
	u := &UserRecord{ID: id, Passkey: passkey}
	u.Uploaded.Store(uploaded)
	u.Downloaded.Store(downloaded)
	u.HnrWarnings.Store(int32(hnrWarnings))
	u.CanLeech.Store(canLeech)
	u.SetRequiredRatio(requiredRatio)
	u.SetBonusPoints(bonusPoints)

	return u
}

func (u *UserRecord) RequiredRatio() float64 {
	return math.Float64frombits(u.requiredRatioBits.Load())
}

func (u *UserRecord) SetRequiredRatio(r float64) {
	u.requiredRatioBits.Store(math.Float64bits(r))
}

func (u *UserRecord) BonusPoints() float64 {
	return math.Float64frombits(u.bonusPointsBits.Load())
}

func (u *UserRecord) SetBonusPoints(p float64) {
	u.bonusPointsBits.Store(math.Float64bits(p))
}

// AddBonusPoints is a CAS loop so concurrent bonus-calculator ticks (there is
// normally only one, but redemption races with the next pass) never lose an
// increment.
func (u *UserRecord) AddBonusPoints(delta float64) {
	for {
		old := u.bonusPointsBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)

		if u.bonusPointsBits.CompareAndSwap(old, next) {
			return
		}
	}
}

// TorrentRecord is the in-memory reflection of a torrents row.
type TorrentRecord struct {
	ID       uint32
	InfoHash bittorrent.InfoHash

	Seeders   atomic.Int64
	Leechers  atomic.Int64
	Completed atomic.Int64

	Freeleech      atomic.Bool
	freeleechUntil atomic.Int64 // unix seconds, 0 = none

	// Pruned is set when the registry's idle check retires this torrent's
	// worker, cleared when a seeder's announce revives it.
	Pruned atomic.Bool

	upMultiplierBits   atomic.Uint64
	downMultiplierBits atomic.Uint64
}

func NewTorrentRecord(id uint32, infoHash bittorrent.InfoHash, upMult, downMult float64) *TorrentRecord {
	t := &TorrentRecord{ID: id, InfoHash: infoHash}
	t.SetUpMultiplier(upMult)
	t.SetDownMultiplier(downMult)

	return t
}

func (t *TorrentRecord) UpMultiplier() float64 {
	return math.Float64frombits(t.upMultiplierBits.Load())
}

func (t *TorrentRecord) SetUpMultiplier(v float64) {
	t.upMultiplierBits.Store(math.Float64bits(v))
}

func (t *TorrentRecord) DownMultiplier() float64 {
	return math.Float64frombits(t.downMultiplierBits.Load())
}

func (t *TorrentRecord) SetDownMultiplier(v float64) {
	t.downMultiplierBits.Store(math.Float64bits(v))
}

func (t *TorrentRecord) SetFreeleechUntil(until time.Time) {
	t.freeleechUntil.Store(until.Unix())
}

// FreeleechActive is true if the torrent is permanently marked freeleech, or
// its timed freeleech window has not yet elapsed.
func (t *TorrentRecord) FreeleechActive(now time.Time) bool {
	if t.Freeleech.Load() {
		return true
	}

	until := t.freeleechUntil.Load()

	return until > 0 && now.Unix() < until
}

// EffectiveDownMultiplier is 0 while freeleech is active.
func (t *TorrentRecord) EffectiveDownMultiplier(now time.Time) float64 {
	if t.FreeleechActive(now) {
		return 0
	}

	return t.DownMultiplier()
}

// SnatchKey identifies a unique (user, torrent) snatch row.
type SnatchKey struct {
	UserID    uint32
	TorrentID uint32
}

type SnatchRecord struct {
	UserID       uint32
	TorrentID    uint32
	CompletedAt  time.Time
	Seedtime     int64 // seconds
	LastAnnounce time.Time
	HnR          bool
}

// WhitelistEntry is a 1-8 byte client peer_id prefix mapped to a display name.
type WhitelistEntry struct {
	Prefix [8]byte
	Length int
	Name   string
}

func (w WhitelistEntry) Matches(peerID bittorrent.PeerID) bool {
	return string(peerID[:w.Length]) == string(w.Prefix[:w.Length])
}

// BanRecord is either a single address or a CIDR (ip containing "/").
type BanRecord struct {
	ID        uint32
	IP        string
	Reason    string
	ExpiresAt time.Time // zero = never
}

func (b BanRecord) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt)
}
