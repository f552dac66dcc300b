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

import "github.com/anacrolix-labs/privtracker/internal/bittorrent"

// UserSnapshot is a plain, lock-free point-in-time copy of a UserRecord's
// atomics, read field by field while the live record stays mutable.
type UserSnapshot struct {
	ID            uint32
	Passkey       string
	Uploaded      uint64
	Downloaded    uint64
	HnrWarnings   int32
	CanLeech      bool
	RequiredRatio float64
	BonusPoints   float64
}

func (u *UserRecord) Snapshot() UserSnapshot {
	return UserSnapshot{
		ID:            u.ID,
		Passkey:       u.Passkey,
		Uploaded:      u.Uploaded.Load(),
		Downloaded:    u.Downloaded.Load(),
		HnrWarnings:   u.HnrWarnings.Load(),
		CanLeech:      u.CanLeech.Load(),
		RequiredRatio: u.RequiredRatio(),
		BonusPoints:   u.BonusPoints(),
	}
}

// TorrentSnapshot is TorrentRecord's equivalent lock-free point-in-time copy.
type TorrentSnapshot struct {
	ID             uint32
	InfoHash       bittorrent.InfoHash
	Seeders        int64
	Leechers       int64
	Completed      int64
	Freeleech      bool
	Pruned         bool
	UpMultiplier   float64
	DownMultiplier float64
}

func (t *TorrentRecord) Snapshot() TorrentSnapshot {
	return TorrentSnapshot{
		ID:             t.ID,
		InfoHash:       t.InfoHash,
		Seeders:        t.Seeders.Load(),
		Leechers:       t.Leechers.Load(),
		Completed:      t.Completed.Load(),
		Freeleech:      t.Freeleech.Load(),
		Pruned:         t.Pruned.Load(),
		UpMultiplier:   t.UpMultiplier(),
		DownMultiplier: t.DownMultiplier(),
	}
}
