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

package swarm

import (
	"sort"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/peerstore"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

// selectPeers orders candidates by (connectable_score, seeder_score,
// random) ascending, excludes the requester, and caps at numWant.
func selectPeers(peers map[bittorrent.PeerKey]*peerstore.Peer, requester bittorrent.PeerKey, requesterIsSeeder, preferSeeders bool, numWant int) []SelectedPeer {
	type candidate struct {
		key              bittorrent.PeerKey
		peer             *peerstore.Peer
		connectableScore int
		seederScore      int
		random           float64
	}

	candidates := make([]candidate, 0, len(peers))

	for k, p := range peers {
		if k == requester {
			continue
		}

		c := candidate{key: k, peer: p, random: util.UnsafeFloat64()}

		switch p.Connectable {
		case peerstore.ConnectableTrue:
			c.connectableScore = 0
		case peerstore.ConnectableUnknown:
			c.connectableScore = 1
		case peerstore.ConnectableFalse:
			c.connectableScore = 2
		}

		switch {
		case !requesterIsSeeder && p.IsSeeder:
			c.seederScore = 0
		case !preferSeeders:
			c.seederScore = 0
		default:
			c.seederScore = 1
		}

		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		if a.connectableScore != b.connectableScore {
			return a.connectableScore < b.connectableScore
		}

		if a.seederScore != b.seederScore {
			return a.seederScore < b.seederScore
		}

		return a.random < b.random
	})

	// Send only one peer per user among seeders returned to a leecher, so a
	// user seeding at multiple locations doesn't crowd out other seeders.
	// Anonymous (UDP) seeders and leecher candidates are never collapsed.
	// Applied after the ordering sort so the kept copy of each user is
	// always its best-ranked one.
	if !requesterIsSeeder {
		seenSeederUser := make(map[uint32]bool, len(candidates))
		deduped := candidates[:0]

		for _, c := range candidates {
			if c.peer.IsSeeder && c.peer.HasUserID {
				if seenSeederUser[c.peer.UserID] {
					continue
				}

				seenSeederUser[c.peer.UserID] = true
			}

			deduped = append(deduped, c)
		}

		candidates = deduped
	}

	if numWant > len(candidates) {
		numWant = len(candidates)
	}

	if numWant > maxNumWant {
		numWant = maxNumWant
	}

	out := make([]SelectedPeer, 0, numWant)

	for _, c := range candidates[:numWant] {
		out = append(out, SelectedPeer{
			IP:     c.key.Addr(),
			Port:   c.key.Port,
			PeerID: c.peer.PeerID,
		})
	}

	return out
}
