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
	"net"
	"testing"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/peerstore"
)

func TestSelectPeersCollapsesMultiHomedSeederForLeecher(t *testing.T) {
	peers := map[bittorrent.PeerKey]*peerstore.Peer{
		bittorrent.NewPeerKey(net.ParseIP("10.0.0.1"), 1): {UserID: 42, HasUserID: true, IsSeeder: true},
		bittorrent.NewPeerKey(net.ParseIP("10.0.0.2"), 2): {UserID: 42, HasUserID: true, IsSeeder: true},
		bittorrent.NewPeerKey(net.ParseIP("10.0.0.3"), 3): {UserID: 7, HasUserID: true, IsSeeder: true},
	}

	requester := bittorrent.NewPeerKey(net.ParseIP("10.0.0.4"), 4)

	out := selectPeers(peers, requester, false, true, 50)

	if len(out) != 2 {
		t.Fatalf("expected user 42's two locations collapsed to one slot, got %d peers: %+v", len(out), out)
	}
}

func TestSelectPeersDoesNotCollapseForSeeder(t *testing.T) {
	peers := map[bittorrent.PeerKey]*peerstore.Peer{
		bittorrent.NewPeerKey(net.ParseIP("10.0.0.1"), 1): {UserID: 42, HasUserID: true, IsSeeder: false},
		bittorrent.NewPeerKey(net.ParseIP("10.0.0.2"), 2): {UserID: 42, HasUserID: true, IsSeeder: false},
	}

	requester := bittorrent.NewPeerKey(net.ParseIP("10.0.0.4"), 4)

	// Requester itself is a seeder (requesterIsSeeder=true), so the
	// one-slot-per-user rule does not apply: both of user 42's leecher
	// locations come back.
	out := selectPeers(peers, requester, true, true, 50)

	if len(out) != 2 {
		t.Fatalf("expected no dedup for leecher candidates, got %d peers: %+v", len(out), out)
	}
}

func TestSelectPeersDoesNotCollapseAnonymousSeeders(t *testing.T) {
	peers := map[bittorrent.PeerKey]*peerstore.Peer{
		bittorrent.NewPeerKey(net.ParseIP("10.0.0.1"), 1): {HasUserID: false, IsSeeder: true},
		bittorrent.NewPeerKey(net.ParseIP("10.0.0.2"), 2): {HasUserID: false, IsSeeder: true},
	}

	requester := bittorrent.NewPeerKey(net.ParseIP("10.0.0.4"), 4)

	out := selectPeers(peers, requester, false, true, 50)

	if len(out) != 2 {
		t.Fatalf("anonymous seeders must not be collapsed by a zero-value user id, got %d peers: %+v", len(out), out)
	}
}
