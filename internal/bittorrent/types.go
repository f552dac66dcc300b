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

// Package bittorrent holds the wire-level types shared by both transports
// (HTTP and UDP): info_hash, peer_id, announce events and errors. Keeping
// these transport-agnostic is what lets the swarm package serve both
// frontends without caring which one decoded the request.
package bittorrent

import (
	"encoding/hex"
	"errors"
	"net"
)

const (
	InfoHashSize = 20
	PeerIDSize   = 20
)

type InfoHash [InfoHashSize]byte

var ErrWrongHashSize = errors.New("bittorrent: wrong info_hash size")

func InfoHashFromBytes(b []byte) (h InfoHash, err error) {
	if len(b) != InfoHashSize {
		return h, ErrWrongHashSize
	}

	copy(h[:], b)

	return h, nil
}

func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

type PeerID [PeerIDSize]byte

var ErrWrongPeerIDSize = errors.New("bittorrent: wrong peer_id size")

func PeerIDFromBytes(b []byte) (id PeerID, err error) {
	if len(b) != PeerIDSize {
		return id, ErrWrongPeerIDSize
	}

	copy(id[:], b)

	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Event mirrors the BEP 3 / BEP 15 announce event enumeration.
type Event uint8

const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
)

func (e Event) String() string {
	switch e {
	case EventCompleted:
		return "completed"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	default:
		return ""
	}
}

func EventFromString(s string) Event {
	switch s {
	case "completed":
		return EventCompleted
	case "started":
		return EventStarted
	case "stopped":
		return EventStopped
	default:
		return EventNone
	}
}

// PeerKey uniquely identifies a peer within a swarm: (ip, port). A client
// that restarts on a new port becomes a new peer.
type PeerKey struct {
	IP   [16]byte // v4-in-v6 form for IPv4, native bytes for IPv6
	Port uint16
	IsV6 bool
}

func NewPeerKey(ip net.IP, port uint16) PeerKey {
	var k PeerKey

	if v4 := ip.To4(); v4 != nil {
		copy(k.IP[:4], v4)
	} else {
		copy(k.IP[:], ip.To16())
		k.IsV6 = true
	}

	k.Port = port

	return k
}

func (k PeerKey) Addr() net.IP {
	if k.IsV6 {
		return net.IP(k.IP[:]).To16()
	}

	return net.IP(k.IP[:4]).To4()
}
