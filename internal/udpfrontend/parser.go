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

package udpfrontend

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

const (
	actionConnect uint32 = iota
	actionAnnounce
	actionScrape
	actionError
)

// initialConnectionID is the magic connect-request id fixed by BEP 15.
const initialConnectionID uint64 = 0x41727101980

var (
	errShortPacket     = errors.New("udp: packet too short")
	errBadConnect      = errors.New("udp: bad connect request")
	errBadInfoHashList = errors.New("udp: scrape info_hash list malformed")
)

// header is the common 16-byte prefix every request carries.
type header struct {
	ConnID        uint64
	Action        uint32
	TransactionID uint32
}

func parseHeader(packet []byte) (header, error) {
	if len(packet) < 16 {
		return header{}, errShortPacket
	}

	return header{
		ConnID:        binary.BigEndian.Uint64(packet[0:8]),
		Action:        binary.BigEndian.Uint32(packet[8:12]),
		TransactionID: binary.BigEndian.Uint32(packet[12:16]),
	}, nil
}

// parseConnect validates a 16-byte connect request.
func parseConnect(packet []byte, h header) error {
	if len(packet) != 16 || h.ConnID != initialConnectionID {
		return errBadConnect
	}

	return nil
}

// announceRequest is the decoded 98-byte BEP 15 announce frame.
type announceRequest struct {
	infoHash   bittorrent.InfoHash
	peerID     bittorrent.PeerID
	downloaded uint64
	left       uint64
	uploaded   uint64
	event      bittorrent.Event
	ip         net.IP // zero value means "use the packet's source address"
	key        uint32
	numWant    int32
	port       uint16
}

// parseAnnounce decodes the 98-byte body following the 16-byte header.
func parseAnnounce(packet []byte) (announceRequest, error) {
	var a announceRequest

	if len(packet) < 98 {
		return a, errShortPacket
	}

	copy(a.infoHash[:], packet[16:36])
	copy(a.peerID[:], packet[36:56])

	a.downloaded = binary.BigEndian.Uint64(packet[56:64])
	a.left = binary.BigEndian.Uint64(packet[64:72])
	a.uploaded = binary.BigEndian.Uint64(packet[72:80])

	a.event = eventFromUDP(binary.BigEndian.Uint32(packet[80:84]))

	if ipNum := binary.BigEndian.Uint32(packet[84:88]); ipNum != 0 {
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, ipNum)
		a.ip = ip
	}

	a.key = binary.BigEndian.Uint32(packet[88:92])
	a.numWant = int32(binary.BigEndian.Uint32(packet[92:96]))
	a.port = binary.BigEndian.Uint16(packet[96:98])

	return a, nil
}

func eventFromUDP(v uint32) bittorrent.Event {
	switch v {
	case 1:
		return bittorrent.EventCompleted
	case 2:
		return bittorrent.EventStarted
	case 3:
		return bittorrent.EventStopped
	default:
		return bittorrent.EventNone
	}
}

// parseScrape decodes the list of 20-byte info_hashes following the header.
func parseScrape(packet []byte) ([]bittorrent.InfoHash, error) {
	body := packet[16:]
	if len(body) == 0 || len(body)%20 != 0 {
		return nil, errBadInfoHashList
	}

	hashes := make([]bittorrent.InfoHash, 0, len(body)/20)

	for i := 0; i+20 <= len(body); i += 20 {
		var h bittorrent.InfoHash
		copy(h[:], body[i:i+20])
		hashes = append(hashes, h)
	}

	return hashes, nil
}
