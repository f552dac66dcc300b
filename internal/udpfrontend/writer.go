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
	"bytes"
	"encoding/binary"

	"github.com/anacrolix-labs/privtracker/internal/swarm"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

// responseBuffers recycles frame buffers across responses; every writer
// below takes one and Frontend.reply gives it back after the send.
var responseBuffers = util.NewBufferPool(512)

func newResponse(action, transactionID uint32) *bytes.Buffer {
	buf := responseBuffers.Take()

	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], action)
	binary.BigEndian.PutUint32(b[4:8], transactionID)
	buf.Write(b[:])

	return buf
}

// writeConnect writes the 16-byte connect response.
func writeConnect(transactionID uint32, connID uint64) *bytes.Buffer {
	buf := newResponse(actionConnect, transactionID)

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], connID)
	buf.Write(b[:])

	return buf
}

// writeAnnounce writes the variable-length announce response: fixed header,
// interval/leechers/seeders, then one 6-byte compact peer per entry (only
// IPv4 peers travel over the UDP leg, matching BEP 15's 32-bit peer IP
// field).
func writeAnnounce(transactionID uint32, interval int32, res swarm.AnnounceResult) *bytes.Buffer {
	buf := newResponse(actionAnnounce, transactionID)

	var fixed [12]byte
	binary.BigEndian.PutUint32(fixed[0:4], uint32(interval))
	binary.BigEndian.PutUint32(fixed[4:8], uint32(res.Leechers))
	binary.BigEndian.PutUint32(fixed[8:12], uint32(res.Seeders))
	buf.Write(fixed[:])

	for _, p := range res.Peers {
		v4 := p.IP.To4()
		if v4 == nil {
			continue
		}

		buf.Write(v4)

		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], p.Port)
		buf.Write(portBuf[:])
	}

	return buf
}

// scrapeCounts is one torrent's (seeders, completed, leechers) triple, in
// the BEP 15 field order.
type scrapeCounts struct {
	Seeders   int64
	Completed int64
	Leechers  int64
}

func writeScrape(transactionID uint32, counts []scrapeCounts) *bytes.Buffer {
	buf := newResponse(actionScrape, transactionID)

	for _, c := range counts {
		var b [12]byte
		binary.BigEndian.PutUint32(b[0:4], uint32(c.Seeders))
		binary.BigEndian.PutUint32(b[4:8], uint32(c.Completed))
		binary.BigEndian.PutUint32(b[8:12], uint32(c.Leechers))
		buf.Write(b[:])
	}

	return buf
}

func writeError(transactionID uint32, message string) *bytes.Buffer {
	buf := newResponse(actionError, transactionID)
	buf.WriteString(message)

	return buf
}
