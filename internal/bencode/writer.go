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

package bencode

import (
	"bytes"
	"encoding/binary"
	"net"
	"slices"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

// CompactPeer is the minimal view of a peer the response writer needs; the
// swarm package builds these from its live peer records.
type CompactPeer struct {
	IP   []byte // 4 bytes (IPv4) or 16 bytes (IPv6)
	Port uint16
	ID   bittorrent.PeerID
}

func (p CompactPeer) isV6() bool { return len(p.IP) == 16 }

// WriteFailure writes {"failure reason": err}, the sole wire form for a
// failed announce/scrape. The HTTP status stays 200; clients read the
// payload, not the status line.
func WriteFailure(buf *bytes.Buffer, reason string) {
	buf.WriteByte('d')
	writeString(buf, "failure reason")
	writeString(buf, reason)
	buf.WriteByte('e')
}

// AnnounceResponse carries everything needed to write a complete announce
// reply in one pass, keys pre-sorted by the caller's field order below
// (complete < incomplete < interval < peers < peers6 < tracker id).
type AnnounceResponse struct {
	Complete    int64
	Incomplete  int64
	Interval    int64
	MinInterval int64 // 0 = omit
	Compact     bool
	NoPeerID    bool
	TrackerID   string // announce_key, omitted if empty
	Peers       []CompactPeer
}

// WriteAnnounce writes the full announce dictionary, splitting Peers into
// peers (IPv4, 6-byte compact records) and peers6 (IPv6, 18-byte compact
// records per BEP 7); peers6 is omitted entirely when no IPv6 peer is
// present, and in non-compact mode all peers share a single "peers" list.
func WriteAnnounce(buf *bytes.Buffer, r AnnounceResponse) {
	buf.WriteByte('d')

	writeString(buf, "complete")
	writeInt(buf, r.Complete)

	writeString(buf, "incomplete")
	writeInt(buf, r.Incomplete)

	writeString(buf, "interval")
	writeInt(buf, r.Interval)

	if r.MinInterval > 0 {
		writeString(buf, "min interval")
		writeInt(buf, r.MinInterval)
	}

	if r.Compact {
		writeCompactPeers(buf, r.Peers)
	} else {
		writeNonCompactPeers(buf, r.Peers, r.NoPeerID)
	}

	if r.TrackerID != "" {
		writeString(buf, "tracker id")
		writeString(buf, r.TrackerID)
	}

	buf.WriteByte('e')
}

func writeCompactPeers(buf *bytes.Buffer, peers []CompactPeer) {
	var v4, v6 bytes.Buffer

	for _, p := range peers {
		if p.isV6() {
			v6.Write(p.IP)

			var portBuf [2]byte
			binary.BigEndian.PutUint16(portBuf[:], p.Port)
			v6.Write(portBuf[:])
		} else {
			v4.Write(p.IP)

			var portBuf [2]byte
			binary.BigEndian.PutUint16(portBuf[:], p.Port)
			v4.Write(portBuf[:])
		}
	}

	writeString(buf, "peers")
	writeString(buf, v4.String())

	if v6.Len() > 0 {
		writeString(buf, "peers6")
		writeString(buf, v6.String())
	}
}

func writeNonCompactPeers(buf *bytes.Buffer, peers []CompactPeer, noPeerID bool) {
	writeString(buf, "peers")
	buf.WriteByte('l')

	// Canonical key order: "ip" < "peer id" < "port".
	for _, p := range peers {
		buf.WriteByte('d')

		writeString(buf, "ip")
		writeString(buf, ipString(p.IP))

		if !noPeerID {
			writeString(buf, "peer id")
			writeString(buf, string(p.ID[:]))
		}

		writeString(buf, "port")
		writeInt(buf, int64(p.Port))

		buf.WriteByte('e')
	}

	buf.WriteByte('e')
}

func ipString(ip []byte) string {
	return net.IP(ip).String()
}

// ScrapeFile is one torrent's counters within a scrape response.
type ScrapeFile struct {
	InfoHash   bittorrent.InfoHash
	Complete   int64
	Downloaded int64
	Incomplete int64
}

// WriteScrape writes {"files": {info_hash(raw 20 bytes): {...}, ...}}.
// Callers must pre-sort files by info_hash for deterministic, canonical
// output (BencodeSortInfoHashes below).
func WriteScrape(buf *bytes.Buffer, files []ScrapeFile) {
	buf.WriteByte('d')
	writeString(buf, "files")
	buf.WriteByte('d')

	for _, f := range files {
		writeString(buf, string(f.InfoHash[:]))

		buf.WriteByte('d')

		writeString(buf, "complete")
		writeInt(buf, f.Complete)

		writeString(buf, "downloaded")
		writeInt(buf, f.Downloaded)

		writeString(buf, "incomplete")
		writeInt(buf, f.Incomplete)

		buf.WriteByte('e')
	}

	buf.WriteByte('e')
	buf.WriteByte('e')
}

// BencodeSortInfoHashes sorts in place by raw byte value, matching the
// canonical dictionary-key order bencode requires.
func BencodeSortInfoHashes(hashes []bittorrent.InfoHash) {
	slices.SortFunc(hashes, func(a, b bittorrent.InfoHash) int {
		return bytes.Compare(a[:], b[:])
	})
}
