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

package httpfrontend

import (
	"strings"
	"testing"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

func TestParseQueryDecodesBinaryPercentEscapes(t *testing.T) {
	// Raw SHA-1 bytes percent-encoded the way a client sends info_hash; the
	// decoded value must be the literal bytes, not a UTF-8 reinterpretation.
	q := parseQuery([]byte("info_hash=%00%01%ff%fe&peer_id=plain"))

	if len(q.infoHashes) != 1 {
		t.Fatalf("expected 1 info_hash, got %d", len(q.infoHashes))
	}

	if q.infoHashes[0] != "\x00\x01\xff\xfe" {
		t.Errorf("info_hash bytes = %q", q.infoHashes[0])
	}

	if v, _ := q.get("peer_id"); v != "plain" {
		t.Errorf("peer_id = %q", v)
	}
}

func TestParseQueryPlusAndMalformedEscape(t *testing.T) {
	q := parseQuery([]byte("a=x+y&b=%zz&c=%4"))

	if v, _ := q.get("a"); v != "x y" {
		t.Errorf("a = %q, want %q", v, "x y")
	}

	// Malformed escapes pass through verbatim.
	if v, _ := q.get("b"); v != "%zz" {
		t.Errorf("b = %q, want %q", v, "%zz")
	}

	if v, _ := q.get("c"); v != "%4" {
		t.Errorf("c = %q, want %q", v, "%4")
	}
}

func TestParseQueryRepeatedInfoHash(t *testing.T) {
	q := parseQuery([]byte("info_hash=aaaa&info_hash=bbbb"))

	if len(q.infoHashes) != 2 || q.infoHashes[0] != "aaaa" || q.infoHashes[1] != "bbbb" {
		t.Errorf("infoHashes = %q", q.infoHashes)
	}
}

func encodeBytes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		sb.WriteString("%")
		sb.WriteByte("0123456789abcdef"[c>>4])
		sb.WriteByte("0123456789abcdef"[c&0xf])
	}

	return sb.String()
}

func TestDecodeAnnounceFullRequest(t *testing.T) {
	var infoHash bittorrent.InfoHash
	for i := range infoHash {
		infoHash[i] = byte(i)
	}

	raw := "info_hash=" + encodeBytes(infoHash[:]) +
		"&peer_id=-TR3000-abcdefghijkl" +
		"&port=6881&uploaded=100&downloaded=50&left=0&event=completed&numwant=30&key=cafebabecafebabe"

	d, err := decodeAnnounce([]byte(raw), 50, 50, false)
	if err != nil {
		t.Fatalf("decodeAnnounce: %v", err)
	}

	if d.infoHash != infoHash {
		t.Error("info_hash mismatch")
	}

	if string(d.peerID[:]) != "-TR3000-abcdefghijkl" {
		t.Errorf("peer_id = %q", d.peerID)
	}

	if d.port != 6881 || d.uploaded != 100 || d.downloaded != 50 || d.left != 0 {
		t.Errorf("numeric fields: %+v", d)
	}

	if d.event != bittorrent.EventCompleted {
		t.Errorf("event = %v", d.event)
	}

	if d.numWant != 30 {
		t.Errorf("numwant = %d, want 30", d.numWant)
	}

	if !d.compact {
		t.Error("compact should default to true")
	}

	if d.key != "cafebabecafebabe" {
		t.Errorf("key = %q", d.key)
	}
}

func TestDecodeAnnounceMissingFields(t *testing.T) {
	var infoHash bittorrent.InfoHash

	cases := []struct {
		raw  string
		want error
	}{
		{"peer_id=-TR3000-abcdefghijkl&port=1&uploaded=0&downloaded=0&left=0", errMissingInfoHash},
		{"info_hash=short&peer_id=-TR3000-abcdefghijkl&port=1&uploaded=0&downloaded=0&left=0", errInvalidInfoHash},
		{"info_hash=" + encodeBytes(infoHash[:]) + "&port=1&uploaded=0&downloaded=0&left=0", errMissingPeerID},
		{"info_hash=" + encodeBytes(infoHash[:]) + "&peer_id=-TR3000-abcdefghijkl&uploaded=0&downloaded=0&left=0", errMissingPort},
		{"info_hash=" + encodeBytes(infoHash[:]) + "&peer_id=-TR3000-abcdefghijkl&port=1&downloaded=0&left=0", errMissingUploaded},
	}

	for _, c := range cases {
		if _, err := decodeAnnounce([]byte(c.raw), 50, 50, false); err != c.want {
			t.Errorf("decodeAnnounce(%q) err = %v, want %v", c.raw, err, c.want)
		}
	}
}

func TestDecodeAnnounceNumWantOutOfRangeFallsBack(t *testing.T) {
	var infoHash bittorrent.InfoHash

	raw := "info_hash=" + encodeBytes(infoHash[:]) +
		"&peer_id=-TR3000-abcdefghijkl&port=1&uploaded=0&downloaded=0&left=0&numwant=500"

	d, err := decodeAnnounce([]byte(raw), 50, 50, false)
	if err != nil {
		t.Fatal(err)
	}

	if d.numWant != 50 {
		t.Errorf("numwant = %d, want default 50", d.numWant)
	}
}
