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
	"testing"

	"github.com/google/go-cmp/cmp"
	zeebo "github.com/zeebo/bencode"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

func TestEncodeScenarios(t *testing.T) {
	cases := []struct {
		in   Value
		want string
	}{
		{"spam", "4:spam"},
		{int64(42), "i42e"},
		{map[string]Value{"cow": "moo", "spam": "eggs"}, "d3:cow3:moo4:spam4:eggse"},
	}

	for _, c := range cases {
		got, err := Encode(c.in)
		if err != nil {
			t.Fatalf("Encode(%v): %v", c.in, err)
		}

		if string(got) != c.want {
			t.Errorf("Encode(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRoundtripDecodeEncode(t *testing.T) {
	samples := []string{
		"4:spam",
		"i42e",
		"i-42e",
		"i0e",
		"le",
		"l4:spam4:eggse",
		"d3:cow3:moo4:spam4:eggse",
		"d4:infod6:lengthi12345eee",
	}

	for _, s := range samples {
		v, err := Decode([]byte(s))
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}

		got, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(Decode(%q)): %v", s, err)
		}

		if string(got) != s {
			t.Errorf("roundtrip(%q) = %q", s, got)
		}
	}
}

func TestDecodeNestedStructure(t *testing.T) {
	in := "d5:filesld6:lengthi100e4:path5:a.txted6:lengthi200e4:path5:b.txtee4:name3:dire"

	got, err := Decode([]byte(in))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]Value{
		"name": "dir",
		"files": []Value{
			map[string]Value{"length": int64(100), "path": "a.txt"},
			map[string]Value{"length": int64(200), "path": "b.txt"},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded value mismatch (-want +got):\n%s", diff)
	}
}

func TestDictKeysSortedRegardlessOfInsertion(t *testing.T) {
	v := map[string]Value{"spam": "eggs", "cow": "moo", "apple": int64(1)}

	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}

	want := "d5:applei1e3:cow3:moo4:spam4:eggse"
	if string(got) != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	bad := []string{"", "i", "ie", "i01e", "i-0e", "5:ab", "d1:ae", "l"}

	for _, s := range bad {
		if _, err := Decode([]byte(s)); err == nil {
			t.Errorf("Decode(%q) expected error, got nil", s)
		}
	}
}

// Cross-check our hand-rolled codec against a vetted third-party decoder for
// a representative corpus of values (interop confidence, not a replacement
// for our own roundtrip tests).
func TestInteropWithZeebo(t *testing.T) {
	values := []map[string]interface{}{
		{"complete": 5, "incomplete": 2, "interval": 1800},
		{"failure reason": "bad passkey"},
	}

	for _, m := range values {
		encoded, err := zeebo.EncodeBytes(m)
		if err != nil {
			t.Fatal(err)
		}

		ours, err := Decode(encoded)
		if err != nil {
			t.Fatalf("our Decode of zeebo-encoded value failed: %v", err)
		}

		dict, ok := ours.(map[string]Value)
		if !ok {
			t.Fatalf("expected dict, got %T", ours)
		}

		for k, v := range m {
			switch want := v.(type) {
			case int:
				if got, ok := dict[k].(int64); !ok || got != int64(want) {
					t.Errorf("key %q: got %v want %d", k, dict[k], want)
				}
			case string:
				if got, ok := dict[k].(string); !ok || got != want {
					t.Errorf("key %q: got %v want %q", k, dict[k], want)
				}
			}
		}
	}
}

func TestWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	WriteFailure(&buf, "Invalid passkey")

	want := "d14:failure reason15:Invalid passkeye"
	if buf.String() != want {
		t.Errorf("got %q want %q", buf.String(), want)
	}
}

func TestWriteAnnounceCompactPeers(t *testing.T) {
	var buf bytes.Buffer

	WriteAnnounce(&buf, AnnounceResponse{
		Complete:   1,
		Incomplete: 2,
		Interval:   1800,
		Compact:    true,
		Peers: []CompactPeer{
			{IP: []byte{192, 168, 1, 1}, Port: 6881},
			{IP: []byte{0x20, 0x01, 0xd, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, Port: 6882},
		},
	})

	v, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode our own output: %v", err)
	}

	dict := v.(map[string]Value)

	peers := dict["peers"].(string)
	if len(peers) != 6 {
		t.Errorf("peers length = %d, want 6 (one IPv4 record)", len(peers))
	}

	peers6 := dict["peers6"].(string)
	if len(peers6) != 18 {
		t.Errorf("peers6 length = %d, want 18 (one IPv6 record)", len(peers6))
	}
}

func TestWriteAnnounceNonCompactPeers(t *testing.T) {
	var buf bytes.Buffer

	var id bittorrent.PeerID
	copy(id[:], "-TR3000-abcdefghijkl")

	WriteAnnounce(&buf, AnnounceResponse{
		Complete:   1,
		Incomplete: 0,
		Interval:   1800,
		Compact:    false,
		Peers:      []CompactPeer{{IP: []byte{10, 0, 0, 1}, Port: 6881, ID: id}},
	})

	// Each peer dictionary must carry its keys in ascending byte order:
	// "ip" < "peer id" < "port".
	want := "d8:completei1e10:incompletei0e8:intervali1800e5:peersl" +
		"d2:ip8:10.0.0.17:peer id20:-TR3000-abcdefghijkl4:porti6881ee" +
		"ee"
	if buf.String() != want {
		t.Errorf("got %q\nwant %q", buf.String(), want)
	}

	// The output must also survive our own canonical-order decoder roundtrip.
	v, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode non-compact announce: %v", err)
	}

	reencoded, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}

	if string(reencoded) != buf.String() {
		t.Error("non-compact announce is not in canonical key order")
	}
}

func TestWriteAnnounceNoIPv6OmitsPeers6(t *testing.T) {
	var buf bytes.Buffer

	WriteAnnounce(&buf, AnnounceResponse{
		Complete: 1,
		Interval: 1800,
		Compact:  true,
		Peers:    []CompactPeer{{IP: []byte{1, 2, 3, 4}, Port: 1}},
	})

	v, _ := Decode(buf.Bytes())
	dict := v.(map[string]Value)

	if _, exists := dict["peers6"]; exists {
		t.Error("peers6 key present with no IPv6 peers")
	}
}
