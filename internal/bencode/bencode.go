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

// Package bencode implements the four BEP 3 value types (byte strings,
// integers, lists, dictionaries) as a generic decoder/encoder, plus a set of
// direct-to-buffer writers (writer.go) for the hot announce/scrape response
// path that avoid building an intermediate Value tree at all.
//
// Byte strings decode to Go strings holding the raw bytes verbatim — never
// assumed to be UTF-8 — which is what lets info_hash/peer_id round-trip
// through a Value untouched.
package bencode

import (
	"bytes"
	"errors"
	"slices"
	"strconv"
)

// Value is one of: int64, string (raw byte string), []Value, map[string]Value.
type Value interface{}

var (
	ErrUnexpectedEOF = errors.New("bencode: unexpected end of input")
	ErrMalformedInt  = errors.New("bencode: malformed integer")
	ErrMalformedStr  = errors.New("bencode: malformed byte string")
	ErrUnknownType   = errors.New("bencode: unknown value type")
	ErrTrailingData  = errors.New("bencode: trailing data after value")
	ErrNonStringKey  = errors.New("bencode: dictionary key must be a byte string")
)

// Decode parses exactly one bencoded value from data, rejecting trailing
// bytes. Use DecodePrefix if trailing data is expected.
func Decode(data []byte) (Value, error) {
	v, rest, err := DecodePrefix(data)
	if err != nil {
		return nil, err
	}

	if len(rest) != 0 {
		return nil, ErrTrailingData
	}

	return v, nil
}

// DecodePrefix parses one bencoded value from the front of data and returns
// whatever bytes follow it.
func DecodePrefix(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return nil, nil, ErrUnexpectedEOF
	}

	switch {
	case data[0] == 'i':
		return decodeInt(data)
	case data[0] == 'l':
		return decodeList(data)
	case data[0] == 'd':
		return decodeDict(data)
	case data[0] >= '0' && data[0] <= '9':
		return decodeString(data)
	default:
		return nil, nil, ErrUnknownType
	}
}

func decodeInt(data []byte) (Value, []byte, error) {
	end := bytes.IndexByte(data, 'e')
	if end < 0 {
		return nil, nil, ErrMalformedInt
	}

	numStr := string(data[1:end])
	if numStr == "" || numStr == "-" {
		return nil, nil, ErrMalformedInt
	}

	// Reject leading zeros (other than "0" itself) and "-0", matching the
	// canonical BEP 3 integer encoding.
	neg := numStr[0] == '-'
	digits := numStr
	if neg {
		digits = numStr[1:]
	}

	if len(digits) > 1 && digits[0] == '0' {
		return nil, nil, ErrMalformedInt
	}

	if neg && digits == "0" {
		return nil, nil, ErrMalformedInt
	}

	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return nil, nil, ErrMalformedInt
	}

	return n, data[end+1:], nil
}

func decodeString(data []byte) (Value, []byte, error) {
	colon := bytes.IndexByte(data, ':')
	if colon < 0 {
		return nil, nil, ErrMalformedStr
	}

	n, err := strconv.ParseInt(string(data[:colon]), 10, 64)
	if err != nil || n < 0 {
		return nil, nil, ErrMalformedStr
	}

	start := colon + 1
	end := start + int(n)

	if end > len(data) || end < start {
		return nil, nil, ErrUnexpectedEOF
	}

	return string(data[start:end]), data[end:], nil
}

func decodeList(data []byte) (Value, []byte, error) {
	rest := data[1:]

	list := make([]Value, 0, 4)

	for {
		if len(rest) == 0 {
			return nil, nil, ErrUnexpectedEOF
		}

		if rest[0] == 'e' {
			return list, rest[1:], nil
		}

		v, next, err := DecodePrefix(rest)
		if err != nil {
			return nil, nil, err
		}

		list = append(list, v)
		rest = next
	}
}

func decodeDict(data []byte) (Value, []byte, error) {
	rest := data[1:]

	dict := make(map[string]Value)

	for {
		if len(rest) == 0 {
			return nil, nil, ErrUnexpectedEOF
		}

		if rest[0] == 'e' {
			return dict, rest[1:], nil
		}

		keyVal, next, err := decodeString(rest)
		if err != nil {
			return nil, nil, ErrNonStringKey
		}

		key := keyVal.(string)

		val, next2, err := DecodePrefix(next)
		if err != nil {
			return nil, nil, err
		}

		dict[key] = val
		rest = next2
	}
}

// Encode renders v to its canonical bencoded form: dictionary keys are
// always emitted in ascending byte order regardless of map iteration order.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer

	if err := EncodeTo(&buf, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func EncodeTo(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case int64:
		writeInt(buf, t)
	case int:
		writeInt(buf, int64(t))
	case string:
		writeString(buf, t)
	case []byte:
		writeString(buf, string(t))
	case []Value:
		buf.WriteByte('l')

		for _, item := range t {
			if err := EncodeTo(buf, item); err != nil {
				return err
			}
		}

		buf.WriteByte('e')
	case map[string]Value:
		buf.WriteByte('d')

		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}

		slices.Sort(keys)

		for _, k := range keys {
			writeString(buf, k)

			if err := EncodeTo(buf, t[k]); err != nil {
				return err
			}
		}

		buf.WriteByte('e')
	default:
		return ErrUnknownType
	}

	return nil
}

func writeInt(buf *bytes.Buffer, v int64) {
	buf.WriteByte('i')

	var lenBuf [20]byte
	buf.Write(strconv.AppendInt(lenBuf[:0], v, 10))

	buf.WriteByte('e')
}

func writeString(buf *bytes.Buffer, v string) {
	var lenBuf [20]byte
	buf.Write(strconv.AppendInt(lenBuf[:0], int64(len(v)), 10))
	buf.WriteByte(':')
	buf.WriteString(v)
}
