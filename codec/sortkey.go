// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package codec

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dchest/siphash"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Direction encodes a sort direction of one field.
type Direction int

const (
	Ascending  Direction = 1  // sort ascending
	Descending Direction = -1 // sort descending
)

// FieldKind is the interpretation of a sort field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindDate
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// stringWords is the fixed word width of string
// sort fields: the first stringWords code points
// participate in ordering.
const stringWords = 4

// Field is one component of a sort definition.
type Field struct {
	// Path is a dot path into the document,
	// e.g. "address.city".
	Path string    `json:"path"`
	Kind FieldKind `json:"kind"`
	Dir  Direction `json:"dir"`
}

// Words returns the fixed number of u32 words this
// field contributes to a sort item. Widths are
// fixed per kind so that every item of a
// definition has the same stride on the device.
func (f *Field) Words() int {
	if f.Kind == KindString {
		return stringWords
	}
	return 2
}

// Definition is a named, ordered list of sort
// fields.
type Definition struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Words returns the total field words per item.
func (d *Definition) Words() int {
	n := 0
	for i := range d.Fields {
		n += d.Fields[i].Words()
	}
	return n
}

// Validate rejects unusable definitions.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("codec: sort definition without a name")
	}
	if strings.Contains(d.Name, "::") {
		return fmt.Errorf("codec: sort definition name %q may not contain %q", d.Name, "::")
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("codec: sort definition %q has no fields", d.Name)
	}
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Dir != Ascending && f.Dir != Descending {
			return fmt.Errorf("codec: sort definition %q field %q: bad direction %d", d.Name, f.Path, int(f.Dir))
		}
		switch f.Kind {
		case KindString, KindNumber, KindDate:
		default:
			return fmt.Errorf("codec: sort definition %q field %q: bad kind %d", d.Name, f.Path, int(f.Kind))
		}
	}
	return nil
}

// fixed siphash keys for memo lookups; the caches
// are per-process scratch, so the keys need not be
// secret, only well-distributed
const (
	memoK0 = 0x736f7274206b6579
	memoK1 = 0x677075206b762121
)

// dateCacheSize bounds the text→millisecond parse
// cache of one flush window.
const dateCacheSize = 4096

// KeyEncoder turns documents into per-definition
// u32 sort keys. It memoises string encodings and
// date parses within a flush window; DropCaches,
// called after every timed flush, clears both.
type KeyEncoder struct {
	strings map[[2]uint64][stringWords]uint32
	dates   *lru.Cache[string, int64]
}

// NewKeyEncoder constructs an encoder with empty
// caches.
func NewKeyEncoder() *KeyEncoder {
	dates, _ := lru.New[string, int64](dateCacheSize)
	return &KeyEncoder{
		strings: make(map[[2]uint64][stringWords]uint32),
		dates:   dates,
	}
}

// DropCaches clears the per-window memo state.
func (e *KeyEncoder) DropCaches() {
	e.strings = make(map[[2]uint64][stringWords]uint32)
	e.dates.Purge()
}

// Encode produces the concatenated field words for
// doc under def. The result length is always
// def.Words().
func (e *KeyEncoder) Encode(doc any, def *Definition) []uint32 {
	out := make([]uint32, 0, def.Words())
	for i := range def.Fields {
		f := &def.Fields[i]
		v := lookupPath(doc, f.Path)
		switch f.Kind {
		case KindString:
			out = append(out, e.encodeString(v, f.Dir)...)
		case KindNumber:
			out = append(out, encodeNumber(v, f.Dir)...)
		case KindDate:
			out = append(out, e.encodeDate(v, f.Dir)...)
		}
	}
	return out
}

// lookupPath walks a dot path through nested JSON
// objects; a missing step yields nil.
func lookupPath(doc any, path string) any {
	v := doc
	for path != "" {
		var step string
		if i := strings.IndexByte(path, '.'); i >= 0 {
			step, path = path[:i], path[i+1:]
		} else {
			step, path = path, ""
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = obj[step]
	}
	return v
}

func flip(dir Direction, w uint32) uint32 {
	if dir == Descending {
		return ^w
	}
	return w
}

func (e *KeyEncoder) encodeString(v any, dir Direction) []uint32 {
	s, ok := v.(string)
	if !ok {
		// fallback: the words of the empty string,
		// so it ties with "" and sorts before every
		// other string ascending, after descending
		words := make([]uint32, stringWords)
		for i := range words {
			words[i] = flip(dir, 0)
		}
		return words
	}
	key := [2]uint64{}
	key[0], key[1] = siphash.Hash128(memoK0, memoK1, []byte(s))
	asc, ok := e.strings[key]
	if !ok {
		i := 0
		for _, r := range s {
			if i == stringWords {
				break
			}
			asc[i] = uint32(r)
			i++
		}
		// the remaining words stay 0: shorter
		// strings order before their extensions
		e.strings[key] = asc
	}
	words := make([]uint32, stringWords)
	for i := range asc {
		words[i] = flip(dir, asc[i])
	}
	return words
}

// encodeNumber emits the order-preserving u64 form
// of an IEEE-754 double split into [hi, lo].
func encodeNumber(v any, dir Direction) []uint32 {
	f, ok := asFloat(v)
	if !ok || math.IsNaN(f) {
		return []uint32{flip(dir, 0), flip(dir, 0)}
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return []uint32{flip(dir, uint32(bits >> 32)), flip(dir, uint32(bits))}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// encodeDate splits epoch milliseconds into
// [hi, lo] as an unsigned 64-bit value. A pre-1970
// (negative) millisecond count is split in two's
// complement, so it orders after every post-1970
// date ascending.
func (e *KeyEncoder) encodeDate(v any, dir Direction) []uint32 {
	ms, ok := e.dateMillis(v)
	if !ok {
		if dir == Descending {
			return []uint32{^uint32(0), ^uint32(0)}
		}
		return []uint32{0, 0}
	}
	u := uint64(ms)
	return []uint32{flip(dir, uint32(u >> 32)), flip(dir, uint32(u))}
}

// dateMillis accepts an epoch-millisecond number,
// a time.Time, or parseable text.
func (e *KeyEncoder) dateMillis(v any) (int64, bool) {
	switch d := v.(type) {
	case nil:
		return 0, false
	case time.Time:
		return d.UnixMilli(), true
	case string:
		if ms, ok := e.dates.Get(d); ok {
			return ms, true
		}
		t, ok := ParseDate(d)
		if !ok {
			return 0, false
		}
		ms := t.UnixMilli()
		e.dates.Add(d, ms)
		return ms, true
	default:
		f, ok := asFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
}
