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

// Package codec encodes store payloads into the
// byte form kept on the device and decodes them
// back, and extracts numeric sort keys from JSON
// documents.
//
// All encodings are padded to a multiple of 4
// bytes; device rows are placed on 256-byte
// boundaries, so every supported element kind is
// naturally aligned inside its row.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/SnellerInc/gpukv/internal/ints"
)

// DataType is the payload discipline of a store,
// fixed at store creation.
type DataType int

const (
	OpaqueBytes DataType = iota
	NumericArray
	JSONDocument
)

func (t DataType) String() string {
	switch t {
	case OpaqueBytes:
		return "opaque"
	case NumericArray:
		return "numeric"
	case JSONDocument:
		return "json"
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// ElemKind is the element type of a NumericArray
// store.
type ElemKind int

const (
	ElemNone ElemKind = iota
	ElemF32
	ElemF64
	ElemI32
	ElemU32
	ElemU8
)

// Size returns the element size in bytes.
func (k ElemKind) Size() int {
	switch k {
	case ElemF64:
		return 8
	case ElemF32, ElemI32, ElemU32:
		return 4
	case ElemU8:
		return 1
	}
	return 0
}

func (k ElemKind) String() string {
	switch k {
	case ElemF32:
		return "f32"
	case ElemF64:
		return "f64"
	case ElemI32:
		return "i32"
	case ElemU32:
		return "u32"
	case ElemU8:
		return "u8"
	}
	return "none"
}

// ErrTypeMismatch indicates a payload that does
// not match the store's declared discipline or
// element kind.
var ErrTypeMismatch = errors.New("payload does not match store data type")

// Codec encodes and decodes payloads for one
// store.
type Codec struct {
	typ  DataType
	elem ElemKind
}

// New constructs a codec. NumericArray requires an
// element kind; the other disciplines reject one.
func New(typ DataType, elem ElemKind) (*Codec, error) {
	switch typ {
	case NumericArray:
		if elem == ElemNone {
			return nil, errors.New("codec: numeric array requires an element kind")
		}
	case OpaqueBytes, JSONDocument:
		if elem != ElemNone {
			return nil, fmt.Errorf("codec: element kind %v invalid for %v store", elem, typ)
		}
	default:
		return nil, fmt.Errorf("codec: unknown data type %d", int(typ))
	}
	return &Codec{typ: typ, elem: elem}, nil
}

func (c *Codec) Type() DataType { return c.typ }
func (c *Codec) Elem() ElemKind { return c.elem }

// pad4 right-pads b with fill up to a 4-byte
// multiple, reallocating only when needed.
func pad4(b []byte, fill byte) []byte {
	want := ints.AlignUp(len(b), 4)
	for len(b) < want {
		b = append(b, fill)
	}
	return b
}

// Encode converts v into its device byte form.
//
// OpaqueBytes accepts []byte. NumericArray accepts
// the slice type matching the declared element
// kind ([]float32, []float64, []int32, []uint32,
// []byte). JSONDocument accepts any value
// marshalable as JSON and stores its canonical
// text padded with ASCII spaces.
func (c *Codec) Encode(v any) ([]byte, error) {
	switch c.typ {
	case OpaqueBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: opaque store wants []byte, have %T", ErrTypeMismatch, v)
		}
		out := make([]byte, len(b), ints.AlignUp(len(b), 4))
		copy(out, b)
		return pad4(out, 0), nil
	case NumericArray:
		return c.encodeNumeric(v)
	case JSONDocument:
		text, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return pad4(text, ' '), nil
	}
	return nil, fmt.Errorf("codec: unknown data type %d", int(c.typ))
}

func (c *Codec) encodeNumeric(v any) ([]byte, error) {
	switch c.elem {
	case ElemF32:
		s, ok := v.([]float32)
		if !ok {
			return nil, fmt.Errorf("%w: f32 store wants []float32, have %T", ErrTypeMismatch, v)
		}
		out := make([]byte, 4*len(s))
		for i, f := range s {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
		}
		return out, nil
	case ElemF64:
		s, ok := v.([]float64)
		if !ok {
			return nil, fmt.Errorf("%w: f64 store wants []float64, have %T", ErrTypeMismatch, v)
		}
		out := make([]byte, 8*len(s))
		for i, f := range s {
			binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(f))
		}
		return out, nil
	case ElemI32:
		s, ok := v.([]int32)
		if !ok {
			return nil, fmt.Errorf("%w: i32 store wants []int32, have %T", ErrTypeMismatch, v)
		}
		out := make([]byte, 4*len(s))
		for i, n := range s {
			binary.LittleEndian.PutUint32(out[4*i:], uint32(n))
		}
		return out, nil
	case ElemU32:
		s, ok := v.([]uint32)
		if !ok {
			return nil, fmt.Errorf("%w: u32 store wants []uint32, have %T", ErrTypeMismatch, v)
		}
		out := make([]byte, 4*len(s))
		for i, n := range s {
			binary.LittleEndian.PutUint32(out[4*i:], n)
		}
		return out, nil
	case ElemU8:
		s, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: u8 store wants []byte, have %T", ErrTypeMismatch, v)
		}
		out := make([]byte, len(s), ints.AlignUp(len(s), 4))
		copy(out, s)
		return pad4(out, 0), nil
	}
	return nil, fmt.Errorf("codec: unknown element kind %d", int(c.elem))
}

// Decode is the inverse of Encode.
//
// JSON stores parse the stored text; numeric
// stores rebuild the typed slice; opaque stores
// return the raw bytes. Padding added by Encode is
// part of opaque and u8 payloads (their logical
// length is not recorded); JSON padding is plain
// whitespace and vanishes in the parse.
func (c *Codec) Decode(b []byte) (any, error) {
	switch c.typ {
	case OpaqueBytes:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case NumericArray:
		return c.decodeNumeric(b)
	case JSONDocument:
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("codec: corrupt json row: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("codec: unknown data type %d", int(c.typ))
}

func (c *Codec) decodeNumeric(b []byte) (any, error) {
	es := c.elem.Size()
	if len(b)%es != 0 {
		return nil, fmt.Errorf("codec: corrupt numeric row: %d bytes is not a multiple of element size %d", len(b), es)
	}
	n := len(b) / es
	switch c.elem {
	case ElemF32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return out, nil
	case ElemF64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
		}
		return out, nil
	case ElemI32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return out, nil
	case ElemU32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(b[4*i:])
		}
		return out, nil
	case ElemU8:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return nil, fmt.Errorf("codec: unknown element kind %d", int(c.elem))
}
