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

package gpukv

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/SnellerInc/gpukv/gpu"
	"github.com/SnellerInc/gpukv/internal/ints"
)

// rowAlign is the placement alignment of every row
// inside a chunk. It also guarantees element
// alignment for every numeric element kind.
const rowAlign = 256

// chunk is one device buffer owned by a store.
// used is the high-water mark of a bump allocation
// discipline; it never moves backwards while the
// chunk lives.
type chunk struct {
	idx  int
	buf  gpu.Buffer
	cap  int64
	used int64
	rows int
}

// allocator packs variable-length rows into a
// growing list of chunks. Placement is append-only
// under rowAlign; space is reclaimed only by
// destroying whole chunks.
type allocator struct {
	dev    gpu.Device
	store  string
	defcap int64
	chunks []*chunk
}

func (a *allocator) newChunk(capacity int64) (*chunk, error) {
	label := fmt.Sprintf("%s/chunk-%d-%s", a.store, len(a.chunks), uuid.NewString()[:8])
	buf, err := a.dev.CreateBuffer(gpu.BufferDesc{
		Label: label,
		Size:  capacity,
		Usage: gpu.CopySrc | gpu.CopyDst,
	})
	if err != nil {
		return nil, &DeviceError{Op: "chunk allocation", Err: err}
	}
	c := &chunk{idx: len(a.chunks), buf: buf, cap: capacity}
	a.chunks = append(a.chunks, c)
	return c, nil
}

// place finds a 256-byte aligned offset for n
// bytes, growing the chunk list as needed. n may
// exceed the default capacity; the new chunk is
// enlarged to fit.
func (a *allocator) place(n int64) (*chunk, int64, error) {
	if len(a.chunks) > 0 {
		last := a.chunks[len(a.chunks)-1]
		aligned := ints.AlignUp(last.used, rowAlign)
		if aligned+n <= last.cap {
			last.used = aligned + n
			return last, aligned, nil
		}
	}
	c, err := a.newChunk(max64(a.defcap, ints.AlignUp(n, rowAlign)))
	if err != nil {
		return nil, 0, err
	}
	c.used = ints.AlignUp(n, rowAlign)
	return c, 0, nil
}

// reset destroys every chunk. When fresh is true a
// new empty chunk of the default capacity is
// allocated immediately.
func (a *allocator) reset(fresh bool) error {
	for _, c := range a.chunks {
		c.buf.Destroy()
	}
	a.chunks = a.chunks[:0]
	if !fresh {
		return nil
	}
	_, err := a.newChunk(a.defcap)
	return err
}

func (a *allocator) usedBytes() (used, capacity int64) {
	for _, c := range a.chunks {
		used += c.used
		capacity += c.cap
	}
	return used, capacity
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
