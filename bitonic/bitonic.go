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

// Package bitonic runs the device-side sort of
// fixed-stride u32 sort items.
//
// An item is (row_id, field_words...). The engine
// uploads the concatenated items, runs the
// compare-exchange passes of a bitonic network,
// and reads back the row ids in sorted order. The
// kernel binds (items, params, debug_swapped), in
// that order, with a workgroup size of 256.
package bitonic

import (
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/SnellerInc/gpukv/gpu"
	"github.com/SnellerInc/gpukv/internal/ints"
)

//go:embed shader.wgsl
var shaderWGSL string

// Workgroup is the kernel's workgroup x-size; it
// matches @workgroup_size in shader.wgsl.
const Workgroup = 256

// ErrBudget indicates the item buffer would exceed
// the device's maximum storage binding size; the
// sort is skipped.
var ErrBudget = errors.New("sort items exceed device storage binding budget")

// Engine owns the compiled pipeline for one
// device.
type Engine struct {
	dev  gpu.Device
	pipe gpu.Pipeline
}

// New compiles the bitonic pipeline on dev.
func New(dev gpu.Device) (*Engine, error) {
	pipe, err := dev.CreatePipeline(gpu.PipelineDesc{
		Label:  "bitonic-sort",
		Source: shaderWGSL,
		Entry:  "bitonic_pass",
	})
	if err != nil {
		return nil, fmt.Errorf("bitonic: compiling pipeline: %w", err)
	}
	return &Engine{dev: dev, pipe: pipe}, nil
}

type params struct {
	size, halfSize        uint32
	rowCount, paddedCount uint32
	fieldsPerItem         uint32
}

func (p *params) marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], p.size)
	binary.LittleEndian.PutUint32(dst[4:], p.halfSize)
	binary.LittleEndian.PutUint32(dst[8:], p.rowCount)
	binary.LittleEndian.PutUint32(dst[12:], p.paddedCount)
	binary.LittleEndian.PutUint32(dst[16:], p.fieldsPerItem)
}

// Sort uploads items (rows × (1+fields) words),
// runs the network, and returns the row ids in
// ascending item order. The input slice is not
// modified.
//
// Sort returns ErrBudget without touching the
// device if the padded item buffer cannot be bound
// as storage.
func (e *Engine) Sort(ctx context.Context, items []uint32, fields, rows int) ([]uint32, error) {
	stride := 1 + fields
	if len(items) != rows*stride {
		return nil, fmt.Errorf("bitonic: %d items words, want %d rows × stride %d", len(items), rows, stride)
	}
	if rows == 0 {
		return []uint32{}, nil
	}
	padded := ints.NextPow2(rows)
	itemBytes := int64(padded) * int64(stride) * 4
	if itemBytes > e.dev.Limits().MaxStorageBufferBindingSize {
		return nil, fmt.Errorf("bitonic: %d bytes of sort items: %w", itemBytes, ErrBudget)
	}

	buf := make([]byte, itemBytes)
	for i, w := range items {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	// pad with all-ones items; they sink to the
	// tail of the ascending result
	for i := 4 * len(items); i < len(buf); i++ {
		buf[i] = 0xff
	}

	itemBuf, err := e.dev.CreateBuffer(gpu.BufferDesc{
		Label: "bitonic/items",
		Size:  itemBytes,
		Usage: gpu.Storage | gpu.CopySrc | gpu.CopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer itemBuf.Destroy()
	paramBuf, err := e.dev.CreateBuffer(gpu.BufferDesc{
		Label: "bitonic/params",
		Size:  32,
		Usage: gpu.Uniform | gpu.CopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer paramBuf.Destroy()
	debugBuf, err := e.dev.CreateBuffer(gpu.BufferDesc{
		Label: "bitonic/debug-swapped",
		Size:  4,
		Usage: gpu.Storage | gpu.CopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer debugBuf.Destroy()

	if err := e.dev.WriteBuffer(itemBuf, 0, buf); err != nil {
		return nil, err
	}

	groups := uint32((padded + Workgroup - 1) / Workgroup)
	var pbuf [20]byte
	var zero [4]byte
	for size := uint32(2); size <= uint32(padded); size *= 2 {
		for half := size / 2; half >= 1; half /= 2 {
			p := params{
				size:          size,
				halfSize:      half,
				rowCount:      uint32(rows),
				paddedCount:   uint32(padded),
				fieldsPerItem: uint32(fields),
			}
			p.marshal(pbuf[:])
			if err := e.dev.WriteBuffer(paramBuf, 0, pbuf[:]); err != nil {
				return nil, err
			}
			if err := e.dev.WriteBuffer(debugBuf, 0, zero[:]); err != nil {
				return nil, err
			}
			enc := e.dev.NewEncoder()
			enc.Dispatch(e.pipe, groups, itemBuf, paramBuf, debugBuf)
			if err := enc.Submit(); err != nil {
				return nil, err
			}
			if err := e.dev.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	staging, err := e.dev.CreateBuffer(gpu.BufferDesc{
		Label: "bitonic/staging",
		Size:  itemBytes,
		Usage: gpu.MapRead | gpu.CopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	enc := e.dev.NewEncoder()
	enc.CopyBuffer(itemBuf, 0, staging, 0, itemBytes)
	if err := enc.Submit(); err != nil {
		return nil, err
	}
	mapped, err := staging.MapRead(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, rows)
	for i := 0; i < rows; i++ {
		out[i] = binary.LittleEndian.Uint32(mapped[i*stride*4:])
	}
	staging.Unmap()
	return out, nil
}
