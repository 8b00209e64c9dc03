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

// Package gpu describes the compute device
// that the store keeps its payload bytes on.
//
// The interfaces here are the minimum surface the
// core needs: buffer creation with usage flags,
// queued host-to-buffer writes, buffer-to-buffer
// copies recorded through an encoder, queue drain,
// and compute pipeline dispatch. A WebGPU-backed
// implementation maps onto them directly; the
// gpumem sub-package provides an in-process
// reference implementation.
package gpu

import (
	"context"
)

// Usage is a bitmask of buffer capabilities.
// Operations validate usage the way a WebGPU
// implementation would: a copy source must carry
// CopySrc, a mappable staging buffer MapRead, and
// so on.
type Usage uint32

const (
	CopySrc Usage = 1 << iota
	CopyDst
	MapRead
	MapWrite
	Uniform
	Storage
)

// BufferDesc describes a buffer allocation.
type BufferDesc struct {
	// Label is a debugging aid carried by the
	// buffer; it shows up in device errors.
	Label string
	Size  int64
	Usage Usage
}

// PipelineDesc describes a compute pipeline.
type PipelineDesc struct {
	Label string
	// Source is the shader module source (WGSL).
	Source string
	// Entry is the entry point within Source.
	Entry string
}

// Limits carries the device limits the core
// consults before binding resources.
type Limits struct {
	// MaxStorageBufferBindingSize is the largest
	// byte size bindable as a storage buffer.
	MaxStorageBufferBindingSize int64
	// MaxBufferSize is the largest creatable buffer.
	MaxBufferSize int64
}

// Device is a handle to a compute device queue.
//
// All mutating entry points are asynchronous:
// they enqueue work and return. Wait blocks until
// every piece of previously-enqueued work has
// completed on the device timeline.
type Device interface {
	// CreateBuffer allocates a device buffer.
	// Allocation failure is a device-fatal error.
	CreateBuffer(desc BufferDesc) (Buffer, error)
	// CreatePipeline compiles a compute pipeline.
	CreatePipeline(desc PipelineDesc) (Pipeline, error)
	// WriteBuffer enqueues a host-to-device write of
	// data to dst at byte offset off. The data slice
	// is captured by value; the caller may reuse it
	// once WriteBuffer returns.
	WriteBuffer(dst Buffer, off int64, data []byte) error
	// NewEncoder begins recording a command sequence.
	NewEncoder() Encoder
	// Wait blocks until the device queue is drained.
	Wait(ctx context.Context) error
	Limits() Limits
}

// Buffer is a device-resident allocation.
type Buffer interface {
	Label() string
	Size() int64
	Usage() Usage
	// MapRead waits for outstanding device work
	// touching the buffer and returns its contents
	// mapped for host reads. The returned slice is
	// valid until Unmap.
	MapRead(ctx context.Context) ([]byte, error)
	Unmap()
	// Destroy releases the allocation. Using the
	// buffer afterwards is an error.
	Destroy()
}

// Encoder records copies and compute dispatches;
// nothing reaches the device until Submit.
type Encoder interface {
	// CopyBuffer records a buffer-to-buffer copy of
	// n bytes from src+srcOff to dst+dstOff.
	CopyBuffer(src Buffer, srcOff int64, dst Buffer, dstOff int64, n int64)
	// Dispatch records a compute dispatch of the
	// pipeline over groups workgroups with the given
	// buffers bound in declaration order.
	Dispatch(p Pipeline, groups uint32, bindings ...Buffer)
	// Submit hands the recorded commands to the
	// device queue. The encoder may not be reused.
	Submit() error
}

// Pipeline is a compiled compute pipeline.
type Pipeline interface {
	Entry() string
	// WorkgroupSize is the x-dimension workgroup
	// size declared by the shader entry point.
	WorkgroupSize() uint32
}
