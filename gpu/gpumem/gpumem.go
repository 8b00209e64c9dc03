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

// Package gpumem implements the gpu interfaces in
// host memory.
//
// The device keeps every buffer as a plain byte
// slice and executes submissions on a single
// worker goroutine, so the asynchronous-queue
// discipline of a real device (submit, then Wait
// for the timeline) is preserved while remaining
// fully deterministic. Compute pipelines are
// executed by host implementations of the known
// kernel entry points.
package gpumem

import (
	"context"
	"fmt"

	"github.com/SnellerInc/gpukv/gpu"
)

// DefaultLimits mirror the WebGPU defaults that
// matter to the store core.
var DefaultLimits = gpu.Limits{
	MaxStorageBufferBindingSize: 128 << 20,
	MaxBufferSize:               256 << 20,
}

// Device is an in-memory gpu.Device.
//
// The zero value is not usable; call New.
type Device struct {
	// WriteHook, if non-nil, runs before every
	// WriteBuffer and may reject it by returning
	// an error. Tests use it to inject per-entry
	// write failures.
	WriteHook func(dst gpu.Buffer, off int64, n int) error

	limits gpu.Limits

	work chan func()
}

// New creates a device with the given limits;
// zero fields fall back to DefaultLimits.
func New(limits gpu.Limits) *Device {
	if limits.MaxStorageBufferBindingSize == 0 {
		limits.MaxStorageBufferBindingSize = DefaultLimits.MaxStorageBufferBindingSize
	}
	if limits.MaxBufferSize == 0 {
		limits.MaxBufferSize = DefaultLimits.MaxBufferSize
	}
	d := &Device{
		limits: limits,
		work:   make(chan func(), 256),
	}
	go d.run()
	return d
}

func (d *Device) run() {
	for fn := range d.work {
		fn()
	}
}

func (d *Device) enqueue(fn func()) {
	d.work <- fn
}

// Wait blocks until all previously submitted work
// has executed on the device worker.
func (d *Device) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	d.enqueue(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the worker goroutine. The
// device may not be used afterwards.
func (d *Device) Close() error {
	err := d.Wait(context.Background())
	close(d.work)
	return err
}

func (d *Device) Limits() gpu.Limits { return d.limits }

// CreateBuffer allocates a zeroed buffer.
func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size < 0 {
		return nil, fmt.Errorf("gpumem: buffer %q: negative size %d", desc.Label, desc.Size)
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("gpumem: buffer %q: size %d exceeds device limit %d",
			desc.Label, desc.Size, d.limits.MaxBufferSize)
	}
	return &buffer{
		dev:   d,
		label: desc.Label,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}, nil
}

// WriteBuffer validates the write synchronously
// and enqueues the actual copy.
func (d *Device) WriteBuffer(dst gpu.Buffer, off int64, data []byte) error {
	b, ok := dst.(*buffer)
	if !ok || b.dev != d {
		return fmt.Errorf("gpumem: write to foreign buffer %q", dst.Label())
	}
	if b.destroyed {
		return fmt.Errorf("gpumem: write to destroyed buffer %q", b.label)
	}
	if b.usage&gpu.CopyDst == 0 {
		return fmt.Errorf("gpumem: buffer %q not writable (usage %#x)", b.label, b.usage)
	}
	if off < 0 || off+int64(len(data)) > int64(len(b.data)) {
		return fmt.Errorf("gpumem: write [%d, %d) out of bounds of buffer %q (size %d)",
			off, off+int64(len(data)), b.label, len(b.data))
	}
	if d.WriteHook != nil {
		if err := d.WriteHook(dst, off, len(data)); err != nil {
			return err
		}
	}
	shadow := make([]byte, len(data))
	copy(shadow, data)
	d.enqueue(func() {
		copy(b.data[off:], shadow)
	})
	return nil
}

func (d *Device) NewEncoder() gpu.Encoder {
	return &encoder{dev: d}
}

type buffer struct {
	dev       *Device
	label     string
	usage     gpu.Usage
	data      []byte
	mapped    bool
	destroyed bool
}

func (b *buffer) Label() string   { return b.label }
func (b *buffer) Size() int64     { return int64(len(b.data)) }
func (b *buffer) Usage() gpu.Usage { return b.usage }

func (b *buffer) MapRead(ctx context.Context) ([]byte, error) {
	if b.destroyed {
		return nil, fmt.Errorf("gpumem: map of destroyed buffer %q", b.label)
	}
	if b.usage&gpu.MapRead == 0 {
		return nil, fmt.Errorf("gpumem: buffer %q not mappable (usage %#x)", b.label, b.usage)
	}
	if err := b.dev.Wait(ctx); err != nil {
		return nil, err
	}
	b.mapped = true
	return b.data, nil
}

func (b *buffer) Unmap() { b.mapped = false }

func (b *buffer) Destroy() {
	b.destroyed = true
}

type command struct {
	// copy command when n > 0
	src, dst       *buffer
	srcOff, dstOff int64
	n              int64
	// dispatch command when pipe != nil
	pipe     *pipeline
	groups   uint32
	bindings []*buffer
}

type encoder struct {
	dev       *Device
	cmds      []command
	submitted bool
}

func (e *encoder) CopyBuffer(src gpu.Buffer, srcOff int64, dst gpu.Buffer, dstOff int64, n int64) {
	e.cmds = append(e.cmds, command{
		src:    src.(*buffer),
		dst:    dst.(*buffer),
		srcOff: srcOff,
		dstOff: dstOff,
		n:      n,
	})
}

func (e *encoder) Dispatch(p gpu.Pipeline, groups uint32, bindings ...gpu.Buffer) {
	bufs := make([]*buffer, len(bindings))
	for i := range bindings {
		bufs[i] = bindings[i].(*buffer)
	}
	e.cmds = append(e.cmds, command{
		pipe:     p.(*pipeline),
		groups:   groups,
		bindings: bufs,
	})
}

// Submit validates every recorded command and
// enqueues the batch for execution.
func (e *encoder) Submit() error {
	if e.submitted {
		return fmt.Errorf("gpumem: encoder submitted twice")
	}
	e.submitted = true
	for i := range e.cmds {
		c := &e.cmds[i]
		if c.pipe != nil {
			if err := c.pipe.validate(c.bindings); err != nil {
				return err
			}
			continue
		}
		if c.src.destroyed || c.dst.destroyed {
			return fmt.Errorf("gpumem: copy touches destroyed buffer")
		}
		if c.src.usage&gpu.CopySrc == 0 {
			return fmt.Errorf("gpumem: copy source %q lacks CopySrc", c.src.label)
		}
		if c.dst.usage&gpu.CopyDst == 0 {
			return fmt.Errorf("gpumem: copy destination %q lacks CopyDst", c.dst.label)
		}
		if c.srcOff < 0 || c.srcOff+c.n > c.src.Size() {
			return fmt.Errorf("gpumem: copy source range [%d, %d) out of bounds of %q",
				c.srcOff, c.srcOff+c.n, c.src.label)
		}
		if c.dstOff < 0 || c.dstOff+c.n > c.dst.Size() {
			return fmt.Errorf("gpumem: copy destination range [%d, %d) out of bounds of %q",
				c.dstOff, c.dstOff+c.n, c.dst.label)
		}
	}
	cmds := e.cmds
	e.dev.enqueue(func() {
		for i := range cmds {
			c := &cmds[i]
			if c.pipe != nil {
				c.pipe.kern(c.groups, c.pipe.wgsize, c.bindings)
				continue
			}
			copy(c.dst.data[c.dstOff:c.dstOff+c.n], c.src.data[c.srcOff:c.srcOff+c.n])
		}
	})
	return nil
}
