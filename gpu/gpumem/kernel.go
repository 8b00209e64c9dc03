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

package gpumem

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"

	"github.com/SnellerInc/gpukv/gpu"
)

// kernelFn is a host implementation of a compute
// entry point. It receives the dispatch width, the
// workgroup x-size, and the bound buffers in
// binding order.
type kernelFn func(groups, wgsize uint32, bindings []*buffer)

// kernels maps shader entry points to their host
// implementations. A real device compiles the WGSL
// instead; this device only knows the kernels the
// store core ships.
var kernels = map[string]kernelFn{
	"bitonic_pass": bitonicPass,
}

type pipeline struct {
	label  string
	entry  string
	wgsize uint32
	kern   kernelFn
}

func (p *pipeline) Entry() string         { return p.entry }
func (p *pipeline) WorkgroupSize() uint32 { return p.wgsize }

var wgsizeRe = regexp.MustCompile(`@workgroup_size\(\s*(\d+)`)

// CreatePipeline resolves the entry point against
// the built-in kernel table and extracts the
// declared workgroup size from the shader source.
func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	kern, ok := kernels[desc.Entry]
	if !ok {
		return nil, fmt.Errorf("gpumem: no host kernel for entry point %q", desc.Entry)
	}
	m := wgsizeRe.FindStringSubmatch(desc.Source)
	if m == nil {
		return nil, fmt.Errorf("gpumem: pipeline %q: no @workgroup_size in shader", desc.Label)
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil || n == 0 {
		return nil, fmt.Errorf("gpumem: pipeline %q: bad workgroup size %q", desc.Label, m[1])
	}
	return &pipeline{
		label:  desc.Label,
		entry:  desc.Entry,
		wgsize: uint32(n),
		kern:   kern,
	}, nil
}

func (p *pipeline) validate(bindings []*buffer) error {
	if len(bindings) != 3 {
		return fmt.Errorf("gpumem: %s: want 3 bindings, have %d", p.entry, len(bindings))
	}
	if bindings[0].usage&gpu.Storage == 0 {
		return fmt.Errorf("gpumem: %s: binding 0 (%q) lacks Storage", p.entry, bindings[0].label)
	}
	if bindings[1].usage&gpu.Uniform == 0 {
		return fmt.Errorf("gpumem: %s: binding 1 (%q) lacks Uniform", p.entry, bindings[1].label)
	}
	if bindings[2].usage&gpu.Storage == 0 {
		return fmt.Errorf("gpumem: %s: binding 2 (%q) lacks Storage", p.entry, bindings[2].label)
	}
	for i := range bindings {
		if bindings[i].destroyed {
			return fmt.Errorf("gpumem: %s: binding %d destroyed", p.entry, i)
		}
	}
	return nil
}

func ld32(b []byte, word uint32) uint32 {
	return binary.LittleEndian.Uint32(b[word*4:])
}

func st32(b []byte, word, v uint32) {
	binary.LittleEndian.PutUint32(b[word*4:], v)
}

// bitonicPass executes one compare-exchange pass
// of the bitonic network. It matches the WGSL
// kernel shipped by the bitonic package: bindings
// are (items, params, debug_swapped); params is
// (size, half_size, row_count, padded_count,
// fields_per_item); each item is 1+fields_per_item
// words, the leading word being the row id, and
// comparisons run over the field words only.
func bitonicPass(groups, wgsize uint32, bindings []*buffer) {
	items := bindings[0].data
	params := bindings[1].data
	debug := bindings[2].data

	size := ld32(params, 0)
	half := ld32(params, 1)
	padded := ld32(params, 3)
	fields := ld32(params, 4)
	stride := 1 + fields

	for i := uint32(0); i < groups*wgsize; i++ {
		if i >= padded {
			continue
		}
		mate := i ^ half
		if mate <= i || mate >= padded {
			continue
		}
		// ascending block when the size bit of i is
		// clear; the final merge (size == padded) is
		// entirely ascending
		up := i&size == 0
		a := i * stride
		b := mate * stride
		cmp := 0
		for w := uint32(1); w <= fields; w++ {
			wa, wb := ld32(items, a+w), ld32(items, b+w)
			if wa != wb {
				if wa > wb {
					cmp = 1
				} else {
					cmp = -1
				}
				break
			}
		}
		if (up && cmp > 0) || (!up && cmp < 0) {
			for w := uint32(0); w <= fields; w++ {
				wa, wb := ld32(items, a+w), ld32(items, b+w)
				st32(items, a+w, wb)
				st32(items, b+w, wa)
			}
			st32(debug, 0, ld32(debug, 0)+1)
		}
	}
}
