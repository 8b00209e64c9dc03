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
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/SnellerInc/gpukv/gpu"
)

// expandKeys replaces wildcard patterns with their
// matches against the live key set, in key-index
// order. Plain keys pass through at their original
// position.
func (st *Store) expandKeys(keys []string) ([]string, error) {
	n := 0
	for _, k := range keys {
		if isWildcard(k) {
			n = -1
			break
		}
		n++
	}
	if n == len(keys) {
		return keys, nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !isWildcard(k) {
			out = append(out, k)
			continue
		}
		re, err := wildcardRegexp(k)
		if err != nil {
			return nil, err
		}
		for _, bound := range st.dir.order {
			if _, ok := st.dir.findActive(bound); !ok {
				continue
			}
			if re.MatchString(bound) {
				out = append(out, bound)
			}
		}
	}
	return out, nil
}

// readRows flushes pending writes, then gathers
// the active rows for keys into one staging
// readback and decodes them. Position i of the
// result holds the value for keys[i] or nil.
func (st *Store) readRows(ctx context.Context, keys []string) ([]any, error) {
	if err := st.coal.flush(ctx); err != nil {
		return nil, err
	}

	results := make([]any, len(keys))
	type gatherRow struct {
		pos    int
		chunk  *chunk
		off    int64
		length int64
		at     int64 // offset within the gather buffer
	}
	var rows []gatherRow
	var total int64
	for i, k := range keys {
		r, ok := st.dir.findActive(k)
		if !ok {
			continue
		}
		rows = append(rows, gatherRow{
			pos:    i,
			chunk:  st.alloc.chunks[r.chunk],
			off:    r.off,
			length: r.length,
			at:     total,
		})
		total += r.length
	}
	if len(rows) == 0 {
		return results, nil
	}
	metricReadRows.WithLabelValues(st.name).Add(float64(len(rows)))

	gather, err := st.db.dev.CreateBuffer(gpu.BufferDesc{
		Label: st.name + "/gather",
		Size:  total,
		Usage: gpu.CopySrc | gpu.CopyDst,
	})
	if err != nil {
		return nil, &DeviceError{Op: "gather allocation", Err: err}
	}
	defer gather.Destroy()

	enc := st.db.dev.NewEncoder()
	for i := range rows {
		r := &rows[i]
		if r.length == 0 {
			continue
		}
		enc.CopyBuffer(r.chunk.buf, r.off, gather, r.at, r.length)
	}
	if err := enc.Submit(); err != nil {
		return nil, &DeviceError{Op: "gather copy", Err: err}
	}

	staging, err := st.db.dev.CreateBuffer(gpu.BufferDesc{
		Label: st.name + "/staging",
		Size:  total,
		Usage: gpu.CopyDst | gpu.MapRead,
	})
	if err != nil {
		return nil, &DeviceError{Op: "staging allocation", Err: err}
	}
	defer staging.Destroy()

	enc = st.db.dev.NewEncoder()
	enc.CopyBuffer(gather, 0, staging, 0, total)
	if err := enc.Submit(); err != nil {
		return nil, &DeviceError{Op: "staging copy", Err: err}
	}
	mapped, err := staging.MapRead(ctx)
	if err != nil {
		return nil, &DeviceError{Op: "staging map", Err: err}
	}
	host := make([]byte, total)
	copy(host, mapped)
	staging.Unmap()

	var g errgroup.Group
	for i := range rows {
		r := &rows[i]
		g.Go(func() error {
			v, err := st.codec.Decode(host[r.at : r.at+r.length])
			if err != nil {
				return fmt.Errorf("row for key %q: %w", keys[r.pos], err)
			}
			results[r.pos] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
