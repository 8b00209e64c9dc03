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
)

// Range bounds a cursor over string keys. Bounds
// are inclusive unless the matching Exclusive flag
// is set; a nil bound is open.
type Range struct {
	Lower          *string
	Upper          *string
	LowerExclusive bool
	UpperExclusive bool
}

func (r *Range) contains(k string) bool {
	if r == nil {
		return true
	}
	if r.Lower != nil {
		if k < *r.Lower || (r.LowerExclusive && k == *r.Lower) {
			return false
		}
	}
	if r.Upper != nil {
		if k > *r.Upper || (r.UpperExclusive && k == *r.Upper) {
			return false
		}
	}
	return true
}

// CursorOptions configure Cursor.
type CursorOptions struct {
	Range      *Range
	Descending bool
}

// Cursor iterates records in lexicographic key
// order. The key set is snapshotted when the
// cursor is created; each record is fetched
// through the bulk reader, so the cursor observes
// mutations that precede the fetch of its row.
type Cursor struct {
	st   *Store
	keys []string
	pos  int
	key  string
	val  any
	err  error
}

// Cursor opens a cursor over the store's active
// keys, ascending unless opts.Descending.
func (st *Store) Cursor(opts CursorOptions) *Cursor {
	st.db.lock.Lock()
	var keys []string
	st.dir.sorted.Ascend(func(k string) bool {
		if opts.Range != nil && opts.Range.Upper != nil && k > *opts.Range.Upper {
			return false
		}
		if opts.Range.contains(k) {
			keys = append(keys, k)
		}
		return true
	})
	st.db.lock.Unlock()
	if opts.Descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return &Cursor{st: st, keys: keys}
}

// Next advances to the next record with an active
// row, returning false when the cursor is
// exhausted or failed (see Err).
func (c *Cursor) Next(ctx context.Context) bool {
	for c.pos < len(c.keys) {
		k := c.keys[c.pos]
		c.pos++
		v, err := c.st.Get(ctx, k)
		if err != nil {
			c.err = err
			return false
		}
		if v == nil {
			// deleted since the snapshot
			continue
		}
		c.key, c.val = k, v
		return true
	}
	return false
}

// Key returns the key of the current record.
func (c *Cursor) Key() string { return c.key }

// Value returns the value of the current record.
func (c *Cursor) Value() any { return c.val }

// Err reports the first error the cursor hit.
func (c *Cursor) Err() error { return c.err }
