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
	"github.com/google/btree"
)

// rowID identifies a row within one store. Ids
// start at 1 and are never reused; they double as
// the leading word of device sort items.
type rowID uint32

const flagInactive = 0x1

// rowRecord locates one row slot on the device.
type rowRecord struct {
	id     rowID
	key    string
	chunk  int
	off    int64
	length int64
	flags  uint32
}

func (r *rowRecord) active() bool { return r.flags&flagInactive == 0 }

// directory owns the row records and the key index
// of one store. The row list only ever grows;
// overwritten and deleted rows are marked inactive
// in place. Key enumeration order is first-bind
// order, stable across overwrite and delete.
type directory struct {
	rows   []rowRecord
	byKey  map[string]rowID
	order  []string
	sorted *btree.BTreeG[string]
}

func newDirectory() *directory {
	return &directory{
		byKey:  make(map[string]rowID),
		sorted: btree.NewG[string](32, func(a, b string) bool { return a < b }),
	}
}

// row returns the record for id; id must be valid.
func (d *directory) row(id rowID) *rowRecord {
	return &d.rows[id-1]
}

// findActive resolves key to its row record if the
// key is bound and the row is active.
func (d *directory) findActive(key string) (*rowRecord, bool) {
	id, ok := d.byKey[key]
	if !ok {
		return nil, false
	}
	r := d.row(id)
	if !r.active() {
		return nil, false
	}
	return r, true
}

// appendRow appends a fresh row record bound to
// key and returns it. A previous binding of key is
// replaced (its row must already be inactive).
func (d *directory) appendRow(key string, chunk int, off, length int64) *rowRecord {
	id := rowID(len(d.rows) + 1)
	d.rows = append(d.rows, rowRecord{
		id:     id,
		key:    key,
		chunk:  chunk,
		off:    off,
		length: length,
	})
	if _, bound := d.byKey[key]; !bound {
		d.order = append(d.order, key)
		d.sorted.ReplaceOrInsert(key)
	}
	d.byKey[key] = id
	return &d.rows[len(d.rows)-1]
}

// activeRows counts rows with the inactive bit
// clear.
func (d *directory) activeRows() int {
	n := 0
	for i := range d.rows {
		if d.rows[i].active() {
			n++
		}
	}
	return n
}

// reset drops every row and binding.
func (d *directory) reset() {
	d.rows = nil
	d.byKey = make(map[string]rowID)
	d.order = nil
	d.sorted.Clear(false)
}
