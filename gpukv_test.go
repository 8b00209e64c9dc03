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
	"testing"
	"time"

	"github.com/SnellerInc/gpukv/gpu"
	"github.com/SnellerInc/gpukv/gpu/gpumem"
)

// testDB opens a DB on a fresh in-memory device
// with a short debounce window.
func testDB(t *testing.T, opts ...Option) (*DB, *gpumem.Device) {
	t.Helper()
	dev := gpumem.New(gpu.Limits{})
	opts = append([]Option{WithFlushInterval(5 * time.Millisecond)}, opts...)
	db, err := Open(dev, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dev
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// checkInvariants asserts the row-placement
// invariants that must hold after every public
// operation.
func checkInvariants(t *testing.T, st *Store) {
	t.Helper()
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	activeByKey := make(map[string]rowID)
	for i := range st.dir.rows {
		r := &st.dir.rows[i]
		if r.off%rowAlign != 0 {
			t.Errorf("row %d: offset %d not 256-byte aligned", r.id, r.off)
		}
		if r.length%4 != 0 {
			t.Errorf("row %d: length %d not a multiple of 4", r.id, r.length)
		}
		if r.chunk < 0 || r.chunk >= len(st.alloc.chunks) {
			t.Errorf("row %d: chunk index %d out of range", r.id, r.chunk)
			continue
		}
		c := st.alloc.chunks[r.chunk]
		if r.off+r.length > c.cap {
			t.Errorf("row %d: extent [%d, %d) outside chunk capacity %d", r.id, r.off, r.off+r.length, c.cap)
		}
		if c.used > c.cap {
			t.Errorf("chunk %d: used %d exceeds capacity %d", c.idx, c.used, c.cap)
		}
		if r.active() {
			if prev, ok := activeByKey[r.key]; ok {
				t.Errorf("key %q: rows %d and %d both active", r.key, prev, r.id)
			}
			activeByKey[r.key] = r.id
		}
	}
}
