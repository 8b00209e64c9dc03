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
	"errors"
	"fmt"
	"strings"

	"github.com/SnellerInc/gpukv/codec"
)

// offsetsSep joins a primary key with a sort
// definition name in the companion store.
const offsetsSep = "::"

func offsetsKey(key, def string) string {
	return key + offsetsSep + def
}

// rebuildSorts re-sorts every definition of a JSON
// store on the device. A definition whose items
// exceed the device budget keeps its previous
// order; any other failure is fatal.
func (st *Store) rebuildSorts(ctx context.Context) error {
	if st.offsets == nil || !st.sortsDirty {
		return nil
	}
	for i := range st.opts.Sorts {
		def := &st.opts.Sorts[i]
		if err := st.rebuildSort(ctx, def); err != nil {
			if errors.Is(err, ErrSortBudget) {
				st.db.logf("gpukv: %s: sort %q skipped: %v", st.name, def.Name, err)
				metricSortSkips.WithLabelValues(st.name).Inc()
				continue
			}
			return err
		}
	}
	st.sortsDirty = false
	return nil
}

func (st *Store) rebuildSort(ctx context.Context, def *codec.Definition) error {
	suffix := offsetsSep + def.Name

	// enumerate this definition's offset rows
	var okeys []string
	for _, k := range st.offsets.dir.order {
		if !strings.HasSuffix(k, suffix) {
			continue
		}
		if _, ok := st.offsets.dir.findActive(k); ok {
			okeys = append(okeys, k)
		}
	}

	vals, err := st.offsets.readRows(ctx, okeys)
	if err != nil {
		return err
	}

	words := def.Words()
	stride := 1 + words
	items := make([]uint32, 0, len(okeys)*stride)
	rows := 0
	for i, k := range okeys {
		primary := strings.TrimSuffix(k, suffix)
		r, ok := st.dir.findActive(primary)
		if !ok {
			// stale offsets row; its primary record
			// went away after the offsets row landed
			continue
		}
		enc, ok := vals[i].([]uint32)
		if !ok || len(enc) != words {
			return fmt.Errorf("gpukv: %s: sort %q: offsets row %q holds %d words, want %d",
				st.name, def.Name, k, wordCount(vals[i]), words)
		}
		items = append(items, uint32(r.id))
		items = append(items, enc...)
		rows++
	}

	ids, err := st.db.engine.Sort(ctx, items, words, rows)
	if err != nil {
		if errors.Is(err, ErrSortBudget) {
			return err
		}
		return &DeviceError{Op: "sort " + def.Name, Err: err}
	}
	metricSortPasses.WithLabelValues(st.name).Add(float64(passCount(rows)))
	st.sorts[def.Name] = ids
	return nil
}

func wordCount(v any) int {
	if s, ok := v.([]uint32); ok {
		return len(s)
	}
	return -1
}

// passCount returns the number of compute passes a
// bitonic sort of n rows dispatches.
func passCount(n int) int {
	if n < 2 {
		return 0
	}
	k := 0
	for p := 1; p < n; p *= 2 {
		k++
	}
	return k * (k + 1) / 2
}

// OrderedKeys returns the store's keys in the
// order of the named sort definition's last
// completed device pass, flushing writes and
// rebuilding the order first if it is stale. Keys
// whose rows went inactive since the pass are
// omitted.
func (st *Store) OrderedKeys(ctx context.Context, def string) ([]string, error) {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	if st.dropped {
		return nil, ErrNoSuchStore
	}
	if st.offsets == nil {
		return nil, fmt.Errorf("%w: store %q has no sort definitions", ErrInvalidArgument, st.name)
	}
	found := false
	for i := range st.opts.Sorts {
		if st.opts.Sorts[i].Name == def {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no sort definition %q on store %q", ErrInvalidArgument, def, st.name)
	}
	if err := st.coal.flush(ctx); err != nil {
		return nil, err
	}
	if st.sortsDirty {
		if err := st.rebuildSorts(ctx); err != nil {
			return nil, err
		}
	}
	ids := st.sorts[def]
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == 0 || int(id) > len(st.dir.rows) {
			continue
		}
		r := st.dir.row(rowID(id))
		if r.active() {
			out = append(out, r.key)
		}
	}
	return out, nil
}
