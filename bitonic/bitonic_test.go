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

package bitonic

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/SnellerInc/gpukv/gpu"
	"github.com/SnellerInc/gpukv/gpu/gpumem"
)

func randomItems(rng *rand.Rand, fields, rows, span int) []uint32 {
	items := make([]uint32, 0, rows*(1+fields))
	for r := 0; r < rows; r++ {
		items = append(items, uint32(r+1))
		for f := 0; f < fields; f++ {
			items = append(items, uint32(rng.Intn(span)))
		}
	}
	return items
}

func TestSortMatchesReference(t *testing.T) {
	dev := gpumem.New(gpu.Limits{})
	defer dev.Close()
	eng, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(0x5eed))
	ctx := context.Background()

	testcases := []struct {
		fields, rows, span int
	}{
		{2, 1, 10},
		{2, 2, 10},
		{2, 7, 4}, // duplicates, non-power-of-two
		{2, 64, 1000},
		{4, 100, 8}, // many ties across two 2-word fields
		{6, 333, 1 << 30},
		{2, 1024, 2},
	}
	for _, tc := range testcases {
		items := randomItems(rng, tc.fields, tc.rows, tc.span)
		got, err := eng.Sort(ctx, items, tc.fields, tc.rows)
		if err != nil {
			t.Fatalf("fields=%d rows=%d: %v", tc.fields, tc.rows, err)
		}
		if len(got) != tc.rows {
			t.Fatalf("fields=%d rows=%d: %d ids returned", tc.fields, tc.rows, len(got))
		}
		// permutation of the input row ids
		seen := make(map[uint32]bool, tc.rows)
		for _, id := range got {
			if id == 0 || int(id) > tc.rows || seen[id] {
				t.Fatalf("fields=%d rows=%d: id %d is not a permutation element", tc.fields, tc.rows, id)
			}
			seen[id] = true
		}
		// field tuples are non-decreasing
		stride := 1 + tc.fields
		byID := make(map[uint32][]uint32, tc.rows)
		for r := 0; r < tc.rows; r++ {
			byID[items[r*stride]] = items[r*stride+1 : (r+1)*stride]
		}
		for i := 1; i < len(got); i++ {
			prev, cur := byID[got[i-1]], byID[got[i]]
			for w := 0; w < tc.fields; w++ {
				if prev[w] != cur[w] {
					if prev[w] > cur[w] {
						t.Fatalf("fields=%d rows=%d: ids %d,%d out of order", tc.fields, tc.rows, got[i-1], got[i])
					}
					break
				}
			}
		}
	}
}

func TestSortDistinctExact(t *testing.T) {
	dev := gpumem.New(gpu.Limits{})
	defer dev.Close()
	eng, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}
	// row id r+1 carries value rows-r, so the
	// sorted ids are exactly rows..1
	const rows = 37
	items := make([]uint32, 0, rows*3)
	for r := 0; r < rows; r++ {
		items = append(items, uint32(r+1), 0, uint32(rows-r))
	}
	got, err := eng.Sort(context.Background(), items, 2, rows)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]uint32, rows)
	for i := range want {
		want[i] = uint32(rows - i)
	}
	if !sort.SliceIsSorted(got, func(a, b int) bool { return got[a] > got[b] }) {
		t.Fatalf("ids not strictly descending: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: id %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSortEmpty(t *testing.T) {
	dev := gpumem.New(gpu.Limits{})
	defer dev.Close()
	eng, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}
	got, err := eng.Sort(context.Background(), nil, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("%d ids from an empty sort", len(got))
	}
}

func TestSortBudget(t *testing.T) {
	dev := gpumem.New(gpu.Limits{MaxStorageBufferBindingSize: 64})
	defer dev.Close()
	eng, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}
	items := randomItems(rand.New(rand.NewSource(1)), 2, 16, 100)
	_, err = eng.Sort(context.Background(), items, 2, 16)
	if !errors.Is(err, ErrBudget) {
		t.Fatalf("err = %v, want ErrBudget", err)
	}
}

func TestSortShapeMismatch(t *testing.T) {
	dev := gpumem.New(gpu.Limits{})
	defer dev.Close()
	eng, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Sort(context.Background(), make([]uint32, 5), 2, 2); err == nil {
		t.Error("mismatched item words accepted")
	}
}
