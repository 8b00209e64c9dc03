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
	"fmt"
	"reflect"
	"testing"

	"github.com/SnellerInc/gpukv/codec"
)

func collect(t *testing.T, c *Cursor) []string {
	t.Helper()
	var keys []string
	for c.Next(testCtx(t)) {
		keys = append(keys, c.Key())
		if c.Value() == nil {
			t.Fatalf("cursor yielded nil value for %q", c.Key())
		}
	}
	if c.Err() != nil {
		t.Fatal(c.Err())
	}
	return keys
}

func TestCursorRange(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	for i := 100; i <= 200; i++ {
		k := fmt.Sprintf("%d", i)
		if err := st.Put(ctx, k, keyDoc(k)); err != nil {
			t.Fatal(err)
		}
	}
	lower, upper := "120", "125"
	got := collect(t, st.Cursor(CursorOptions{
		Range:      &Range{Lower: &lower, Upper: &upper, UpperExclusive: true},
		Descending: true,
	}))
	want := []string{"124", "123", "122", "121", "120"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCursorBounds(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	for _, k := range []string{"a", "b", "c", "d"} {
		if err := st.Put(ctx, k, keyDoc(k)); err != nil {
			t.Fatal(err)
		}
	}
	b, c := "b", "c"
	testcases := []struct {
		opts CursorOptions
		want []string
	}{
		{CursorOptions{}, []string{"a", "b", "c", "d"}},
		{CursorOptions{Descending: true}, []string{"d", "c", "b", "a"}},
		{CursorOptions{Range: &Range{Lower: &b}}, []string{"b", "c", "d"}},
		{CursorOptions{Range: &Range{Lower: &b, LowerExclusive: true}}, []string{"c", "d"}},
		{CursorOptions{Range: &Range{Upper: &c}}, []string{"a", "b", "c"}},
		{CursorOptions{Range: &Range{Upper: &c, UpperExclusive: true}}, []string{"a", "b"}},
		{CursorOptions{Range: &Range{Lower: &b, Upper: &c}}, []string{"b", "c"}},
	}
	for i, tc := range testcases {
		got := collect(t, st.Cursor(tc.opts))
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func TestCursorSkipsDeleted(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	for _, k := range []string{"a", "b", "c"} {
		if err := st.Put(ctx, k, keyDoc(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Delete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	got := collect(t, st.Cursor(CursorOptions{}))
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("got %v", got)
	}
}

func TestCursorEmpty(t *testing.T) {
	db, _ := testDB(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	if got := collect(t, st.Cursor(CursorOptions{})); len(got) != 0 {
		t.Errorf("got %v from empty store", got)
	}
}
