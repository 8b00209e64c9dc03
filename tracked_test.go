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
	"errors"
	"reflect"
	"testing"

	"github.com/SnellerInc/gpukv/codec"
)

func TestTracked(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})

	tr, err := st.Track(ctx, "cfg")
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Set(ctx, "display.theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Set(ctx, "volume", 7.0); err != nil {
		t.Fatal(err)
	}
	got, err := st.Get(ctx, "cfg")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"display": map[string]any{"theme": "dark"},
		"volume":  7.0,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if err := tr.Delete(ctx, "display.theme"); err != nil {
		t.Fatal(err)
	}
	got, err = st.Get(ctx, "cfg")
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]any{"display": map[string]any{}, "volume": 7.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("after delete: got %v, want %v", got, want)
	}

	// a tracked view of an existing record starts
	// from its current value
	tr2, err := st.Track(ctx, "cfg")
	if err != nil {
		t.Fatal(err)
	}
	if tr2.Value()["volume"] != 7.0 {
		t.Errorf("loaded %v", tr2.Value())
	}

	if err := tr.Set(ctx, "", 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty path: err = %v", err)
	}
	if err := tr.Set(ctx, "volume.deeper", 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("path through scalar: err = %v", err)
	}
}
