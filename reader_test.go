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

func keyDoc(k string) map[string]any {
	return map[string]any{"key": k}
}

func TestGetManyPositions(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	for _, k := range []string{"a", "b", "c"} {
		if err := st.Put(ctx, k, keyDoc(k)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.GetMany(ctx, []string{"c", "missing", "a"})
	if err != nil {
		t.Fatal(err)
	}
	want := []any{keyDoc("c"), nil, keyDoc("a")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := st.GetMany(ctx, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil keys: err = %v", err)
	}
}

func TestWildcardExpansion(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	for _, k := range []string{"user:1", "user:2", "user:10", "admin:1"} {
		if err := st.Put(ctx, k, keyDoc(k)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.GetMany(ctx, []string{"user:%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("user:%% expanded to %d values, want 3", len(got))
	}
	// expansion follows key-index (insertion) order
	want := []any{keyDoc("user:1"), keyDoc("user:2"), keyDoc("user:10")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = st.GetMany(ctx, []string{"user:_"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("user:_ expanded to %d values, want 2", len(got))
	}
	if !reflect.DeepEqual(got, []any{keyDoc("user:1"), keyDoc("user:2")}) {
		t.Errorf("got %v", got)
	}

	// literal keys and patterns mix; expansion is
	// in place
	got, err = st.GetMany(ctx, []string{"admin:1", "user:_"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []any{keyDoc("admin:1"), keyDoc("user:1"), keyDoc("user:2")}) {
		t.Errorf("got %v", got)
	}

	// bracket classes
	got, err = st.GetMany(ctx, []string{"user:[12]"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("user:[12] expanded to %d values", len(got))
	}

	// deleted keys do not match
	if err := st.Delete(ctx, "user:2"); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetMany(ctx, []string{"user:%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("after delete, user:%% expanded to %d values", len(got))
	}
}

func TestWildcardNoMatches(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	if err := st.Put(ctx, "a", keyDoc("a")); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetMany(ctx, []string{"z%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("pattern with no matches yielded %d values", len(got))
	}
}

func TestGetPage(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	keys := []string{"e", "a", "d", "b", "c"}
	for _, k := range keys {
		if err := st.Put(ctx, k, keyDoc(k)); err != nil {
			t.Fatal(err)
		}
	}
	// pages follow insertion order, not key order
	got, err := st.GetPage(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []any{keyDoc("a"), keyDoc("d")}) {
		t.Errorf("page(1,2) = %v", got)
	}
	// deleted keys leave nulls at their position
	if err := st.Delete(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetPage(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []any{keyDoc("a"), nil}) {
		t.Errorf("page(1,2) after delete = %v", got)
	}
	// out-of-range pages are empty, short pages
	// truncate
	if got, _ := st.GetPage(ctx, 10, 5); len(got) != 0 {
		t.Errorf("page(10,5) = %v", got)
	}
	if got, _ := st.GetPage(ctx, 3, 99); len(got) != 2 {
		t.Errorf("page(3,99) has %d values", len(got))
	}
	if _, err := st.GetPage(ctx, -1, 2); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative skip: err = %v", err)
	}
	if _, err := st.GetPage(ctx, 0, -2); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative take: err = %v", err)
	}
}

func TestReadSeesPendingWrites(t *testing.T) {
	db, _ := testDB(t)
	ctx := testCtx(t)
	st, _ := db.Create("docs", StoreOptions{DataType: codec.JSONDocument})
	// no AwaitReady between put and get: the read
	// must drain the queue itself
	if err := st.Put(ctx, "k", keyDoc("one")); err != nil {
		t.Fatal(err)
	}
	if err := st.Put(ctx, "k", keyDoc("two")); err != nil {
		t.Fatal(err)
	}
	got, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, keyDoc("two")) {
		t.Errorf("got %v, want the later write", got)
	}
}
