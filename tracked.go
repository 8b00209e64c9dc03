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
	"strings"
)

// Tracked owns a JSON document and forwards every
// mutation to its store as a whole-document put.
// It is the explicit-API replacement for a live
// object view: callers mutate through Set and
// Delete instead of writing fields directly.
type Tracked struct {
	st  *Store
	key string
	doc map[string]any
}

// Track loads the current value of key (an object;
// a missing key starts empty) into a tracked view.
func (st *Store) Track(ctx context.Context, key string) (*Tracked, error) {
	v, err := st.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	doc, _ := v.(map[string]any)
	if doc == nil {
		doc = make(map[string]any)
	}
	return &Tracked{st: st, key: key, doc: doc}, nil
}

// Value returns the current document snapshot.
func (t *Tracked) Value() map[string]any { return t.doc }

// Set assigns v at a dot path, creating
// intermediate objects, and schedules a put of the
// whole document.
func (t *Tracked) Set(ctx context.Context, path string, v any) error {
	parent, leaf, err := t.walk(path, true)
	if err != nil {
		return err
	}
	parent[leaf] = v
	return t.st.Put(ctx, t.key, t.doc)
}

// Delete removes the value at a dot path and
// schedules a put. Deleting a missing path is a
// no-op that still schedules the put.
func (t *Tracked) Delete(ctx context.Context, path string) error {
	parent, leaf, err := t.walk(path, false)
	if err != nil {
		return err
	}
	if parent != nil {
		delete(parent, leaf)
	}
	return t.st.Put(ctx, t.key, t.doc)
}

// walk resolves the parent object of a dot path.
// With create set, missing intermediate objects
// are inserted; otherwise a missing step yields a
// nil parent.
func (t *Tracked) walk(path string, create bool) (map[string]any, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	steps := strings.Split(path, ".")
	cur := t.doc
	for _, step := range steps[:len(steps)-1] {
		next, ok := cur[step].(map[string]any)
		if !ok {
			if !create {
				return nil, "", nil
			}
			if _, exists := cur[step]; exists {
				return nil, "", fmt.Errorf("%w: path %q crosses non-object", ErrInvalidArgument, path)
			}
			next = make(map[string]any)
			cur[step] = next
		}
		cur = next
	}
	return cur, steps[len(steps)-1], nil
}
