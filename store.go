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
	"time"

	"github.com/goccy/go-json"

	"github.com/SnellerInc/gpukv/codec"
)

// DefaultBufferSize is the chunk capacity used
// when StoreOptions.BufferSize is zero.
const DefaultBufferSize = 1 << 20

// offsetsBufferSize is the chunk capacity of
// companion offsets stores.
const offsetsBufferSize = 10 << 20

// StoreOptions configure a store at creation.
type StoreOptions struct {
	// DataType fixes the payload discipline.
	DataType codec.DataType
	// ElemKind is required for NumericArray stores
	// and forbidden otherwise.
	ElemKind codec.ElemKind
	// BufferSize is the default chunk capacity in
	// bytes; DefaultBufferSize if zero.
	BufferSize int64
	// FixedRowSize, when nonzero, requires every
	// encoded payload to be exactly this many
	// bytes. NumericArray and OpaqueBytes only.
	FixedRowSize int64
	// TotalRows is the expected row population; it
	// sizes the companion offsets store.
	TotalRows int
	// Sorts declares device-side orderings.
	// JSONDocument stores only.
	Sorts []codec.Definition
}

// Store is one named container of rows. All
// methods serialize on the owning DB; a store must
// not be mutated from two host tasks at once.
type Store struct {
	db   *DB
	name string
	opts StoreOptions

	codec  *codec.Codec
	keyenc *codec.KeyEncoder
	dir    *directory
	alloc  *allocator
	coal   *coalescer

	// offsets is the companion store keeping sort
	// encodings; nil unless Sorts were declared.
	offsets    *Store
	internal   bool
	sorts      map[string][]uint32
	sortsDirty bool
	dropped    bool
}

func (st *Store) Name() string { return st.name }

// write implements add and put.
func (st *Store) write(ctx context.Context, key string, v any, op writeOp) error {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	return st.writeLocked(ctx, key, v, op)
}

func (st *Store) writeLocked(ctx context.Context, key string, v any, op writeOp) error {
	if st.dropped {
		return ErrNoSuchStore
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	payload, err := st.codec.Encode(v)
	if err != nil {
		return err
	}
	if st.opts.FixedRowSize > 0 && int64(len(payload)) != st.opts.FixedRowSize {
		return fmt.Errorf("%w: store %q has fixed row size %d, payload encodes to %d bytes",
			ErrTypeMismatch, st.name, st.opts.FixedRowSize, len(payload))
	}

	rec, exists := st.dir.findActive(key)
	if exists && op == opAdd {
		return fmt.Errorf("%w: %q in store %q", ErrDuplicateKey, key, st.name)
	}
	var target *chunk
	switch {
	case exists && int64(len(payload)) <= rec.length:
		// reuse the slot in place; stale bytes past
		// the new length become unreachable
		rec.length = int64(len(payload))
		target = st.alloc.chunks[rec.chunk]
	default:
		if exists {
			rec.flags |= flagInactive
		}
		c, off, err := st.alloc.place(int64(len(payload)))
		if err != nil {
			return err
		}
		rec = st.dir.appendRow(key, c.idx, off, int64(len(payload)))
		c.rows++
		target = c
	}

	if err := st.afterMutate(ctx, &pendingWrite{
		row:     rec.id,
		key:     key,
		op:      op,
		chunk:   target,
		off:     rec.off,
		payload: payload,
	}); err != nil {
		return err
	}
	return st.updateSortKeys(ctx, key, payload, false)
}

// updateSortKeys maintains the companion offsets
// rows of a JSON store after a mutation of key.
func (st *Store) updateSortKeys(ctx context.Context, key string, payload []byte, remove bool) error {
	if st.offsets == nil {
		return nil
	}
	st.sortsDirty = true
	if remove {
		for i := range st.opts.Sorts {
			if _, err := st.offsets.deleteLocked(ctx, offsetsKey(key, st.opts.Sorts[i].Name)); err != nil {
				return err
			}
		}
		return nil
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("gpukv: %s: re-reading document %q: %w", st.name, key, err)
	}
	for i := range st.opts.Sorts {
		def := &st.opts.Sorts[i]
		words := st.keyenc.Encode(doc, def)
		if err := st.offsets.writeLocked(ctx, offsetsKey(key, def.Name), words, opPut); err != nil {
			return err
		}
	}
	return nil
}

// afterMutate enqueues the write and runs the
// threshold flush when the queue is full.
func (st *Store) afterMutate(ctx context.Context, w *pendingWrite) error {
	if st.coal.enqueue(w) {
		if err := st.coal.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Add inserts a new record; it fails with
// ErrDuplicateKey if the key has an active row.
func (st *Store) Add(ctx context.Context, key string, v any) error {
	return st.write(ctx, key, v, opAdd)
}

// Put inserts or overwrites; the last write wins.
func (st *Store) Put(ctx context.Context, key string, v any) error {
	return st.write(ctx, key, v, opPut)
}

// Delete marks the key's row inactive and
// schedules a zero-fill of its device bytes.
// Deleting a missing or inactive key is a no-op.
func (st *Store) Delete(ctx context.Context, key string) error {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	deleted, err := st.deleteLocked(ctx, key)
	if err != nil || !deleted {
		return err
	}
	return st.updateSortKeys(ctx, key, nil, true)
}

func (st *Store) deleteLocked(ctx context.Context, key string) (bool, error) {
	if st.dropped {
		return false, ErrNoSuchStore
	}
	rec, ok := st.dir.findActive(key)
	if !ok {
		return false, nil
	}
	rec.flags |= flagInactive
	err := st.afterMutate(ctx, &pendingWrite{
		row:     rec.id,
		key:     key,
		op:      opDelete,
		chunk:   st.alloc.chunks[rec.chunk],
		off:     rec.off,
		payload: make([]byte, rec.length),
	})
	return err == nil, err
}

// Get returns the current value for key, or nil if
// the key has no active row. The read drains the
// pending queue first, so it observes every prior
// mutation.
func (st *Store) Get(ctx context.Context, key string) (any, error) {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	if st.dropped {
		return nil, ErrNoSuchStore
	}
	vals, err := st.readRows(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}

// GetMany resolves each key (expanding % _ [ ]
// wildcards against the live key set, in place)
// and returns one value or nil per resulting key.
func (st *Store) GetMany(ctx context.Context, keys []string) ([]any, error) {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	if st.dropped {
		return nil, ErrNoSuchStore
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: nil key list", ErrInvalidArgument)
	}
	expanded, err := st.expandKeys(keys)
	if err != nil {
		return nil, err
	}
	return st.readRows(ctx, expanded)
}

// GetPage reads a slice of the key index in
// insertion order: skip keys are skipped and up to
// take values are returned, nil for keys whose row
// is inactive.
func (st *Store) GetPage(ctx context.Context, skip, take int) ([]any, error) {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	if st.dropped {
		return nil, ErrNoSuchStore
	}
	if skip < 0 || take < 0 {
		return nil, fmt.Errorf("%w: negative page bounds (%d, %d)", ErrInvalidArgument, skip, take)
	}
	if skip >= len(st.dir.order) {
		return []any{}, nil
	}
	end := skip + take
	if end > len(st.dir.order) {
		end = len(st.dir.order)
	}
	return st.readRows(ctx, st.dir.order[skip:end])
}

// Clear destroys every chunk, resets the directory
// and key index, and allocates a fresh empty chunk
// of the default capacity. The store itself (and
// its sort definitions) survive.
func (st *Store) Clear(ctx context.Context) error {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	return st.clearLocked(ctx)
}

func (st *Store) clearLocked(ctx context.Context) error {
	if st.dropped {
		return ErrNoSuchStore
	}
	// drain outstanding writes before their target
	// chunks go away
	if err := st.coal.flush(ctx); err != nil {
		return err
	}
	st.coal.reset()
	st.coal.stopTimer()
	st.dir.reset()
	if err := st.alloc.reset(true); err != nil {
		return err
	}
	st.sorts = make(map[string][]uint32)
	st.sortsDirty = false
	st.coal.markReady()
	if st.offsets != nil {
		return st.offsets.clearLocked(ctx)
	}
	return nil
}

// AwaitReady blocks until every mutation enqueued
// on this store (and its companion offsets store)
// has been flushed by a timed flush and orders are
// rebuilt.
func (st *Store) AwaitReady(ctx context.Context) error {
	for {
		st.db.lock.Lock()
		ch := st.coal.readyCh
		ready := st.coal.ready
		if ready && st.offsets != nil {
			ch = st.offsets.coal.readyCh
			ready = st.offsets.coal.ready
		}
		st.db.lock.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// timedFlush runs when the debounce window
// expires: flush, rebuild sorts, drop the sort-key
// caches. Failures keep readiness false and rearm
// the timer.
func (st *Store) timedFlush() {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	if st.dropped {
		return
	}
	ctx := context.Background()
	if err := st.coal.flush(ctx); err != nil {
		st.db.logf("gpukv: %s: timed flush: %v", st.name, err)
		st.coal.resetTimer()
		return
	}
	if err := st.rebuildSorts(ctx); err != nil {
		st.db.logf("gpukv: %s: sort rebuild: %v", st.name, err)
		st.coal.resetTimer()
		return
	}
	if st.keyenc != nil {
		st.keyenc.DropCaches()
	}
	if len(st.coal.pending) == 0 {
		st.coal.markReady()
	} else {
		// entries held back for retry
		st.coal.resetTimer()
	}
}

// StoreStats is a point-in-time snapshot of a
// store's occupancy and flush history.
type StoreStats struct {
	Chunks            int
	UsedBytes         int64
	CapacityBytes     int64
	ActiveRows        int
	TotalRows         int
	PendingWrites     int
	Flushes           int64
	FlushedBytes      int64
	LastFlushETag     string
	LastFlushDuration time.Duration
}

// Stats reports the store's current occupancy.
func (st *Store) Stats() StoreStats {
	st.db.lock.Lock()
	defer st.db.lock.Unlock()
	used, capacity := st.alloc.usedBytes()
	return StoreStats{
		Chunks:            len(st.alloc.chunks),
		UsedBytes:         used,
		CapacityBytes:     capacity,
		ActiveRows:        st.dir.activeRows(),
		TotalRows:         len(st.dir.rows),
		PendingWrites:     len(st.coal.pending),
		Flushes:           st.coal.flushes,
		FlushedBytes:      st.coal.bytes,
		LastFlushETag:     st.coal.lastETag,
		LastFlushDuration: st.coal.lastDur,
	}
}
