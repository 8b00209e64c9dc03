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
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/gpukv/bitonic"
	"github.com/SnellerInc/gpukv/codec"
	"github.com/SnellerInc/gpukv/gpu"
)

// Logger is the logging interface consumed by the
// DB; *log.Logger satisfies it. A nil Logger is
// silent.
type Logger interface {
	Printf(f string, args ...any)
}

// offsetsNameSuffix names the companion store of a
// JSON store with sort definitions.
const offsetsNameSuffix = "-offsets"

// DB owns a set of stores on one device.
//
// The DB serializes every operation internally,
// but the design is single-caller cooperative:
// interleaving mutations to one store from
// multiple host tasks gives no useful ordering.
type DB struct {
	dev      gpu.Device
	log      Logger
	engine   *bitonic.Engine
	session  uuid.UUID
	interval time.Duration

	lock   sync.Mutex
	stores map[string]*Store
}

// Option configures Open.
type Option func(*DB)

// WithLogger routes warnings and retry notices to l.
func WithLogger(l Logger) Option {
	return func(db *DB) { db.log = l }
}

// WithFlushInterval overrides the debounce window
// (DefaultFlushInterval).
func WithFlushInterval(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.interval = d
		}
	}
}

// Open prepares a DB on dev, compiling the sort
// pipeline eagerly.
func Open(dev gpu.Device, opts ...Option) (*DB, error) {
	engine, err := bitonic.New(dev)
	if err != nil {
		return nil, err
	}
	db := &DB{
		dev:      dev,
		engine:   engine,
		session:  uuid.New(),
		interval: DefaultFlushInterval,
		stores:   make(map[string]*Store),
	}
	for _, o := range opts {
		o(db)
	}
	return db, nil
}

func (db *DB) logf(f string, args ...any) {
	if db.log != nil {
		db.log.Printf(f, args...)
	}
}

// Session identifies this DB instance; it tags
// device buffer labels in debug output.
func (db *DB) Session() uuid.UUID { return db.session }

func (db *DB) newStore(name string, opts StoreOptions, internal bool) (*Store, error) {
	cod, err := codec.New(opts.DataType, opts.ElemKind)
	if err != nil {
		return nil, err
	}
	st := &Store{
		db:       db,
		name:     name,
		opts:     opts,
		codec:    cod,
		dir:      newDirectory(),
		internal: internal,
		sorts:    make(map[string][]uint32),
	}
	st.alloc = &allocator{
		dev:    db.dev,
		store:  fmt.Sprintf("%s/%s", db.session.String()[:8], name),
		defcap: opts.BufferSize,
	}
	st.coal = newCoalescer(db.dev, db.log, name, db.interval)
	st.coal.onTimed = st.timedFlush
	return st, nil
}

// Create makes a new store. For a JSONDocument
// store with sort definitions it also creates the
// companion offsets store <name>-offsets, sized
// for one row per (key, definition) pair.
func (db *DB) Create(name string, opts StoreOptions) (*Store, error) {
	db.lock.Lock()
	defer db.lock.Unlock()
	if name == "" {
		return nil, fmt.Errorf("%w: empty store name", ErrInvalidArgument)
	}
	if _, ok := db.stores[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateStore, name)
	}
	switch opts.DataType {
	case codec.NumericArray:
		if opts.ElemKind == codec.ElemNone {
			return nil, fmt.Errorf("%w: store %q", ErrMissingElemKind, name)
		}
	case codec.OpaqueBytes, codec.JSONDocument:
		if opts.ElemKind != codec.ElemNone {
			return nil, fmt.Errorf("%w: element kind on %v store %q", ErrInvalidArgument, opts.DataType, name)
		}
	default:
		return nil, fmt.Errorf("%w: unknown data type %d", ErrInvalidArgument, int(opts.DataType))
	}
	if len(opts.Sorts) > 0 {
		if opts.DataType != codec.JSONDocument {
			return nil, fmt.Errorf("%w: sort definitions on %v store %q", ErrInvalidArgument, opts.DataType, name)
		}
		seen := make(map[string]bool)
		for i := range opts.Sorts {
			if err := opts.Sorts[i].Validate(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			if seen[opts.Sorts[i].Name] {
				return nil, fmt.Errorf("%w: duplicate sort definition %q", ErrInvalidArgument, opts.Sorts[i].Name)
			}
			seen[opts.Sorts[i].Name] = true
		}
	}
	if opts.DataType == codec.JSONDocument && opts.FixedRowSize != 0 {
		return nil, fmt.Errorf("%w: fixed row size on json store %q", ErrInvalidArgument, name)
	}
	if opts.FixedRowSize < 0 || opts.FixedRowSize%4 != 0 {
		return nil, fmt.Errorf("%w: fixed row size %d is not a multiple of 4", ErrInvalidArgument, opts.FixedRowSize)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	st, err := db.newStore(name, opts, false)
	if err != nil {
		return nil, err
	}
	if len(opts.Sorts) > 0 {
		oname := name + offsetsNameSuffix
		if _, ok := db.stores[oname]; ok {
			return nil, fmt.Errorf("%w: companion %q", ErrDuplicateStore, oname)
		}
		offsets, err := db.newStore(oname, StoreOptions{
			DataType:   codec.NumericArray,
			ElemKind:   codec.ElemU32,
			BufferSize: offsetsBufferSize,
			TotalRows:  len(opts.Sorts) * opts.TotalRows,
		}, true)
		if err != nil {
			return nil, err
		}
		st.offsets = offsets
		st.keyenc = codec.NewKeyEncoder()
		db.stores[oname] = offsets
	} else if opts.DataType == codec.JSONDocument {
		st.keyenc = codec.NewKeyEncoder()
	}
	db.stores[name] = st
	return st, nil
}

// Store looks up a store by name.
func (db *DB) Store(name string) (*Store, error) {
	db.lock.Lock()
	defer db.lock.Unlock()
	st, ok := db.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchStore, name)
	}
	return st, nil
}

// Drop removes a store (and its companion offsets
// store), destroying its device buffers.
func (db *DB) Drop(name string) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	st, ok := db.stores[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchStore, name)
	}
	if st.internal {
		return fmt.Errorf("%w: %q is a companion store; drop %q instead",
			ErrInvalidArgument, name, strings.TrimSuffix(name, offsetsNameSuffix))
	}
	st.dropStore()
	delete(db.stores, name)
	if st.offsets != nil {
		st.offsets.dropStore()
		delete(db.stores, st.offsets.name)
	}
	return nil
}

func (st *Store) dropStore() {
	st.coal.stopTimer()
	st.coal.reset()
	st.alloc.reset(false)
	st.dir.reset()
	st.dropped = true
	st.coal.markReady()
}

// List returns every store name, companion offsets
// stores included, in lexicographic order.
func (db *DB) List() []string {
	db.lock.Lock()
	defer db.lock.Unlock()
	names := maps.Keys(db.stores)
	slices.Sort(names)
	return names
}

// AwaitReady blocks until every store's pending
// mutations have flushed and sort orders are
// rebuilt.
func (db *DB) AwaitReady(ctx context.Context) error {
	for {
		db.lock.Lock()
		var ch chan struct{}
		for _, st := range db.stores {
			if !st.coal.ready {
				ch = st.coal.readyCh
				break
			}
		}
		db.lock.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops every debounce timer. Pending writes
// that were never flushed are dropped with the
// device state; the store contents are volatile by
// design.
func (db *DB) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()
	for _, st := range db.stores {
		st.coal.stopTimer()
	}
	return nil
}
