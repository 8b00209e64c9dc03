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
	"fmt"

	"github.com/SnellerInc/gpukv/bitonic"
	"github.com/SnellerInc/gpukv/codec"
)

var (
	// ErrNoSuchStore is returned for operations on
	// a store name that does not exist.
	ErrNoSuchStore = errors.New("no such store")
	// ErrDuplicateStore is returned by Create when
	// the name is taken.
	ErrDuplicateStore = errors.New("store already exists")
	// ErrMissingElemKind is returned by Create for
	// a numeric store without an element kind.
	ErrMissingElemKind = errors.New("numeric store requires an element kind")
	// ErrDuplicateKey is returned by Add when the
	// key already has an active row.
	ErrDuplicateKey = errors.New("key already present")
	// ErrInvalidArgument is returned for malformed
	// call arguments (negative pages, empty keys).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTypeMismatch is returned when a payload
	// does not match the store's data type.
	ErrTypeMismatch = codec.ErrTypeMismatch
	// ErrSortBudget is the non-fatal condition of a
	// sort definition whose items exceed the device
	// binding budget; the previous order is kept.
	ErrSortBudget = bitonic.ErrBudget
)

// DeviceError wraps a fatal device failure. The
// pending write queue is preserved and store
// readiness remains false until a later flush
// succeeds.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error during %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
