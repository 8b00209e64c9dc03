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

// Package gpukv is a device-resident key/value
// store.
//
// Payload bytes live in buffers on a compute
// device (see the gpu package); the host keeps
// only row locations, buffer occupancy and sort
// keys. Stores hold opaque byte blobs, numeric
// arrays, or JSON documents, and offer a
// record-oriented API: add/put/get/delete,
// wildcard lookup, paginated scans, range cursors
// and multi-field device-side ordering.
//
// Mutations are coalesced and flushed to the
// device in grouped, offset-ordered submissions;
// reads gather scattered rows into one staging
// readback. JSON stores may declare sort
// definitions whose numeric encodings are kept in
// a companion store and ordered on the device by a
// bitonic compute pipeline.
//
// A DB and its stores are confined to one host
// task at a time; see the concurrency notes on DB.
package gpukv
