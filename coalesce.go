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
	"encoding/hex"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/gpukv/gpu"
)

// flushThreshold is the queue depth that forces an
// immediate flush.
const flushThreshold = 10000

// DefaultFlushInterval is the debounce window: a
// flush (plus sort rebuild) runs this long after
// the last mutation.
const DefaultFlushInterval = 250 * time.Millisecond

type writeOp uint8

const (
	opAdd writeOp = iota
	opPut
	opDelete
)

// pendingWrite is one queued mutation payload
// bound to its device slot.
type pendingWrite struct {
	row     rowID
	key     string
	op      writeOp
	chunk   *chunk
	off     int64
	payload []byte

	superseded bool
	retry      *backoff.ExponentialBackOff
	due        time.Time
}

type slotKey struct {
	chunk int
	off   int64
}

// coalescer owns the pending-write queue, the
// debounce timer and the readiness signal of one
// store. All entry points run under the DB lock.
type coalescer struct {
	dev      gpu.Device
	log      Logger
	store    string
	interval time.Duration
	// onTimed runs the store's timed flush (flush,
	// sort rebuild, cache eviction) when the
	// debounce window expires.
	onTimed func()

	pending []*pendingWrite
	bySlot  map[slotKey]*pendingWrite
	timer   *time.Timer

	ready   bool
	readyCh chan struct{}

	flushes  int64
	bytes    int64
	lastETag string
	lastDur  time.Duration
}

func newCoalescer(dev gpu.Device, log Logger, store string, interval time.Duration) *coalescer {
	ch := make(chan struct{})
	close(ch)
	return &coalescer{
		dev:      dev,
		log:      log,
		store:    store,
		interval: interval,
		bySlot:   make(map[slotKey]*pendingWrite),
		ready:    true,
		readyCh:  ch,
	}
}

// enqueue appends w in call order. A pending write
// to the same row slot is superseded: retrying a
// stale payload after a newer one committed would
// break per-key ordering.
func (c *coalescer) enqueue(w *pendingWrite) bool {
	k := slotKey{chunk: w.chunk.idx, off: w.off}
	if prev, ok := c.bySlot[k]; ok && prev.row == w.row {
		prev.superseded = true
	}
	c.bySlot[k] = w
	c.pending = append(c.pending, w)
	c.markBusy()
	c.resetTimer()
	return len(c.pending) >= flushThreshold
}

func (c *coalescer) markBusy() {
	if c.ready {
		c.ready = false
		c.readyCh = make(chan struct{})
	}
}

func (c *coalescer) markReady() {
	if !c.ready {
		c.ready = true
		close(c.readyCh)
	}
}

func (c *coalescer) resetTimer() {
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.onTimed)
		return
	}
	c.timer.Reset(c.interval)
}

func (c *coalescer) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// flush submits every due pending write, waits on
// one device barrier, and prunes the committed
// entries. Entries whose submission is rejected
// stay queued with a retry backoff; a failed
// barrier is fatal and preserves the whole queue.
func (c *coalescer) flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	start := time.Now()

	var live []*pendingWrite
	for _, w := range c.pending {
		if !w.superseded {
			live = append(live, w)
		}
	}
	// group by chunk, ascending offset within each;
	// the stable sort keeps call order for writes
	// landing on the same slot
	slices.SortStableFunc(live, func(a, b *pendingWrite) int {
		if a.chunk.idx != b.chunk.idx {
			return a.chunk.idx - b.chunk.idx
		}
		switch {
		case a.off < b.off:
			return -1
		case a.off > b.off:
			return 1
		}
		return 0
	})

	etag, _ := blake2b.New256(nil)
	var failed []*pendingWrite
	var submitted int64
	now := time.Now()
	for _, w := range live {
		if !w.due.IsZero() && now.Before(w.due) {
			failed = append(failed, w)
			continue
		}
		err := c.dev.WriteBuffer(w.chunk.buf, w.off, w.payload)
		if err != nil {
			c.logf("gpukv: %s: write of key %q retained for retry: %v", c.store, w.key, err)
			metricWriteRetries.WithLabelValues(c.store).Inc()
			if w.retry == nil {
				w.retry = backoff.NewExponentialBackOff()
				w.retry.InitialInterval = c.interval
				w.retry.MaxElapsedTime = 0
			}
			w.due = now.Add(w.retry.NextBackOff())
			failed = append(failed, w)
			continue
		}
		etag.Write(w.payload)
		submitted += int64(len(w.payload))
	}
	if err := c.dev.Wait(ctx); err != nil {
		// total device failure: keep the queue as-is
		c.pending = live
		return &DeviceError{Op: "flush barrier", Err: err}
	}

	c.pending = failed
	for k, w := range c.bySlot {
		if w.superseded || !slices.Contains(failed, w) {
			delete(c.bySlot, k)
		}
	}
	c.flushes++
	c.bytes += submitted
	c.lastETag = hex.EncodeToString(etag.Sum(nil))
	c.lastDur = time.Since(start)
	metricFlushes.WithLabelValues(c.store).Inc()
	metricFlushBytes.WithLabelValues(c.store).Add(float64(submitted))
	return nil
}

func (c *coalescer) logf(f string, args ...any) {
	if c.log != nil {
		c.log.Printf(f, args...)
	}
}

// reset discards the queue (used by clear after a
// drain; the chunks the entries point into are
// going away).
func (c *coalescer) reset() {
	c.pending = nil
	c.bySlot = make(map[slotKey]*pendingWrite)
}
