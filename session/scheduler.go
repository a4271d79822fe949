// Copyright 2025 The ripcd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"io"
	"net"

	"github.com/ripcd/ripcd/buffer"
)

// defaultFlushStrategy is the round-robin permutation over the three
// priority queues a Session restarts once exhausted.
var defaultFlushStrategy = []buffer.Priority{
	buffer.PriorityHigh, buffer.PriorityMedium,
	buffer.PriorityHigh, buffer.PriorityLow,
	buffer.PriorityHigh, buffer.PriorityMedium,
}

// maxIovecs bounds how many buffers a single Flush batches into one
// vectored write, matching the spec's "up to 16 iovecs".
const maxIovecs = 16

// scheduler implements the Write Scheduler: three FIFO priority queues,
// a flush-strategy cursor, vectored-write batching with coalescing, and
// partial-write resume bookkeeping.
type scheduler struct {
	queues   [3][]*buffer.Buffer
	strategy []buffer.Priority
	cursor   int

	// tunnelSwapping clamps iovec batching to 1 so a zero-chunk can be
	// inserted before an HTTP tunnel FD swap (spec §4.6).
	tunnelSwapping bool
}

func newScheduler() *scheduler {
	return &scheduler{strategy: append([]buffer.Priority{}, defaultFlushStrategy...)}
}

// SetStrategy installs a new flush-strategy permutation (from Ioctl's
// PriorityFlushOrder) and resets the cursor.
func (s *scheduler) SetStrategy(order []buffer.Priority) {
	s.strategy = order
	s.cursor = 0
}

// Enqueue appends b to its priority queue, coalescing with the queue's
// tail buffer when they are adjacent slices of the same backing slab.
func (s *scheduler) Enqueue(b *buffer.Buffer) {
	q := &s.queues[b.Priority()]
	if n := len(*q); n > 0 {
		tail := (*q)[n-1]
		if adjacent(tail, b) {
			tail.SetNext(b)
			return
		}
	}
	*q = append(*q, b)
}

// adjacent reports whether b's wire region begins exactly where a's ends,
// so the scheduler can merge them into one iovec.
func adjacent(a, b *buffer.Buffer) bool {
	aw, bw := a.Wire(), b.Wire()
	if len(aw) == 0 || len(bw) == 0 {
		return false
	}
	return &aw[len(aw)-1] == &bw[0]
}

// QueuedBytes sums the wire length still pending across all queues.
func (s *scheduler) QueuedBytes() int {
	total := 0
	for _, q := range s.queues {
		for _, b := range q {
			total += remainingWireLen(b)
		}
	}
	return total
}

func remainingWireLen(b *buffer.Buffer) int {
	n := len(b.Remaining())
	for nb := b.Next(); nb != nil; nb = nb.Next() {
		n += len(nb.Remaining())
	}
	return n
}

// flushResult reports how a Flush call against a transport went.
type flushResult struct {
	BytesWritten int
	Drained      bool // true if every queue is now empty
}

// Flush writes one batch: from the first queue, in flush-strategy order,
// that holds data (Session.flushLocked calls it again until every queue
// is drained or a write fails), taking up to maxIovecs buffers
// (1 if tunnelSwapping) into a single
// net.Buffers.WriteTo call against w — a real single-syscall writev when
// w is a *net.TCPConn (or anything else implementing the unexported
// buffersWriter interface net.Buffers checks for), and a sequential
// per-buffer Write loop otherwise. On a partial write it advances
// fully-written buffers off the queue head and records the partial
// buffer's Local() cursor so the next Flush resumes mid-buffer; it
// always checks Low once as a fallback sweep if the strategy cursor
// never reached it.
func (s *scheduler) Flush(w io.Writer) (flushResult, error) {
	var result flushResult
	sawLow := false

	batchCap := maxIovecs
	if s.tunnelSwapping {
		batchCap = 1
	}

	visit := func(p buffer.Priority) (bool, error) {
		q := s.queues[p]
		if len(q) == 0 {
			return false, nil
		}
		if p == buffer.PriorityLow {
			sawLow = true
		}

		n := len(q)
		if n > batchCap {
			n = batchCap
		}
		batch := q[:n]

		iovecs := make(net.Buffers, len(batch))
		lens := make([]int, len(batch))
		for i, b := range batch {
			d := b.Remaining()
			iovecs[i] = d
			lens[i] = len(d)
		}

		written, writeErr := iovecs.WriteTo(w)
		wrote := int(written)
		result.BytesWritten += wrote

		remaining := wrote
		idx := 0
		for idx < len(batch) && remaining >= lens[idx] {
			remaining -= lens[idx]
			batch[idx].SetLocal(0)
			idx++
		}
		if idx == len(batch) {
			s.queues[p] = q[n:]
			return true, writeErr
		}
		batch[idx].SetLocal(batch[idx].Local() + remaining)
		s.queues[p] = append(append([]*buffer.Buffer{}, batch[idx:]...), q[n:]...)
		return true, writeErr
	}

	if len(s.strategy) > 0 {
		for i := 0; i < len(s.strategy); i++ {
			p := s.strategy[s.cursor]
			s.cursor = (s.cursor + 1) % len(s.strategy)
			progressed, err := visit(p)
			if err != nil {
				return result, err
			}
			if progressed {
				break
			}
		}
	}

	if !sawLow {
		if _, err := visit(buffer.PriorityLow); err != nil {
			return result, err
		}
	}

	result.Drained = len(s.queues[0]) == 0 && len(s.queues[1]) == 0 && len(s.queues[2]) == 0
	return result, nil
}

// Release returns every buffer still queued back to its pool, used by
// Close to avoid leaking buffers that never got flushed.
func (s *scheduler) Release() {
	for p := range s.queues {
		for _, b := range s.queues[p] {
			for cur := b; cur != nil; {
				next := cur.Next()
				if pool := poolOf(cur); pool != nil {
					pool.Free(cur)
				}
				cur = next
			}
		}
		s.queues[p] = nil
	}
}

// poolOf is a narrow seam so Release can free buffers without scheduler
// importing a concrete Pool type beyond what buffer.Buffer already
// exposes via its Free-compatible pool back-reference.
func poolOf(b *buffer.Buffer) *buffer.Pool {
	return b.Pool()
}
