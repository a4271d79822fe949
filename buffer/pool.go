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

package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/valyala/bytebufferpool"

	"github.com/ripcd/ripcd/common"
)

// DefaultHeaderReserve covers the worst-case prepend a frame codec ever
// needs in front of a payload: RIPC's 3-byte base header + 1-byte opcode +
// 4-byte fragmentation total + 2-byte fragment id, rounded up.
const DefaultHeaderReserve = 16

// DefaultFooterReserve covers RIPC packing length prefixes / WebSocket
// JSON-array separators appended after a payload.
const DefaultFooterReserve = 8

var (
	poolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: common.App,
		Subsystem: "buffer_pool",
		Name:      "in_use",
		Help:      "buffers currently checked out of the pool",
	}, []string{"pool"})

	poolPeak = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: common.App,
		Subsystem: "buffer_pool",
		Name:      "peak",
		Help:      "peak concurrent buffers issued by the pool since the last reset",
	}, []string{"pool"})

	poolAllocTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "buffer_pool",
		Name:      "alloc_total",
		Help:      "total buffer allocations served by the pool",
	}, []string{"pool"})

	poolExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "buffer_pool",
		Name:      "exhausted_total",
		Help:      "allocation attempts refused because the pool hit its hard cap",
	}, []string{"pool"})
)

// Pool is a free-list buffer pool with an optional shared overflow pool.
// Allocations are not rounded up to a fixed slab: each buffer is sized to
// its request plus the header and footer reserves, and the slab size given
// to NewPool is stored but not used to size allocations.
// It is reference-counted so multiple sessions can share one pool; the
// pool survives until every live buffer it issued has been freed and its
// reference count has dropped to zero.
//
// Lock order: callers holding a session lock may call into the pool; the
// pool must never call back into a session or a peer's lock. The pool's own
// mutex is always the innermost lock acquired.
type Pool struct {
	name     string
	locking  bool
	mu       sync.Mutex
	slabSize int

	headerReserve int
	footerReserve int

	free       []*Buffer
	maxBuffers int // 0 = unlimited
	issued     int
	peak       int

	shared   *Pool
	refCount int32

	bbp *bytebufferpool.Pool
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLocking toggles whether the pool takes its own mutex on every entry
// point. Disable only when the caller already serializes all access (e.g.
// a pool scoped to a single, single-threaded Session).
func WithLocking(enabled bool) Option {
	return func(p *Pool) { p.locking = enabled }
}

// WithHeaderFooterReserve overrides the default header/footer prepend room
// reserved in every allocated Buffer.
func WithHeaderFooterReserve(header, footer int) Option {
	return func(p *Pool) {
		p.headerReserve = header
		p.footerReserve = footer
	}
}

// NewPool creates a Pool with an initial reference count of 1. slabSize is
// recorded on the Pool; it does not change the size of any allocation.
func NewPool(name string, slabSize int, opts ...Option) *Pool {
	p := &Pool{
		name:          name,
		locking:       true,
		slabSize:      slabSize,
		headerReserve: DefaultHeaderReserve,
		footerReserve: DefaultFooterReserve,
		refCount:      1,
		bbp:           &bytebufferpool.Pool{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetShared wires an overflow pool used once this pool's own free-list and
// hard cap are exhausted.
func (p *Pool) SetShared(shared *Pool) {
	p.lock()
	defer p.unlock()
	p.shared = shared
	if shared != nil {
		shared.Retain()
	}
}

// Retain increments the pool's reference count and returns the pool, so
// construction can be chained: `pool := buffer.NewPool(...).Retain()`.
func (p *Pool) Retain() *Pool {
	atomic.AddInt32(&p.refCount, 1)
	return p
}

// Release decrements the reference count. The pool's backing slabs are
// dropped once it reaches zero; Release is idempotent-safe only if callers
// never Release more times than they Retain.
func (p *Pool) Release() {
	if atomic.AddInt32(&p.refCount, -1) == 0 {
		p.lock()
		p.free = nil
		p.unlock()
		if p.shared != nil {
			p.shared.Release()
		}
	}
}

// SetMax sets the hard cap on concurrently issued buffers. 0 means unbounded.
func (p *Pool) SetMax(n int) {
	p.lock()
	defer p.unlock()
	p.maxBuffers = n
}

// ResetPeak resets the peak watermark to the pool's current in-use count.
func (p *Pool) ResetPeak() {
	p.lock()
	defer p.unlock()
	p.peak = p.issued
	poolPeak.WithLabelValues(p.name).Set(float64(p.peak))
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	InUse int
	Peak  int
	Free  int
}

func (p *Pool) Stats() Stats {
	p.lock()
	defer p.unlock()
	return Stats{InUse: p.issued, Peak: p.peak, Free: len(p.free)}
}

// Alloc returns a Buffer with maxLength == size, or (nil, false) if the
// pool's hard cap is reached and no shared overflow can serve the request.
// Alloc never returns a partial buffer: the result either satisfies size in
// full or is nil.
func (p *Pool) Alloc(size int) (*Buffer, bool) {
	return p.alloc(size, false)
}

// AllocShared forces allocation from the shared overflow pool, bypassing
// this pool's own free-list and cap. It is used once a session has
// exhausted its guaranteed per-session buffers (see Session.Ioctl's
// NumGuaranteedBuffers).
func (p *Pool) AllocShared(size int) (*Buffer, bool) {
	if p.shared == nil {
		return p.alloc(size, false)
	}
	return p.shared.alloc(size, true)
}

func (p *Pool) alloc(size int, fromShared bool) (*Buffer, bool) {
	p.lock()

	if p.maxBuffers > 0 && p.issued >= p.maxBuffers {
		p.unlock()
		if !fromShared && p.shared != nil {
			poolAllocTotal.WithLabelValues(p.name).Inc()
			return p.shared.alloc(size, true)
		}
		poolExhaustedTotal.WithLabelValues(p.name).Inc()
		return nil, false
	}

	slabLen := size + p.headerReserve + p.footerReserve
	var buf *Buffer
	for i := len(p.free) - 1; i >= 0; i-- {
		if cap(p.free[i].raw) >= slabLen {
			buf = p.free[i]
			p.free = append(p.free[:i], p.free[i+1:]...)
			break
		}
	}
	if buf == nil {
		bb := p.bbp.Get()
		if cap(bb.B) < slabLen {
			bb.B = make([]byte, slabLen)
		} else {
			bb.B = bb.B[:slabLen]
		}
		buf = &Buffer{raw: bb.B[:slabLen]}
	}

	buf.pool = p
	buf.payloadOff = p.headerReserve
	buf.maxLength = size
	buf.shared = fromShared
	buf.reset()

	p.issued++
	if p.issued > p.peak {
		p.peak = p.issued
		poolPeak.WithLabelValues(p.name).Set(float64(p.peak))
	}
	poolInUse.WithLabelValues(p.name).Set(float64(p.issued))
	p.unlock()

	poolAllocTotal.WithLabelValues(p.name).Inc()
	return buf, true
}

// Free returns a Buffer to its owning pool's free-list.
func (p *Pool) Free(b *Buffer) {
	if b == nil || b.pool == nil {
		return
	}
	owner := b.pool
	owner.lock()
	owner.issued--
	if owner.issued < 0 {
		owner.issued = 0
	}
	owner.free = append(owner.free, b)
	poolInUse.WithLabelValues(owner.name).Set(float64(owner.issued))
	owner.unlock()
	b.pool = nil
}

func (p *Pool) lock() {
	if p.locking {
		p.mu.Lock()
	}
}

func (p *Pool) unlock() {
	if p.locking {
		p.mu.Unlock()
	}
}
