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

// Package session implements the Session Object: the per-connection
// state machine that drives the RIPC/WebSocket frame codecs, the Write
// Scheduler, and the Reassembly Table behind a small blocking API
// (GetBuffer, Pack, Write, Flush, Read, Ping, Close, Ioctl).
package session

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/codec"
	"github.com/ripcd/ripcd/wire/ripc"
)

// Role distinguishes which side of the handshake a Session played.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// State is the Session's coarse lifecycle state, distinct from the
// handshake sub-state machine in wire/ripc.State.
type State int

const (
	StateInitializing State = iota
	StateActive
	StateClosing
	StateInactive
)

// ProtocolTag identifies the payload encoding layered above RIPC framing.
type ProtocolTag int

const (
	ProtocolRWF ProtocolTag = iota
	ProtocolTRWF
	ProtocolJSON
)

// TransportKind selects which frame codec a Session's Read/Write/Ping
// drive: raw RIPC framing, or RFC 6455 WebSocket framing negotiated via
// an HTTP upgrade. Distinct from ProtocolTag, which only governs payload
// encoding once a transport has already delivered a message.
type TransportKind int

const (
	TransportRIPC TransportKind = iota
	TransportWebSocket
)

// WriteFlags modify a single Write call.
type WriteFlags int

const (
	FlagDirectSocketWrite WriteFlags = 1 << iota
	FlagDoNotCompress
)

// ReadStatus reports the outcome of a Read call.
type ReadStatus int

const (
	ReadSuccess ReadStatus = iota
	ReadWouldBlock
	ReadPing
	ReadFdChange
	ReadFailure
)

// Conn is the minimal transport leaf a Session drives: a byte stream the
// frame codecs read from and the Write Scheduler flushes to. Concrete
// leaves (plain TCP, HTTP tunnel) live in package transport and satisfy
// this interface via net.Conn or their own io.ReadWriter.
type Conn interface {
	io.Reader
	io.Writer
}

// Options configures a new Session at construction.
type Options struct {
	Role              Role
	Transport         TransportKind // TransportRIPC unless set
	Version           int           // negotiated RIPC connection version, 10..14
	MaxFrameSize      int
	PingTimeout       time.Duration
	ProtocolTag       ProtocolTag
	CompressIn        codec.Type
	CompressOut       codec.Type
	CompressionLevel  int
	CompressThreshold int
	Pool              *buffer.Pool
	PeerHost          string
	PeerIP            string
	ComponentVersion  string

	// WSSubprotocol and WSDeflate carry the negotiated
	// Sec-WebSocket-Protocol and permessage-deflate outcome; ignored
	// unless Transport is TransportWebSocket.
	WSSubprotocol string
	WSDeflate     bool
}

// Session is one peer-to-peer RIPC or WebSocket channel.
type Session struct {
	mu sync.Mutex

	id   uuid.UUID
	role Role

	state State
	hs    ripc.State

	transport     TransportKind
	wsSubprotocol string
	wsDeflate     bool
	// wsContBuf accumulates a fragmented WebSocket message's payload
	// across continuation frames; wsContActive is false until a
	// non-final Text/Binary frame starts one, and wsContCompressed
	// records the initiating frame's RSV1 bit until Fin arrives.
	wsContBuf        []byte
	wsContActive     bool
	wsContCompressed bool

	version      int
	pingTimeout  time.Duration
	protocolTag  ProtocolTag
	maxFrameSize int

	compressIn            codec.Type
	compressOut           codec.Type
	compressionLevel      int
	compressionThreshold  int
	compressPriority      buffer.Priority
	compressPriorityKnown bool

	pool      *buffer.Pool
	conn      Conn
	scheduler *scheduler
	reasm     *reassemblyTable

	inputBuf    []byte
	inputCursor int
	inputFilled int

	// pendingPacked holds the undelivered remainder of a PACKING frame
	// already consumed from inputBuf; Read drains this before attempting
	// to parse another frame header.
	pendingPacked []byte

	nextFragID uint32

	highWaterMark        int
	numGuaranteedBuffers int
	sysReadBuffers       int
	sysWriteBuffers      int
	debugFlags           int

	peerHost         string
	peerIP           string
	componentVersion string

	kexP, kexG, kexPrivate, kexShared uint64

	stats Stats

	tracer trace.Tracer

	onClose func()
}

// New constructs an initializing Session. The handshake (Dial/Accept, in
// handshake.go) drives it to StateActive.
func New(conn Conn, opts Options) *Session {
	maxFrame := opts.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = 6144
	}
	return &Session{
		id:                   uuid.New(),
		role:                 opts.Role,
		state:                StateInitializing,
		hs:                   ripc.StateInitializing,
		transport:            opts.Transport,
		wsSubprotocol:        opts.WSSubprotocol,
		wsDeflate:            opts.WSDeflate,
		version:              opts.Version,
		pingTimeout:          opts.PingTimeout,
		protocolTag:          opts.ProtocolTag,
		maxFrameSize:         maxFrame,
		compressIn:           opts.CompressIn,
		compressOut:          opts.CompressOut,
		compressionLevel:     opts.CompressionLevel,
		compressionThreshold: opts.CompressThreshold,
		pool:                 opts.Pool,
		conn:                 conn,
		scheduler:            newScheduler(),
		reasm:                newReassemblyTable(),
		inputBuf:             make([]byte, maxFrame*4),
		nextFragID:           1,
		peerHost:             opts.PeerHost,
		peerIP:               opts.PeerIP,
		componentVersion:     opts.ComponentVersion,
		tracer:               trace.NewNoopTracerProvider().Tracer("ripcd/session"),
	}
}

// ID returns the session's stable identifier, used by the Tunnel
// Orchestrator's {session_id, pid, ip} association key.
func (s *Session) ID() uuid.UUID { return s.id }

// OnClose registers a callback invoked once, after Close has released the
// session's resources. A caller tracking live sessions (e.g. the
// controller package) uses this to untrack on Close. The session never
// calls Close itself: one that fails in Read, Write or Flush turns
// Inactive and stays tracked until someone calls Close.
func (s *Session) OnClose(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = f
}

// State returns the session's coarse lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subprotocol returns the negotiated WebSocket subprotocol, or "" for a
// TransportRIPC session.
func (s *Session) Subprotocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wsSubprotocol
}

// GetBuffer returns a Buffer with sufficient headroom for headers and
// footers. Payloads that exceed the negotiated max-frame-size still come
// back as a single logical Buffer; Write internally splits it across a
// fragmentation chain of pool buffers.
func (s *Session) GetBuffer(size int, packed bool) (*buffer.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBufferLocked(size, packed)
}

func (s *Session) getBufferLocked(size int, packed bool) (*buffer.Buffer, error) {
	b, ok := s.pool.Alloc(size)
	if !ok {
		if s.numGuaranteedBuffers > 0 {
			b, ok = s.pool.AllocShared(size)
		}
	}
	if !ok {
		return nil, newErr(KindNoBuffers, "GetBuffer", nil)
	}
	if packed {
		// Packed buffers start empty: the caller builds up content message
		// by message, reporting progress via SetLength before each Pack
		// call, until the whole packed frame is ready for Write.
		if err := b.SetLength(0); err != nil {
			return nil, newErr(KindInvalidArgument, "GetBuffer", err)
		}
		b.SetPackingOffset(0)
		b.SetPrevOffset(0)
	} else if err := b.SetLength(size); err != nil {
		return nil, newErr(KindInvalidArgument, "GetBuffer", err)
	}
	return b, nil
}

// Pack stamps the pending packed message's 2-byte length prefix (RIPC)
// and reserves the next message's prefix, returning the remaining
// writable slice of b's payload, or a nil slice once b is full.
//
// PrevOffset tracks where the pending message's own reserved prefix
// begins; the caller reports how many bytes it has written in total
// (prefix bytes included) by calling b.SetLength before each Pack call,
// so Pack can derive the pending message's length as the delta between
// that total and its prefix offset.
func (s *Session) Pack(b *buffer.Buffer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := b.Data()
	prefixOffset := b.PrevOffset()
	total := b.Length()

	if total > 0 {
		msgLen := total - prefixOffset - 2
		if msgLen < 0 {
			return nil, newErr(KindInvalidArgument, "Pack", nil)
		}
		if msgLen > 0 {
			binary.BigEndian.PutUint16(data[prefixOffset:prefixOffset+2], uint16(msgLen))
		}
	}

	next := total
	b.SetPrevOffset(next)
	if next+2 > len(data) {
		b.SetPackingOffset(next)
		return nil, nil
	}
	b.SetPackingOffset(next + 2)
	return data[next+2:], nil
}

// Flush drains the priority queues to the transport. It returns the
// number of bytes actually written; a return less than the amount queued
// before the call indicates a partial write, with per-buffer resume state
// already recorded by the scheduler.
func (s *Session) Flush() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Session) flushLocked() (int, error) {
	total := 0
	for {
		result, err := s.scheduler.Flush(s.conn)
		total += result.BytesWritten
		if err != nil {
			s.state = StateInactive
			return total, newErr(KindWriteFlushFailed, "Flush", err)
		}
		if result.Drained || result.BytesWritten == 0 {
			return total, nil
		}
	}
}

// Ping writes a minimal keepalive: an empty DATA frame for RIPC, or a
// small tr_json2 heartbeat JSON array, encoded with goccy/go-json and
// sent as a WebSocket text frame, for WebSocket sessions.
func (s *Session) Ping() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == TransportWebSocket {
		return s.pingWebSocketLocked()
	}

	hdr := ripc.Header{Length: ripc.HeaderLen, Flags: ripc.FlagData}
	wire := make([]byte, ripc.HeaderLen)
	ripc.WriteHeader(wire, hdr, s.version)

	n, err := s.conn.Write(wire)
	if err != nil {
		s.state = StateInactive
		return n, newErr(KindWriteFlushFailed, "Ping", err)
	}
	s.stats.PingsSent++
	return n, nil
}

// Close releases queued buffers and clears the reassembly table; the
// session's pool pointer is left in place and no pool reference count is
// changed. Idempotent: a second Close is a no-op success. A session that
// already turned Inactive through a failed Read, Write or Flush is still
// released, and its OnClose callback invoked, by its first Close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.hs == ripc.StateInactive {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.scheduler.Release()
	for fragID := range s.reasm.slots {
		s.reasm.Evict(fragID)
	}
	s.pendingPacked = nil
	s.state = StateInactive
	s.hs = ripc.StateInactive
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// Stats is a point-in-time snapshot of session I/O counters.
type Stats struct {
	BytesRead    int64
	BytesWritten int64
	PingsSent    int64
	PingsRecv    int64
}

// Snapshot returns a copy of the session's running statistics.
func (s *Session) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
