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

// Package tunnel implements the two-FD HTTP/HTTPS Tunnel Orchestrator: a
// long-lived chunked streaming channel paired with a series of short
// buffered control-channel POSTs, together presenting one io.Reader/
// io.Writer Conn to the session package. The control channel is built on
// valyala/fasthttp (a good fit for short, fully-buffered request/response
// pairs); the streaming channel uses net/http, since fasthttp does not
// expose a response body as a live io.Reader the way net/http does.
package tunnel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/ripcd/ripcd/internal/ttlcache"
)

// reconnectSignal is the opaque 3-byte message a client writes on a new
// streaming FD to request reassociation with its existing session.
var reconnectSignal = [3]byte{0x01, 0x02, 0x03}

// reconnectAckByte is the single-byte chunk (value 3) the server writes on
// the new streaming FD once it has associated it with the existing
// Session, just before both sides swap FDs.
const reconnectAckByte = 0x03

// sessionKey is the {session_id, pid, ip} association tuple used to
// re-associate a reconnecting streaming FD with its existing Session.
//
// The wire tunnel header is documented as 8 bytes total; session_id (u32)
// and pid (u16) account for 6, leaving 2 bytes for ip — encoded here as a
// truncated/hashed u16 rather than a full u32, since a 10-byte header
// would contradict the documented 8-byte size. See DESIGN.md.
type sessionKey struct {
	SessionID uint32
	PID       uint16
	IP        uint16
}

func encodeHeader(k sessionKey) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], k.SessionID)
	binary.BigEndian.PutUint16(b[4:6], k.PID)
	binary.BigEndian.PutUint16(b[6:8], k.IP)
	return b
}

func decodeHeader(b []byte) (sessionKey, error) {
	if len(b) < 8 {
		return sessionKey{}, fmt.Errorf("tunnel: short header (%d bytes)", len(b))
	}
	return sessionKey{
		SessionID: binary.BigEndian.Uint32(b[0:4]),
		PID:       binary.BigEndian.Uint16(b[4:6]),
		IP:        binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// Registry associates a sessionKey with the server-side Conn currently
// serving it, so a reconnecting streaming FD can be swapped into the same
// logical session instead of starting a new one. Entries expire if a
// reconnection never arrives within the configured window.
type Registry struct {
	cache *ttlcache.Cache[sessionKey, *Conn]
}

// NewRegistry starts a Registry whose entries expire after expired.
func NewRegistry(expired time.Duration) *Registry {
	if expired <= 0 {
		expired = 2 * time.Minute
	}
	return &Registry{cache: ttlcache.New[sessionKey, *Conn](expired)}
}

func (r *Registry) Close() { r.cache.Close() }

// Associate records c as the Conn currently serving sessionKey k, so a
// future reconnect can find it.
func (r *Registry) Associate(k sessionKey, c *Conn) { r.cache.Set(k, c) }

// Lookup returns the Conn associated with k, if one hasn't expired.
func (r *Registry) Lookup(k sessionKey) (*Conn, bool) { return r.cache.Get(k) }

// Conn is the tunnel's Leaf: a streaming channel (the live chunked body)
// paired with a control channel (short buffered POSTs), presented as one
// io.Reader/io.Writer guarded by a swap mutex so a reconnect can replace
// the streaming half atomically underneath ongoing Read calls.
type Conn struct {
	mu  sync.Mutex
	key sessionKey

	controlURL string
	fastClient *fasthttp.Client

	streamBody io.ReadCloser
	chunks     *chunkReader

	oldStreamBody io.ReadCloser
}

// DialClient opens the client side of a tunnel: it POSTs the 8-byte
// tunnel header, and nothing else, as the request body over net/http (so the
// response body streams as chunks arrive), then uses fasthttp for
// subsequent short control POSTs against controlURL.
func DialClient(streamURL, controlURL string, key sessionKey, timeout time.Duration) (*Conn, error) {
	body := bytes.NewReader(encodeHeader(key))
	req, err := http.NewRequest(http.MethodPost, streamURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Proxy-Connection", "Keep-Alive")

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("tunnel: stream channel returned %s", resp.Status)
	}

	c := &Conn{
		key:        key,
		controlURL: controlURL,
		fastClient: &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout},
		streamBody: resp.Body,
		chunks:     newChunkReader(resp.Body),
	}

	// First chunk is the 7-byte tunnel connack carrying the assigned
	// session id; the caller reads it via Read before treating the Conn
	// as RIPC-framed.
	return c, nil
}

// Read pulls the next chunk's payload off the streaming channel, buffering
// any excess for the next call.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	chunks := c.chunks
	c.mu.Unlock()

	chunk, err := chunks.ReadChunk()
	if err != nil {
		return 0, err
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		// Caller's buffer was smaller than one chunk; stash the
		// remainder, re-framed as a chunk, back at the front of the chunk
		// reader's buffer so the next Read drains it before pulling a new
		// chunk.
		rest := chunk[n:]
		framed := append([]byte(fmt.Sprintf("%x\r\n", len(rest))), rest...)
		framed = append(framed, "\r\n"...)
		chunks.buf = append(framed, chunks.buf[chunks.cursor:chunks.filled]...)
		chunks.cursor = 0
		chunks.filled = len(chunks.buf)
	}
	return n, nil
}

// Write sends p as one short, fully-buffered control POST.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	url := c.controlURL
	client := c.fastClient
	c.mu.Unlock()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.SetBody(p)

	if err := client.Do(req, resp); err != nil {
		return 0, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return 0, fmt.Errorf("tunnel: control POST returned %d", resp.StatusCode())
	}
	return len(p), nil
}

// Reconnect swaps in a fresh streaming body (the new FD, associated by
// the server via Registry) once the zero-chunk end-of-stream and the
// reconnect ack have both been observed, per spec §4.8. The old body is
// kept until Close so a caller mid-Read on it unblocks with an error
// instead of panicking on a nil receiver.
func (c *Conn) Reconnect(newBody io.ReadCloser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.oldStreamBody = c.streamBody
	c.streamBody = newBody
	c.chunks = newChunkReader(newBody)
}

// Close releases both the current and any superseded streaming bodies.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.oldStreamBody != nil {
		_ = c.oldStreamBody.Close()
	}
	if c.streamBody != nil {
		return c.streamBody.Close()
	}
	return nil
}

// WriteReconnectSignal writes the 3-byte opaque reconnection message on a
// freshly opened streaming FD.
func WriteReconnectSignal(w io.Writer) error {
	_, err := w.Write(reconnectSignal[:])
	return err
}

// WriteReconnectAck writes the single-byte (value 3) chunk the server
// sends to acknowledge association of a reconnecting FD, just before the
// FD swap.
func WriteReconnectAck(w io.Writer) error {
	return writeChunk(w, []byte{reconnectAckByte})
}

// WriteZeroChunk signals end-of-stream on a streaming FD being retired
// ahead of an FD swap.
func WriteZeroChunk(w io.Writer) error {
	return writeFinalChunk(w)
}

// NewSessionKey builds a sessionKey from a freshly assigned session id and
// the caller's PID/IP.
func NewSessionKey(id uuid.UUID, pid int, ip uint16) sessionKey {
	return sessionKey{SessionID: idToUint32(id), PID: uint16(pid), IP: ip}
}

// idToUint32 folds a uuid down to the 4 bytes the wire header carries;
// collisions only matter within one Registry's TTL window.
func idToUint32(id uuid.UUID) uint32 {
	return binary.BigEndian.Uint32(id[0:4])
}
