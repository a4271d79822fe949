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

package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

func init() {
	Register(&deflateCodec{})
}

// deflateCodec implements RIPC's deflate compression. Each message is
// flushed with Z_SYNC_FLUSH semantics (flate.Writer.Flush) so message
// boundaries stay aligned in the compressed stream, matching the
// original's per-message flush rather than a single end-of-stream close.
//
// Writers are pooled per compression level since flate.NewWriter is not
// cheap to construct; readers are not pooled because flate.NewReader
// needs a fresh io.Reader per call and the session already owns exactly
// one decompress buffer.
type deflateCodec struct {
	mu      sync.Mutex
	writers map[int]*flate.Writer
	buf     bytes.Buffer
}

func (c *deflateCodec) Type() Type { return TypeDeflate }

func (c *deflateCodec) MaxCompressedLen(n int) int {
	// Deflate can expand tiny inputs by a handful of bytes; give it
	// generous headroom rather than computing the exact bound.
	return n + n/2 + 64
}

func (c *deflateCodec) Compress(out, in []byte, level int) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writers == nil {
		c.writers = make(map[int]*flate.Writer)
	}
	w, ok := c.writers[level]
	c.buf.Reset()
	if !ok {
		var err error
		w, err = flate.NewWriter(&c.buf, level)
		if err != nil {
			return Outcome{}, newError("deflate: new writer: %v", err)
		}
		c.writers[level] = w
	} else {
		w.Reset(&c.buf)
	}

	n, err := w.Write(in)
	if err != nil {
		return Outcome{}, newError("deflate: write: %v", err)
	}
	// Sync-flush rather than Close: the output ends with an empty stored
	// block (00 00 ff ff) instead of a final block. The writer is Reset
	// before every message, so each message is an independent stream.
	if err := w.Flush(); err != nil {
		return Outcome{}, newError("deflate: flush: %v", err)
	}

	if c.buf.Len() > len(out) {
		return Outcome{}, ErrExpanded
	}
	copy(out, c.buf.Bytes())
	return Outcome{BytesIn: n, BytesOut: c.buf.Len()}, nil
}

func (c *deflateCodec) Decompress(out, in []byte) (Outcome, error) {
	r := flate.NewReader(bytes.NewReader(in))
	defer r.Close()

	total := 0
	for {
		n, err := r.Read(out[total:])
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			if err == flate.ErrUnexpectedEOF || isShortBuffer(err) {
				// Sync-flush leaves the stream "unexpectedly" truncated
				// by design; what's been produced so far is the message.
				break
			}
			return Outcome{}, newError("deflate: read: %v", err)
		}
		if total >= len(out) {
			break
		}
	}
	return Outcome{BytesIn: len(in), BytesOut: total}, nil
}

func isShortBuffer(err error) bool {
	return err == io.ErrShortBuffer
}
