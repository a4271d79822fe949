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

package tunnel

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/ripcd/ripcd/internal/splitio"
)

// writeChunk frames payload as one HTTP chunked-transfer chunk:
// hex-length CRLF payload CRLF.
func writeChunk(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "%x\r\n", len(payload)); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	_, err := w.Write(splitio.CharCRLF)
	return err
}

// writeFinalChunk writes the zero-chunk that signals end-of-stream before
// an FD swap: "0\r\n\r\n".
func writeFinalChunk(w io.Writer) error {
	_, err := w.Write([]byte("0\r\n\r\n"))
	return err
}

// chunkReader pulls hex-length+CRLF framed chunks off an underlying
// io.Reader (the streaming channel's HTTP response body), growing its
// buffer the same way session.Session.fillMoreLocked grows inputBuf: read
// what's available, scan for a complete chunk, grow and retry if short.
type chunkReader struct {
	r      io.Reader
	buf    []byte
	filled int
	cursor int
}

func newChunkReader(r io.Reader) *chunkReader {
	return &chunkReader{r: r, buf: make([]byte, 4096)}
}

// ReadChunk returns the next chunk's payload, or io.EOF once the
// zero-chunk is observed.
func (c *chunkReader) ReadChunk() ([]byte, error) {
	for {
		avail := c.buf[c.cursor:c.filled]
		sc := splitio.NewScanner(avail)
		if !sc.Scan() {
			if !c.fillMore() {
				return nil, io.ErrUnexpectedEOF
			}
			continue
		}
		sizeLine := sc.Bytes()
		if !bytes.HasSuffix(sizeLine, splitio.CharCRLF) {
			if !c.fillMore() {
				return nil, io.ErrUnexpectedEOF
			}
			continue
		}

		size, err := strconv.ParseInt(string(bytes.TrimSuffix(sizeLine, splitio.CharCRLF)), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("tunnel: invalid chunk size line %q: %w", sizeLine, err)
		}

		headerLen := len(sizeLine)
		need := headerLen + int(size) + len(splitio.CharCRLF)
		if need > len(avail) {
			if len(avail)+need > len(c.buf) {
				c.grow(c.cursor + need)
			}
			if !c.fillMore() {
				return nil, io.ErrUnexpectedEOF
			}
			continue
		}

		c.cursor += headerLen
		payload := c.buf[c.cursor : c.cursor+int(size)]
		c.cursor += int(size) + len(splitio.CharCRLF)

		if size == 0 {
			return nil, io.EOF
		}
		// Copy out: the backing array is reused/compacted by fillMore.
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
}

func (c *chunkReader) fillMore() bool {
	if c.cursor > 0 {
		n := copy(c.buf, c.buf[c.cursor:c.filled])
		c.filled = n
		c.cursor = 0
	}
	if c.filled == len(c.buf) {
		c.grow(len(c.buf) * 2)
	}
	n, err := c.r.Read(c.buf[c.filled:])
	if n > 0 {
		c.filled += n
	}
	return n > 0 && (err == nil || n > 0)
}

func (c *chunkReader) grow(min int) {
	if min <= len(c.buf) {
		return
	}
	grown := make([]byte, min)
	copy(grown, c.buf[:c.filled])
	c.buf = grown
}
