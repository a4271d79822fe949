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
	"errors"
	"io"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/codec"
	"github.com/ripcd/ripcd/wire/ripc"
)

// Read parses the next logical message from the input buffer, filling
// from the transport as needed. A non-nil buffer with moreData (the
// returned bool) set means the caller should call Read again immediately
// without waiting on the transport: the packed frame it came from still
// holds further messages. Frames that produce no message yet (FRAG_HEADER,
// intermediate FRAG) are consumed internally and Read moves on to the
// next buffered frame, returning ReadWouldBlock once none is left.
func (s *Session) Read() (*buffer.Buffer, ReadStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == TransportWebSocket {
		return s.readWebSocketLocked()
	}

	if len(s.pendingPacked) > 0 {
		return s.deliverPacked(s.pendingPacked)
	}

	for {
		avail := s.inputBuf[s.inputCursor:s.inputFilled]
		h, consumed, err := ripc.ParseHeader(avail, s.version)
		if err != nil {
			if errors.Is(err, ripc.ErrShort) {
				if !s.fillMoreLocked() {
					return nil, ReadWouldBlock, false, nil
				}
				continue
			}
			s.state = StateInactive
			return nil, ReadFailure, false, newErr(KindProtocolError, "Read", err)
		}

		if h.Length > len(s.inputBuf) {
			s.growInputBuf(h.Length)
			continue
		}
		if s.inputFilled-s.inputCursor < h.Length {
			if !s.fillMoreLocked() {
				return nil, ReadWouldBlock, false, nil
			}
			continue
		}

		frame := avail[:h.Length]
		payload := frame[consumed:]
		s.inputCursor += h.Length

		buf, status, more, err := s.handleFrame(h, payload)
		if err != nil || buf != nil || status != ReadSuccess {
			return buf, status, more, err
		}
		// FRAG_HEADER / intermediate FRAG produced nothing yet; loop to
		// parse the next frame already buffered, if any.
	}
}

// fillMoreLocked reads more bytes from the transport into the input
// buffer, compacting consumed bytes first. Returns false if no new bytes
// were available (the caller should report WouldBlock).
func (s *Session) fillMoreLocked() bool {
	if s.inputCursor > 0 {
		n := copy(s.inputBuf, s.inputBuf[s.inputCursor:s.inputFilled])
		s.inputFilled = n
		s.inputCursor = 0
	}
	if s.inputFilled == len(s.inputBuf) {
		s.growInputBuf(len(s.inputBuf) * 2)
	}
	n, err := s.conn.Read(s.inputBuf[s.inputFilled:])
	if n > 0 {
		s.inputFilled += n
		s.stats.BytesRead += int64(n)
	}
	if err != nil && err != io.EOF {
		s.state = StateInactive
	}
	return n > 0
}

func (s *Session) growInputBuf(min int) {
	if min <= len(s.inputBuf) {
		return
	}
	grown := make([]byte, min)
	copy(grown, s.inputBuf[:s.inputFilled])
	s.inputBuf = grown
}

// handleFrame dispatches a fully-buffered frame to the plain, packed,
// fragmentation, or compression paths.
func (s *Session) handleFrame(h ripc.Header, payload []byte) (*buffer.Buffer, ReadStatus, bool, error) {
	switch {
	case h.Compressed() && h.FragHeader:
		slot := s.reasm.Begin(h.FragID, int(h.TotalSize))
		slot.SetCompressed(true)
		_, _ = s.reasm.Append(h.FragID, payload)
		return nil, ReadSuccess, false, nil

	case h.Compressed() && h.Frag:
		slot, ok := s.reasm.Append(h.FragID, payload)
		if !ok {
			s.state = StateInactive
			return nil, ReadFailure, false, newErrf(KindProtocolError, "Read", "FRAG with no prior FRAG_HEADER for id %d", h.FragID)
		}
		raw := s.reasm.Complete(h.FragID)
		return s.decompressAndDeliver(slot.totalLength, raw)

	case h.Compressed():
		return s.decompressAndDeliver(0, payload)

	case h.FragHeader:
		slot := s.reasm.Begin(h.FragID, int(h.TotalSize))
		_, _ = s.reasm.Append(h.FragID, payload)
		if slot.complete() {
			raw := s.reasm.Complete(h.FragID)
			return s.deliverPlain(raw)
		}
		return nil, ReadSuccess, false, nil

	case h.Frag:
		slot, ok := s.reasm.Append(h.FragID, payload)
		if !ok {
			s.state = StateInactive
			return nil, ReadFailure, false, newErrf(KindProtocolError, "Read", "FRAG with no prior FRAG_HEADER for id %d", h.FragID)
		}
		if slot.complete() {
			raw := s.reasm.Complete(h.FragID)
			return s.deliverPlain(raw)
		}
		return nil, ReadSuccess, false, nil

	case h.Packed():
		return s.deliverPacked(payload)

	case len(payload) == 0:
		s.stats.PingsRecv++
		return nil, ReadPing, false, nil

	default:
		return s.deliverPlain(payload)
	}
}

func (s *Session) decompressAndDeliver(expectedLen int, compressed []byte) (*buffer.Buffer, ReadStatus, bool, error) {
	c, err := codec.Get(s.compressIn)
	if err != nil {
		s.state = StateInactive
		return nil, ReadFailure, false, newErr(KindCompressionError, "Read", err)
	}
	outLen := expectedLen
	if outLen == 0 {
		outLen = len(compressed) * 4
		if outLen < s.maxFrameSize {
			outLen = s.maxFrameSize
		}
	}
	out, ok := s.pool.Alloc(outLen)
	if !ok {
		return nil, ReadFailure, false, newErr(KindNoBuffers, "Read", nil)
	}
	outcome, err := c.Decompress(out.Data(), compressed)
	if err != nil {
		s.pool.Free(out)
		s.state = StateInactive
		return nil, ReadFailure, false, newErr(KindCompressionError, "Read", err)
	}
	_ = out.SetLength(outcome.BytesOut)
	return out, ReadSuccess, false, nil
}

func (s *Session) deliverPlain(raw []byte) (*buffer.Buffer, ReadStatus, bool, error) {
	out, ok := s.pool.Alloc(len(raw))
	if !ok {
		return nil, ReadFailure, false, newErr(KindNoBuffers, "Read", nil)
	}
	copy(out.Data(), raw)
	_ = out.SetLength(len(raw))
	return out, ReadSuccess, false, nil
}

// deliverPacked exposes the first packed message in payload and stashes
// the remainder (if any) in s.pendingPacked, which the next Read call
// drains directly rather than attempting to parse it as a new frame.
func (s *Session) deliverPacked(payload []byte) (*buffer.Buffer, ReadStatus, bool, error) {
	s.pendingPacked = nil
	if len(payload) < 2 {
		return nil, ReadFailure, false, newErr(KindProtocolError, "Read", nil)
	}
	msgLen := int(payload[0])<<8 | int(payload[1])
	if 2+msgLen > len(payload) {
		return nil, ReadFailure, false, newErr(KindProtocolError, "Read", nil)
	}
	msg := payload[2 : 2+msgLen]
	out, ok := s.pool.Alloc(len(msg))
	if !ok {
		return nil, ReadFailure, false, newErr(KindNoBuffers, "Read", nil)
	}
	copy(out.Data(), msg)
	_ = out.SetLength(len(msg))

	rest := payload[2+msgLen:]
	more := len(rest) > 0
	if more {
		// Copy rather than alias: payload may point into s.inputBuf,
		// which fillMoreLocked can compact/overwrite before the next
		// Read call drains this remainder.
		s.pendingPacked = append([]byte(nil), rest...)
	}
	return out, ReadSuccess, more, nil
}
