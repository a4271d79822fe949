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
	"crypto/rand"
	"errors"

	gojson "github.com/goccy/go-json"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/codec"
	"github.com/ripcd/ripcd/wire/websocket"
)

// readWebSocketLocked is Read's WebSocket-transport counterpart: it
// parses frames directly from the shared input buffer (fillMoreLocked
// and growInputBuf are transport-agnostic and already drive the RIPC
// path the same way), reassembling fragmented messages across
// continuation frames and answering control frames inline.
//
// Unlike the RIPC path there is no packing or RIPC-level fragmentation
// to consider; a WebSocket message maps one-to-one onto a delivered
// Buffer once its continuation chain (if any) completes.
func (s *Session) readWebSocketLocked() (*buffer.Buffer, ReadStatus, bool, error) {
	for {
		avail := s.inputBuf[s.inputCursor:s.inputFilled]
		f, consumed, err := websocket.ParseFrame(avail)
		if err != nil {
			if errors.Is(err, websocket.ErrShort) {
				if !s.fillMoreLocked() {
					return nil, ReadWouldBlock, false, nil
				}
				continue
			}
			s.state = StateInactive
			return nil, ReadFailure, false, newErr(KindProtocolError, "Read", err)
		}
		s.inputCursor += consumed

		buf, status, more, err := s.handleWebSocketFrame(f)
		if err != nil || buf != nil || status != ReadSuccess {
			return buf, status, more, err
		}
		// Ping/Pong/intermediate continuation frame produced nothing
		// yet; loop to parse the next frame already buffered, if any.
	}
}

func (s *Session) handleWebSocketFrame(f websocket.Frame) (*buffer.Buffer, ReadStatus, bool, error) {
	switch f.Opcode {
	case websocket.OpcodePing:
		s.stats.PingsRecv++
		if err := s.writeRawFrameLocked(websocket.OpcodePong, f.Payload); err != nil {
			s.state = StateInactive
			return nil, ReadFailure, false, newErr(KindWriteFlushFailed, "Read", err)
		}
		return nil, ReadSuccess, false, nil

	case websocket.OpcodePong:
		return nil, ReadSuccess, false, nil

	case websocket.OpcodeClose:
		s.state = StateInactive
		code, reason := websocket.DecodeClose(f.Payload)
		return nil, ReadFailure, false, newErrf(KindChannelClosed, "Read", "peer sent close frame (code=%d reason=%q)", code, reason)

	case websocket.OpcodeContinuation:
		if !s.wsContActive {
			return nil, ReadFailure, false, newErr(KindProtocolError, "Read", nil)
		}
		s.wsContBuf = append(s.wsContBuf, f.Payload...)
		if !f.Fin {
			return nil, ReadSuccess, false, nil
		}
		payload := s.wsContBuf
		compressed := s.wsContCompressed
		s.wsContBuf = nil
		s.wsContActive = false
		return s.deliverWebSocketMessage(compressed, payload)

	case websocket.OpcodeText, websocket.OpcodeBinary:
		if s.wsContActive {
			return nil, ReadFailure, false, newErr(KindProtocolError, "Read", nil)
		}
		if !f.Fin {
			s.wsContBuf = append(s.wsContBuf[:0], f.Payload...)
			s.wsContCompressed = f.RSV1
			s.wsContActive = true
			return nil, ReadSuccess, false, nil
		}
		return s.deliverWebSocketMessage(f.RSV1, f.Payload)

	default:
		s.state = StateInactive
		return nil, ReadFailure, false, newErrf(KindProtocolError, "Read", "unsupported websocket opcode %d", f.Opcode)
	}
}

// deliverWebSocketMessage copies a completed message (inflating it first
// if the initiating frame carried RSV1, i.e. permessage-deflate) into a
// pool Buffer the caller owns, matching deliverPlain's RIPC contract.
func (s *Session) deliverWebSocketMessage(compressed bool, payload []byte) (*buffer.Buffer, ReadStatus, bool, error) {
	if compressed {
		c, err := codec.Get(codec.TypeDeflate)
		if err != nil {
			s.state = StateInactive
			return nil, ReadFailure, false, newErr(KindCompressionError, "Read", err)
		}
		inflated, err := websocket.DecompressMessage(c, payload, len(payload)*4+64)
		if err != nil {
			s.state = StateInactive
			return nil, ReadFailure, false, newErr(KindCompressionError, "Read", err)
		}
		payload = inflated
	}

	out, ok := s.pool.Alloc(len(payload))
	if !ok {
		return nil, ReadFailure, false, newErr(KindNoBuffers, "Read", nil)
	}
	copy(out.Data(), payload)
	_ = out.SetLength(len(payload))
	return out, ReadSuccess, false, nil
}

// writeWebSocketLocked frames b as a single WebSocket data frame (text
// for ProtocolJSON sessions, binary otherwise), compressing it under
// permessage-deflate first when negotiated and the payload clears the
// deflate codec's lower threshold.
//
// Only single-frame messages are supported: a payload that does not fit
// in one frame (maxFrameSize) is rejected rather than split across a
// continuation-frame chain. RIPC's fragmentation chain has no WebSocket
// analogue wired up here; callers that need larger WebSocket messages
// must raise MaxFrameSize at Accept time instead.
func (s *Session) writeWebSocketLocked(b *buffer.Buffer, flags WriteFlags) (int, error) {
	payload := b.Bytes()
	opcode := websocket.OpcodeBinary
	if s.protocolTag == ProtocolJSON {
		opcode = websocket.OpcodeText
	}

	rsv1 := false
	if s.wsDeflate && flags&FlagDoNotCompress == 0 && len(payload) >= codec.LowerThreshold(codec.TypeDeflate) {
		c, err := codec.Get(codec.TypeDeflate)
		if err != nil {
			return 0, newErr(KindCompressionError, "Write", err)
		}
		compressed, err := websocket.CompressMessage(c, payload, s.compressionLevel)
		if err != nil {
			return 0, newErr(KindCompressionError, "Write", err)
		}
		payload = compressed
		rsv1 = true
	}

	if len(payload) > s.maxFrameSize {
		return 0, newErrf(KindInvalidArgument, "Write", "websocket payload of %d bytes exceeds max frame size %d", len(payload), s.maxFrameSize)
	}

	masked := s.role == RoleClient
	var maskKey [4]byte
	if masked {
		if _, err := rand.Read(maskKey[:]); err != nil {
			return 0, newErr(KindInternalError, "Write", err)
		}
	}

	hdrLen := websocket.HeaderLen(len(payload), masked)
	out, ok := s.pool.Alloc(hdrLen + len(payload))
	if !ok {
		return 0, newErr(KindNoBuffers, "Write", nil)
	}
	_ = out.SetLength(hdrLen + len(payload))
	data := out.Data()
	websocket.WriteHeader(data, true, rsv1, opcode, masked, maskKey, len(payload))
	copy(data[hdrLen:], payload)
	if masked {
		websocket.Mask(maskKey, data[hdrLen:])
	}
	out.SetPriority(b.Priority())

	s.pool.Free(b)
	s.scheduler.Enqueue(out)
	return out.WireLen(), nil
}

// writeRawFrameLocked sends a single control or data frame straight to
// the transport, bypassing the Write Scheduler, the same way the RIPC
// Ping writes its keepalive frame directly to s.conn.
func (s *Session) writeRawFrameLocked(opcode websocket.Opcode, payload []byte) error {
	masked := s.role == RoleClient
	var maskKey [4]byte
	if masked {
		if _, err := rand.Read(maskKey[:]); err != nil {
			return err
		}
	}
	hdrLen := websocket.HeaderLen(len(payload), masked)
	wire := make([]byte, hdrLen+len(payload))
	websocket.WriteHeader(wire, true, false, opcode, masked, maskKey, len(payload))
	copy(wire[hdrLen:], payload)
	if masked {
		websocket.Mask(maskKey, wire[hdrLen:])
	}
	_, err := s.conn.Write(wire)
	return err
}

// wsHeartbeat is the minimal tr_json2 ping message: a one-element JSON
// array carrying a Ping-typed object, the same envelope shape real
// tr_json2 clients send and expect back.
type wsHeartbeat struct {
	Type string `json:"Type"`
}

func (s *Session) pingWebSocketLocked() (int, error) {
	payload, err := gojson.Marshal([]wsHeartbeat{{Type: "Ping"}})
	if err != nil {
		return 0, newErr(KindInternalError, "Ping", err)
	}
	if err := s.writeRawFrameLocked(websocket.OpcodeText, payload); err != nil {
		s.state = StateInactive
		return 0, newErr(KindWriteFlushFailed, "Ping", err)
	}
	s.stats.PingsSent++
	return len(payload), nil
}
