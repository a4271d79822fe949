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
	"encoding/binary"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/codec"
	"github.com/ripcd/ripcd/wire/ripc"
)

// Write frames b (applying fragmentation, packing, and compression as
// negotiated) and enqueues the result on the Write Scheduler. It returns
// the number of bytes now queued (not necessarily flushed) or an error.
//
// A fragmentation chain that runs out of pool buffers returns
// KindWriteCallAgain; the caller must retry the same Buffer handle, whose
// writeCursor/fragID/fragmented fields already record how far framing
// got.
func (s *Session) Write(b *buffer.Buffer, flags WriteFlags) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Length() > b.MaxLength() {
		return 0, newErr(KindInvalidArgument, "Write", nil)
	}

	if s.transport == TransportWebSocket {
		return s.writeWebSocketLocked(b, flags)
	}

	packed := b.PackingOffset() > 0
	if packed {
		s.stampFinalPackedMessage(b)
	}

	payload := b.Bytes()
	priority := b.Priority()

	if s.shouldCompress(payload, priority, flags) {
		return s.writeCompressed(b, payload, priority)
	}

	if len(payload) <= s.maxFrameSize-ripc.HeaderLen {
		return s.writeSingleFrame(b, payload, packed, 0)
	}
	return s.writeFragmented(b, payload)
}

// stampFinalPackedMessage writes the last packed message's length prefix,
// per spec: "on Write, the final message's length is stamped." A
// zero-length trailing message (the caller called Pack one time too many
// without writing anything after) is elided by trimming the buffer back
// to its reserved-but-unused slot.
func (s *Session) stampFinalPackedMessage(b *buffer.Buffer) {
	data := b.Data()
	prev := b.PrevOffset()
	cur := b.Length()
	msgLen := cur - prev - 2
	if msgLen <= 0 {
		_ = b.SetLength(prev)
		return
	}
	binary.BigEndian.PutUint16(data[prev:prev+2], uint16(msgLen))
}

// shouldCompress applies the spec's four gating conditions: compression
// negotiated on, payload at/above the codec's lower threshold, this is
// (or becomes) the one priority queue that ever compresses on this
// session, and the caller didn't set DoNotCompress.
func (s *Session) shouldCompress(payload []byte, priority buffer.Priority, flags WriteFlags) bool {
	if s.compressOut == codec.TypeNone {
		return false
	}
	if flags&FlagDoNotCompress != 0 {
		return false
	}
	threshold := s.compressionThreshold
	if threshold == 0 {
		threshold = codec.LowerThreshold(s.compressOut)
	}
	if len(payload) < threshold {
		return false
	}
	if !s.compressPriorityKnown {
		s.compressPriority = priority
		s.compressPriorityKnown = true
	}
	return priority == s.compressPriority
}

// writeSingleFrame frames one uncompressed payload in place in b as a
// standalone DATA frame (with PACKING set when packed) and enqueues it.
func (s *Session) writeSingleFrame(b *buffer.Buffer, payload []byte, packed bool, _ int) (int, error) {
	h := ripc.Header{Flags: ripc.FlagData}
	if packed {
		h.Flags |= ripc.FlagPacking
	}
	hdrLen := ripc.WriteHeaderLen(h, s.version)
	h.Length = hdrLen + len(payload)

	hdr, err := b.Prepend(hdrLen)
	if err != nil {
		return 0, newErr(KindInvalidArgument, "Write", err)
	}
	ripc.WriteHeader(hdr, h, s.version)

	s.scheduler.Enqueue(b)
	return b.WireLen(), nil
}

// writeFragmented splits an uncompressed payload larger than one frame
// across a chain of pool buffers, each carrying FRAG_HEADER (first) or
// FRAG (continuation) opcode bits and a shared fragment id.
func (s *Session) writeFragmented(caller *buffer.Buffer, payload []byte) (int, error) {
	fragIDSize := ripc.FragIDSize(s.version)
	maxFragIDVal := ripc.MaxFragID(s.version)

	fragID := caller.FragID()
	offset := 0
	if caller.Fragmented() {
		// Retry after KindWriteCallAgain: keep the chain's fragment id and
		// continue from the offset the previous call recorded.
		offset = caller.WriteCursor()
	} else {
		fragID = s.nextFragID
		s.nextFragID++
		if s.nextFragID > maxFragIDVal {
			s.nextFragID = 1
		}
	}

	chunkCap := s.maxFrameSize - ripc.HeaderLen - 1 - 4 - fragIDSize
	if chunkCap <= 0 {
		return 0, newErrf(KindInternalError, "Write", "negotiated max frame size %d too small for fragmentation headers", s.maxFrameSize)
	}

	total := len(payload)
	queued := 0
	first := offset == 0

	for offset < total {
		n := chunkCap
		if first {
			// First frame's chunk budget already accounts for the larger
			// FRAG_HEADER fields above; continuation frames get a
			// slightly bigger budget since they only carry the fragment
			// id, not the 4-byte total.
		} else {
			n = s.maxFrameSize - ripc.HeaderLen - 1 - fragIDSize
		}
		if offset+n > total {
			n = total - offset
		}

		frameBuf, ok := s.pool.Alloc(n)
		if !ok {
			caller.SetWriteCursor(offset)
			caller.SetFragID(fragID)
			caller.SetFragmented(true)
			return queued, newErr(KindWriteCallAgain, "Write", nil)
		}
		_ = frameBuf.SetLength(n)
		copy(frameBuf.Data(), payload[offset:offset+n])

		h := ripc.Header{
			Flags:     ripc.FlagData | ripc.FlagExtendedFlags,
			HasOpcode: true,
		}
		if first {
			h.Opcode = ripc.OpcodeFragHeader
			h.FragHeader = true
			h.TotalSize = uint32(total)
			h.FragID = fragID
		} else {
			h.Opcode = ripc.OpcodeFrag
			h.Frag = true
			h.FragID = fragID
		}
		hdrLen := ripc.WriteHeaderLen(h, s.version)
		h.Length = hdrLen + n

		hdr, err := frameBuf.Prepend(hdrLen)
		if err != nil {
			return queued, newErr(KindInternalError, "Write", err)
		}
		ripc.WriteHeader(hdr, h, s.version)

		frameBuf.SetPriority(caller.Priority())
		s.scheduler.Enqueue(frameBuf)
		queued += frameBuf.WireLen()

		offset += n
		first = false
	}

	s.pool.Free(caller)
	return queued, nil
}

// writeCompressed compresses payload as one shot; if the compressed
// result still fits in one frame it is sent as a single COMP_DATA frame,
// otherwise it spills across exactly two frames (COMP_FRAG then
// COMP_DATA) sharing one fragment id, matching LZ4's two-buffer
// spillover (spec §4.2/§4.3/§8 scenario 3).
func (s *Session) writeCompressed(caller *buffer.Buffer, payload []byte, priority buffer.Priority) (int, error) {
	c, err := codec.Get(s.compressOut)
	if err != nil {
		return 0, newErr(KindCompressionError, "Write", err)
	}

	scratch := make([]byte, c.MaxCompressedLen(len(payload)))
	outcome, err := c.Compress(scratch, payload, s.compressionLevel)
	if err != nil {
		return 0, newErr(KindCompressionError, "Write", err)
	}
	compressed := scratch[:outcome.BytesOut]

	fragIDSize := ripc.FragIDSize(s.version)
	firstFrameCap := s.maxFrameSize - ripc.HeaderLen - 1 - 4 - fragIDSize

	if len(compressed) <= s.maxFrameSize-ripc.HeaderLen {
		out, ok := s.pool.Alloc(len(compressed))
		if !ok {
			return 0, newErr(KindNoBuffers, "Write", nil)
		}
		_ = out.SetLength(len(compressed))
		copy(out.Data(), compressed)
		out.SetPriority(priority)

		h := ripc.Header{Flags: ripc.FlagData | ripc.FlagCompData}
		hdrLen := ripc.WriteHeaderLen(h, s.version)
		h.Length = hdrLen + len(compressed)
		hdr, err := out.Prepend(hdrLen)
		if err != nil {
			return 0, newErr(KindInternalError, "Write", err)
		}
		ripc.WriteHeader(hdr, h, s.version)

		s.pool.Free(caller)
		s.scheduler.Enqueue(out)
		return out.WireLen(), nil
	}

	fragID := s.nextFragID
	s.nextFragID++
	if s.nextFragID > ripc.MaxFragID(s.version) {
		s.nextFragID = 1
	}

	firstLen := firstFrameCap
	if firstLen > len(compressed) {
		firstLen = len(compressed)
	}

	first, ok := s.pool.Alloc(firstLen)
	if !ok {
		return 0, newErr(KindNoBuffers, "Write", nil)
	}
	_ = first.SetLength(firstLen)
	copy(first.Data(), compressed[:firstLen])
	first.SetPriority(priority)

	h1 := ripc.Header{
		Flags:      ripc.FlagData | ripc.FlagExtendedFlags | ripc.FlagCompData | ripc.FlagCompFrag,
		HasOpcode:  true,
		Opcode:     ripc.OpcodeFragHeader,
		FragHeader: true,
		TotalSize:  uint32(len(payload)),
		FragID:     fragID,
	}
	hdrLen1 := ripc.WriteHeaderLen(h1, s.version)
	h1.Length = hdrLen1 + firstLen
	hdr1, err := first.Prepend(hdrLen1)
	if err != nil {
		return 0, newErr(KindInternalError, "Write", err)
	}
	ripc.WriteHeader(hdr1, h1, s.version)

	remainder := compressed[firstLen:]
	second, ok := s.pool.Alloc(len(remainder))
	if !ok {
		s.pool.Free(first)
		return 0, newErr(KindNoBuffers, "Write", nil)
	}
	_ = second.SetLength(len(remainder))
	copy(second.Data(), remainder)
	second.SetPriority(priority)

	h2 := ripc.Header{
		Flags:     ripc.FlagData | ripc.FlagExtendedFlags | ripc.FlagCompData,
		HasOpcode: true,
		Opcode:    ripc.OpcodeFrag,
		Frag:      true,
		FragID:    fragID,
	}
	hdrLen2 := ripc.WriteHeaderLen(h2, s.version)
	h2.Length = hdrLen2 + len(remainder)
	hdr2, err := second.Prepend(hdrLen2)
	if err != nil {
		return 0, newErr(KindInternalError, "Write", err)
	}
	ripc.WriteHeader(hdr2, h2, s.version)

	s.pool.Free(caller)
	s.scheduler.Enqueue(first)
	s.scheduler.Enqueue(second)
	return first.WireLen() + second.WireLen(), nil
}
