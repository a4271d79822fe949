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

// Package ripc implements the RIPC frame codec: the 3-byte base header,
// optional extended-flag/fragmentation fields, packing, and the
// handshake message encodings. It operates on raw byte cursors over a
// caller-owned buffer rather than copying into intermediate structs, in
// the manual-parsing style of the teacher's protocol/p* decoders.
package ripc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "ripc: " + format
	return errors.Errorf(format, args...)
}

// ErrShort is returned by the parsing functions when buf does not yet
// contain a complete field; the caller should read more bytes from the
// transport and retry (Session.Read's WouldBlock path).
var ErrShort = newError("incomplete frame, need more bytes")

// ErrProtocol flags a malformed field: ParseHeader returns it when a
// frame's length is shorter than its own header. Unknown opcode bits and
// message sizes are not checked.
var ErrProtocol = newError("protocol violation")

// Base header bit flags (byte 2 of every frame).
const (
	FlagData          byte = 0x01
	FlagPacking       byte = 0x02
	FlagExtendedFlags byte = 0x04
	FlagCompData      byte = 0x08
	FlagCompFrag      byte = 0x10
)

// Opcode bits, meaningful only when FlagExtendedFlags is set.
const (
	OpcodeFragHeader byte = 0x01
	OpcodeFrag       byte = 0x02
)

// HeaderLen is the fixed-size base header: 2-byte length + 1-byte flags.
const HeaderLen = 3

// FragIDSize returns the wire width of a fragment id for the negotiated
// RIPC connection version: 1 byte for versions <=12, 2 bytes for >=13.
func FragIDSize(version int) int {
	if version <= 12 {
		return 1
	}
	return 2
}

// Header is the parsed form of one frame's control fields. Length is the
// full wire length of the frame, header included.
type Header struct {
	Length     int
	Flags      byte
	HasOpcode  bool
	Opcode     byte
	FragHeader bool
	Frag       bool
	TotalSize  uint32
	FragID     uint32
}

// Compressed reports whether the payload carries COMP_DATA.
func (h Header) Compressed() bool { return h.Flags&FlagCompData != 0 }

// CompFrag reports whether this frame is the first of a two-part
// compressed spillover (see codec package doc).
func (h Header) CompFrag() bool { return h.Flags&FlagCompFrag != 0 }

// Packed reports whether the frame carries PACKING (multiple logical
// messages, each prefixed by a 2-byte length).
func (h Header) Packed() bool { return h.Flags&FlagPacking != 0 }

// ParseHeader parses the control fields at the start of buf. It returns
// the header, the number of bytes consumed (the header's own wire size,
// not including the payload), and an error. ErrShort means buf is too
// short to contain the fields the flags byte promises; the caller must
// read more and retry from the same offset.
func ParseHeader(buf []byte, version int) (Header, int, error) {
	if len(buf) < HeaderLen {
		return Header{}, 0, ErrShort
	}
	h := Header{
		Length: int(binary.BigEndian.Uint16(buf[0:2])),
		Flags:  buf[2],
	}
	cursor := HeaderLen

	if h.Length < HeaderLen {
		return Header{}, 0, errors.Wrapf(ErrProtocol, "frame length %d shorter than header", h.Length)
	}

	if h.Flags&FlagExtendedFlags != 0 {
		if len(buf) < cursor+1 {
			return Header{}, 0, ErrShort
		}
		h.HasOpcode = true
		h.Opcode = buf[cursor]
		cursor++

		fragIDSize := FragIDSize(version)
		switch {
		case h.Opcode&OpcodeFragHeader != 0:
			if len(buf) < cursor+4+fragIDSize {
				return Header{}, 0, ErrShort
			}
			h.FragHeader = true
			h.TotalSize = binary.BigEndian.Uint32(buf[cursor : cursor+4])
			cursor += 4
			h.FragID = readFragID(buf[cursor:cursor+fragIDSize], fragIDSize)
			cursor += fragIDSize
		case h.Opcode&OpcodeFrag != 0:
			if len(buf) < cursor+fragIDSize {
				return Header{}, 0, ErrShort
			}
			h.Frag = true
			h.FragID = readFragID(buf[cursor:cursor+fragIDSize], fragIDSize)
			cursor += fragIDSize
		}
	}

	if h.Length < cursor {
		return Header{}, 0, errors.Wrapf(ErrProtocol, "frame length %d shorter than parsed header %d", h.Length, cursor)
	}

	return h, cursor, nil
}

func readFragID(b []byte, size int) uint32 {
	if size == 1 {
		return uint32(b[0])
	}
	return uint32(binary.BigEndian.Uint16(b))
}

func writeFragID(b []byte, id uint32, size int) {
	if size == 1 {
		b[0] = byte(id)
		return
	}
	binary.BigEndian.PutUint16(b, uint16(id))
}

// WriteHeaderLen returns the wire size WriteHeader will produce for the
// given header shape, so callers can size a Prepend call exactly.
func WriteHeaderLen(h Header, version int) int {
	n := HeaderLen
	if h.HasOpcode {
		n++
		fragIDSize := FragIDSize(version)
		if h.FragHeader {
			n += 4 + fragIDSize
		} else if h.Frag {
			n += fragIDSize
		}
	}
	return n
}

// WriteHeader encodes h into dst, which must be at least
// WriteHeaderLen(h, version) bytes. It returns the number of bytes
// written. The length field is written from h.Length as given, so callers
// set Length (header plus payload) before calling.
func WriteHeader(dst []byte, h Header, version int) int {
	binary.BigEndian.PutUint16(dst[0:2], uint16(h.Length))
	dst[2] = h.Flags
	cursor := HeaderLen

	if h.HasOpcode {
		dst[cursor] = h.Opcode
		cursor++
		fragIDSize := FragIDSize(version)
		if h.FragHeader {
			binary.BigEndian.PutUint32(dst[cursor:cursor+4], h.TotalSize)
			cursor += 4
			writeFragID(dst[cursor:cursor+fragIDSize], h.FragID, fragIDSize)
			cursor += fragIDSize
		} else if h.Frag {
			writeFragID(dst[cursor:cursor+fragIDSize], h.FragID, fragIDSize)
			cursor += fragIDSize
		}
	}
	return cursor
}

// MaxFragID returns the wrap boundary for fragment ids at the given
// connection version: 255 for <=12, 65535 for >=13. 0 is reserved.
func MaxFragID(version int) uint32 {
	if version <= 12 {
		return 255
	}
	return 65535
}
