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

// Package codec implements the Codec Registry: a fixed-size array of
// pluggable compressor/decompressor vtables keyed by algorithm id.
package codec

import (
	"github.com/pkg/errors"
)

// Type identifies a negotiated compression algorithm. Values match the
// RIPC connect-request/connack compression bitmap slot numbers.
type Type uint8

const (
	TypeNone Type = iota
	TypeDeflate
	TypeLZ4

	numTypes
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeDeflate:
		return "deflate"
	case TypeLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Outcome reports how many input bytes a Compressor/Decompressor consumed
// and how many output bytes it produced.
type Outcome struct {
	BytesIn  int
	BytesOut int
}

// Compressor compresses session payloads. Each call compresses one message
// on its own; no compression context is carried from one call to the next.
type Compressor interface {
	// Compress writes the compressed form of in into out, which must be
	// sized for the worst case (see MaxCompressedLen). Level is the
	// negotiated zlib-style compression level (ignored by codecs that
	// don't have one, e.g. LZ4).
	Compress(out, in []byte, level int) (Outcome, error)
	// MaxCompressedLen returns a safe output buffer size for compressing
	// n bytes of input.
	MaxCompressedLen(n int) int
}

// Decompressor decompresses session payloads.
type Decompressor interface {
	// Decompress writes the decompressed form of in into out, which must
	// be sized at least MaxLength() of the destination buffer.
	Decompress(out, in []byte) (Outcome, error)
}

// Codec bundles a Type's Compressor and Decompressor.
type Codec interface {
	Type() Type
	Compressor
	Decompressor
}

func newError(format string, args ...any) error {
	format = "codec: " + format
	return errors.Errorf(format, args...)
}

// ErrExpanded is returned when a decompress/compress call would overflow
// the caller-provided output buffer.
var ErrExpanded = newError("output exceeds destination buffer")

var registry [numTypes]Codec

// Register installs the Codec implementing the given Type. Called from
// each codec's init(); a second Register for the same Type overwrites the
// first, matching the teacher's protocol.Register semantics.
func Register(c Codec) {
	t := c.Type()
	if int(t) >= len(registry) {
		panic("codec: type out of range")
	}
	registry[t] = c
}

// Get returns the Codec registered for t, or an error if the bitmap slot
// negotiated by the handshake has no implementation wired in.
func Get(t Type) (Codec, error) {
	if int(t) >= len(registry) || registry[t] == nil {
		return nil, newError("no codec registered for type %s", t)
	}
	return registry[t], nil
}

// LowerThreshold returns the minimum payload size ioctl's
// CompressionThreshold validation requires for the given type, per
// spec §4.5/§6: deflate needs >=30 bytes, LZ4 needs >=300.
func LowerThreshold(t Type) int {
	switch t {
	case TypeDeflate:
		return 30
	case TypeLZ4:
		return 300
	default:
		return 0
	}
}
