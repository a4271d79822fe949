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
	"github.com/pierrec/lz4/v4"
)

func init() {
	Register(lz4Codec{})
}

// lz4Codec implements RIPC's LZ4 compression in block mode: no context is
// maintained across messages, matching the original's per-message
// LZ4_compress_default/LZ4_decompress_safe calls. When a compressed
// payload would exceed the negotiated frame size, the caller (wire/ripc)
// is responsible for the COMP_FRAG/COMP_DATA two-frame spillover — this
// codec only ever sees one message at a time and knows nothing about
// framing.
type lz4Codec struct{}

func (lz4Codec) Type() Type { return TypeLZ4 }

func (lz4Codec) MaxCompressedLen(n int) int {
	return lz4.CompressBlockBound(n)
}

func (lz4Codec) Compress(out, in []byte, _ int) (Outcome, error) {
	var c lz4.Compressor
	n, err := c.CompressBlock(in, out)
	if err != nil {
		return Outcome{}, newError("lz4: compress: %v", err)
	}
	if n == 0 && len(in) > 0 {
		// Incompressible input: lz4 reports 0 rather than expanding it.
		return Outcome{}, ErrExpanded
	}
	return Outcome{BytesIn: len(in), BytesOut: n}, nil
}

func (lz4Codec) Decompress(out, in []byte) (Outcome, error) {
	n, err := lz4.UncompressBlock(in, out)
	if err != nil {
		return Outcome{}, newError("lz4: decompress: %v", err)
	}
	return Outcome{BytesIn: len(in), BytesOut: n}, nil
}
