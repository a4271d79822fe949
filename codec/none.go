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

func init() {
	Register(noneCodec{})
}

// noneCodec is the passthrough compressor used when compression is
// negotiated off, or as the zero value of Type.
type noneCodec struct{}

func (noneCodec) Type() Type { return TypeNone }

func (noneCodec) MaxCompressedLen(n int) int { return n }

func (noneCodec) Compress(out, in []byte, _ int) (Outcome, error) {
	if len(out) < len(in) {
		return Outcome{}, ErrExpanded
	}
	n := copy(out, in)
	return Outcome{BytesIn: n, BytesOut: n}, nil
}

func (noneCodec) Decompress(out, in []byte) (Outcome, error) {
	if len(out) < len(in) {
		return Outcome{}, ErrExpanded
	}
	n := copy(out, in)
	return Outcome{BytesIn: n, BytesOut: n}, nil
}
