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

package websocket

import (
	"bytes"

	"github.com/ripcd/ripcd/codec"
)

// deflateTrailer is the 4-byte sync-flush marker RFC 7692 strips from the
// wire and the receiver must restore before feeding the inflater.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// CompressMessage compresses payload for a permessage-deflate frame and
// strips the trailing sync-flush marker before it goes on the wire.
func CompressMessage(c codec.Codec, payload []byte, level int) ([]byte, error) {
	out := make([]byte, c.MaxCompressedLen(len(payload)))
	outcome, err := c.Compress(out, payload, level)
	if err != nil {
		return nil, err
	}
	out = out[:outcome.BytesOut]
	out = bytes.TrimSuffix(out, deflateTrailer)
	return out, nil
}

// DecompressMessage restores the trailing sync-flush marker RFC 7692
// callers strip before transmission, then inflates.
func DecompressMessage(c codec.Codec, payload []byte, maxLen int) ([]byte, error) {
	withTrailer := append(append([]byte{}, payload...), deflateTrailer...)
	out := make([]byte, maxLen)
	outcome, err := c.Decompress(out, withTrailer)
	if err != nil {
		return nil, err
	}
	return out[:outcome.BytesOut], nil
}
