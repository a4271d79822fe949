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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, []byte("hello")))

	r := newChunkReader(&buf)
	got, err := r.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestWriteChunkEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, nil))

	// An empty payload is framed as the zero-size chunk, which is the same
	// byte sequence as the end-of-stream marker.
	r := newChunkReader(&buf)
	got, err := r.ReadChunk()
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, got)
}

func TestFinalChunkSignalsEOF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFinalChunk(&buf))

	r := newChunkReader(&buf)
	_, err := r.ReadChunk()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunkReaderHandlesMultipleChunksAcrossReads(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, []byte("first")))
	require.NoError(t, writeChunk(&buf, []byte("second-longer-payload")))
	require.NoError(t, writeFinalChunk(&buf))

	r := newChunkReader(&buf)

	first, err := r.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)

	second, err := r.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte("second-longer-payload"), second)

	_, err = r.ReadChunk()
	assert.ErrorIs(t, err, io.EOF)
}

// slowReader dribbles bytes one at a time, forcing chunkReader.fillMore
// to loop instead of ever getting the whole chunk in a single Read.
type slowReader struct {
	data []byte
}

func (s *slowReader) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.data[:1])
	s.data = s.data[1:]
	return n, nil
}

func TestChunkReaderAcrossFragmentedReads(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, []byte("fragmented-payload")))

	r := newChunkReader(&slowReader{data: buf.Bytes()})
	got, err := r.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte("fragmented-payload"), got)
}
