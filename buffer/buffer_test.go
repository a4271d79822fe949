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

package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAllocRoundTrip(t *testing.T) {
	p := NewPool("test", 1024)

	buf, ok := p.Alloc(64)
	require.True(t, ok)
	require.NotNil(t, buf)
	assert.Equal(t, 64, buf.MaxLength())
	assert.Equal(t, 0, buf.Length())

	copy(buf.Data(), []byte("hello"))
	require.NoError(t, buf.SetLength(5))
	assert.Equal(t, []byte("hello"), buf.Bytes())

	stats := p.Stats()
	assert.Equal(t, 1, stats.InUse)

	p.Free(buf)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 1, stats.Free)
}

func TestBufferSetLengthRejectsOverflow(t *testing.T) {
	p := NewPool("test", 1024)
	buf, ok := p.Alloc(16)
	require.True(t, ok)

	err := buf.SetLength(17)
	assert.Error(t, err)
}

func TestBufferPrependChecked(t *testing.T) {
	p := NewPool("test", 1024)
	buf, ok := p.Alloc(32)
	require.True(t, ok)

	hdr, err := buf.Prepend(4)
	require.NoError(t, err)
	assert.Len(t, hdr, 4)

	// A second prepend exceeding the remaining headroom must fail rather
	// than read before the slab.
	_, err = buf.Prepend(DefaultHeaderReserve)
	assert.ErrorIs(t, err, ErrHeaderUnderflow)
}

func TestBufferWireIncludesHeaderAndFooter(t *testing.T) {
	p := NewPool("test", 1024)
	buf, ok := p.Alloc(8)
	require.True(t, ok)

	hdr, err := buf.Prepend(3)
	require.NoError(t, err)
	copy(hdr, []byte{0xAA, 0xBB, 0xCC})

	copy(buf.Data(), []byte("payload!"))
	require.NoError(t, buf.SetLength(8))

	ftr, err := buf.AppendFooter(2)
	require.NoError(t, err)
	copy(ftr, []byte{0xDD, 0xEE})

	wire := buf.Wire()
	assert.Equal(t, 3+8+2, buf.WireLen())
	assert.Equal(t, byte(0xAA), wire[0])
	assert.Equal(t, byte(0xDD), wire[len(wire)-2])
}

func TestBufferResetOnReuse(t *testing.T) {
	p := NewPool("test", 1024)
	buf, ok := p.Alloc(16)
	require.True(t, ok)

	buf.SetPriority(PriorityLow)
	buf.SetFragID(7)
	buf.SetFragmented(true)
	_, _ = buf.Prepend(2)
	p.Free(buf)

	buf2, ok := p.Alloc(16)
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, buf2.Priority())
	assert.Equal(t, uint32(0), buf2.FragID())
	assert.False(t, buf2.Fragmented())
	assert.Equal(t, DefaultHeaderReserve, buf2.HeaderRoom())
}

func TestPoolHardCapOverflowsToShared(t *testing.T) {
	shared := NewPool("shared", 1024)
	primary := NewPool("primary", 1024)
	primary.SetMax(1)
	primary.SetShared(shared)

	buf1, ok := primary.Alloc(16)
	require.True(t, ok)
	require.NotNil(t, buf1)

	buf2, ok := primary.Alloc(16)
	require.True(t, ok)
	require.NotNil(t, buf2)
	assert.True(t, buf2.Shared())

	primary.Free(buf1)
	shared.Free(buf2)
}

func TestPoolRefCounting(t *testing.T) {
	p := NewPool("refc", 1024)
	p.Retain()
	p.Release()
	p.Release()
	// Pool should not panic on further use after refcount hits zero and
	// its free-list is cleared; Alloc still serves from bytebufferpool.
	buf, ok := p.Alloc(8)
	require.True(t, ok)
	assert.NotNil(t, buf)
}
