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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	k := sessionKey{SessionID: 0xdeadbeef, PID: 4242, IP: 0xc0a8}
	encoded := encodeHeader(k)
	assert.Len(t, encoded, 8)

	decoded, err := decodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, k, decoded)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := decodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewSessionKeyDeterministic(t *testing.T) {
	id := uuid.New()
	k1 := NewSessionKey(id, 99, 0x1234)
	k2 := NewSessionKey(id, 99, 0x1234)
	assert.Equal(t, k1, k2)
}

func TestRegistryAssociateAndLookup(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	defer r.Close()

	k := sessionKey{SessionID: 1, PID: 2, IP: 3}
	c := &Conn{key: k}
	r.Associate(k, c)

	got, ok := r.Lookup(k)
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = r.Lookup(sessionKey{SessionID: 99})
	assert.False(t, ok)
}

func TestRegistryEntryExpires(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	defer r.Close()

	k := sessionKey{SessionID: 7}
	r.Associate(k, &Conn{key: k})

	assert.Eventually(t, func() bool {
		_, ok := r.Lookup(k)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestWriteReconnectSignalAndAck(t *testing.T) {
	var sig bytes.Buffer
	require.NoError(t, WriteReconnectSignal(&sig))
	assert.Equal(t, reconnectSignal[:], sig.Bytes())

	var ack bytes.Buffer
	require.NoError(t, WriteReconnectAck(&ack))

	r := newChunkReader(&ack)
	payload, err := r.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte{reconnectAckByte}, payload)
}
