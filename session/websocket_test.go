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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripcd/ripcd/wire/websocket"
)

func newTestWebSocketSession(t *testing.T, conn Conn, opts Options) *Session {
	t.Helper()
	opts.Transport = TransportWebSocket
	return newTestSession(t, conn, opts)
}

func TestWebSocketWriteReadRoundTrip(t *testing.T) {
	a, b := newPipePair()
	writer := newTestWebSocketSession(t, a, Options{Role: RoleClient, ProtocolTag: ProtocolJSON})
	reader := newTestWebSocketSession(t, b, Options{Role: RoleServer, ProtocolTag: ProtocolJSON})

	buf, err := writer.GetBuffer(13, false)
	require.NoError(t, err)
	copy(buf.Data(), []byte(`{"Type":"Hi"}`))

	n, err := writer.Write(buf, 0)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	flushed, err := writer.Flush()
	require.NoError(t, err)
	assert.Equal(t, n, flushed)

	out, status, more, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, ReadSuccess, status)
	assert.False(t, more)
	require.NotNil(t, out)
	assert.Equal(t, []byte(`{"Type":"Hi"}`), out.Bytes())
}

func TestWebSocketDeflateRoundTrip(t *testing.T) {
	a, b := newPipePair()
	writer := newTestWebSocketSession(t, a, Options{Role: RoleClient, WSDeflate: true})
	reader := newTestWebSocketSession(t, b, Options{Role: RoleServer, WSDeflate: true})

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i % 7)
	}

	buf, err := writer.GetBuffer(len(payload), false)
	require.NoError(t, err)
	copy(buf.Data(), payload)

	_, err = writer.Write(buf, 0)
	require.NoError(t, err)
	_, err = writer.Flush()
	require.NoError(t, err)

	out, status, _, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, ReadSuccess, status)
	require.NotNil(t, out)
	assert.Equal(t, payload, out.Bytes())
}

func TestWebSocketPingSendsJSONHeartbeatTextFrame(t *testing.T) {
	a, b := newPipePair()
	pinger := newTestWebSocketSession(t, a, Options{Role: RoleServer})

	n, err := pinger.Ping()
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	raw := make([]byte, 256)
	rn, err := b.Read(raw)
	require.NoError(t, err)

	f, consumed, err := websocket.ParseFrame(raw[:rn])
	require.NoError(t, err)
	assert.Equal(t, rn, consumed)
	assert.Equal(t, websocket.OpcodeText, f.Opcode)
	assert.Contains(t, string(f.Payload), `"Type":"Ping"`)
	assert.Equal(t, int64(1), pinger.Snapshot().PingsSent)
}

func TestWebSocketPingControlFrameGetsAutoPonged(t *testing.T) {
	a, b := newPipePair()
	responder := newTestWebSocketSession(t, b, Options{Role: RoleServer})

	pingFrame := make([]byte, websocket.HeaderLen(4, false)+4)
	websocket.WriteHeader(pingFrame, true, false, websocket.OpcodePing, false, [4]byte{}, 4)
	copy(pingFrame[websocket.HeaderLen(4, false):], []byte("ohai"))
	_, err := a.Write(pingFrame)
	require.NoError(t, err)

	out, status, more, err := responder.Read()
	require.NoError(t, err)
	assert.Nil(t, out)
	// The ping is answered inline and Read goes on to the next buffered
	// frame; with none left it reports WouldBlock.
	assert.Equal(t, ReadWouldBlock, status)
	assert.False(t, more)
	assert.Equal(t, int64(1), responder.Snapshot().PingsRecv)

	raw := make([]byte, 256)
	rn, err := a.Read(raw)
	require.NoError(t, err)
	f, _, err := websocket.ParseFrame(raw[:rn])
	require.NoError(t, err)
	assert.Equal(t, websocket.OpcodePong, f.Opcode)
	assert.Equal(t, []byte("ohai"), f.Payload)
}

func TestWebSocketContinuationFramesReassemble(t *testing.T) {
	a, b := newPipePair()
	reader := newTestWebSocketSession(t, b, Options{Role: RoleServer})

	first := make([]byte, websocket.HeaderLen(3, false)+3)
	websocket.WriteHeader(first, false, false, websocket.OpcodeBinary, false, [4]byte{}, 3)
	copy(first[websocket.HeaderLen(3, false):], []byte("abc"))

	second := make([]byte, websocket.HeaderLen(3, false)+3)
	websocket.WriteHeader(second, true, false, websocket.OpcodeContinuation, false, [4]byte{}, 3)
	copy(second[websocket.HeaderLen(3, false):], []byte("def"))

	_, err := a.Write(first)
	require.NoError(t, err)
	_, err = a.Write(second)
	require.NoError(t, err)

	out, status, more, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, ReadSuccess, status)
	assert.False(t, more)
	require.NotNil(t, out)
	assert.Equal(t, []byte("abcdef"), out.Bytes())
}

func TestWebSocketCloseFrameMarksSessionInactive(t *testing.T) {
	a, b := newPipePair()
	reader := newTestWebSocketSession(t, b, Options{Role: RoleServer})

	closePayload := websocket.EncodeClose(websocket.CloseNormal, "bye")
	frame := make([]byte, websocket.HeaderLen(len(closePayload), false)+len(closePayload))
	websocket.WriteHeader(frame, true, false, websocket.OpcodeClose, false, [4]byte{}, len(closePayload))
	copy(frame[websocket.HeaderLen(len(closePayload), false):], closePayload)
	_, err := a.Write(frame)
	require.NoError(t, err)

	_, status, _, err := reader.Read()
	assert.Error(t, err)
	assert.Equal(t, ReadFailure, status)
	assert.Equal(t, StateInactive, reader.State())
}

func TestWebSocketWriteOversizedPayloadRejected(t *testing.T) {
	a, _ := newPipePair()
	writer := newTestWebSocketSession(t, a, Options{Role: RoleClient, MaxFrameSize: 8})

	buf, err := writer.GetBuffer(32, false)
	require.NoError(t, err)

	_, err = writer.Write(buf, 0)
	require.Error(t, err)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, KindInvalidArgument, sessErr.Kind)
}
