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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripUnmasked(t *testing.T) {
	payload := []byte("server to client, never masked")
	hdr := make([]byte, HeaderLen(len(payload), false))
	n := WriteHeader(hdr, true, false, OpcodeBinary, false, [4]byte{}, len(payload))
	wire := append(hdr[:n], payload...)

	f, consumed, err := ParseFrame(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), consumed)
	assert.True(t, f.Fin)
	assert.Equal(t, OpcodeBinary, f.Opcode)
	assert.Equal(t, payload, f.Payload)
}

func TestFrameRoundTripMasked(t *testing.T) {
	payload := []byte("abcd")
	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	masked := append([]byte{}, payload...)
	Mask(key, masked)

	hdr := make([]byte, HeaderLen(len(payload), true))
	n := WriteHeader(hdr, true, false, OpcodePing, true, key, len(payload))
	wire := append(hdr[:n], masked...)

	f, _, err := ParseFrame(wire)
	require.NoError(t, err)
	assert.Equal(t, OpcodePing, f.Opcode)
	assert.Equal(t, payload, f.Payload)
}

func TestParseFrameShort(t *testing.T) {
	_, _, err := ParseFrame([]byte{0x81})
	assert.ErrorIs(t, err, ErrShort)
}

func TestControlFrameMustNotFragment(t *testing.T) {
	hdr := make([]byte, HeaderLen(4, false))
	n := WriteHeader(hdr, false, false, OpcodeClose, false, [4]byte{}, 4)
	wire := append(hdr[:n], []byte("abcd")...)

	_, _, err := ParseFrame(wire)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestPingPongScenario(t *testing.T) {
	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	payload := []byte("abcd")
	masked := append([]byte{}, payload...)
	Mask(key, masked)
	hdr := make([]byte, HeaderLen(4, true))
	n := WriteHeader(hdr, true, false, OpcodePing, true, key, 4)
	wire := append(hdr[:n], masked...)

	ping, _, err := ParseFrame(wire)
	require.NoError(t, err)
	assert.Equal(t, OpcodePing, ping.Opcode)
	assert.Equal(t, payload, ping.Payload)

	pongHdr := make([]byte, HeaderLen(len(ping.Payload), false))
	pn := WriteHeader(pongHdr, true, false, OpcodePong, false, [4]byte{}, len(ping.Payload))
	pongWire := append(pongHdr[:pn], ping.Payload...)

	pong, _, err := ParseFrame(pongWire)
	require.NoError(t, err)
	assert.Equal(t, OpcodePong, pong.Opcode)
	assert.Equal(t, payload, pong.Payload)
}

func TestCloseCodeRoundTrip(t *testing.T) {
	payload := EncodeClose(CloseNormal, "bye")
	code, reason := DecodeClose(payload)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, "bye", reason)
}

func TestCloseCodeNoStatus(t *testing.T) {
	code, reason := DecodeClose(nil)
	assert.Equal(t, CloseNoStatus, code)
	assert.Empty(t, reason)
}

func TestHandshakeAcceptKeyKnownVector(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestParseHandshakeRequest(t *testing.T) {
	raw := []byte("GET /ws HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Protocol: rssl.rwf, tr_json2\r\n" +
		"Sec-WebSocket-Extensions: permessage-deflate; client_no_context_takeover\r\n" +
		"\r\n")

	req, err := ParseHandshakeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", req.Key)
	assert.Equal(t, []string{"rssl.rwf", "tr_json2"}, req.Subprotocols)
	assert.True(t, req.WantsDeflate)
	assert.True(t, req.ClientNoCtxTko)

	proto, ok := NegotiateSubprotocol(req.Subprotocols, DefaultSubprotocols)
	require.True(t, ok)
	assert.Equal(t, "rssl.rwf", proto)
}

func TestParseHandshakeRequestRejectsBadVersion(t *testing.T) {
	raw := []byte("GET /ws HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 8\r\n" +
		"\r\n")
	_, err := ParseHandshakeRequest(raw)
	assert.Error(t, err)
}
