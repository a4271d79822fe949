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

package ripc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTripPlain(t *testing.T) {
	h := Header{Length: 10, Flags: FlagData}
	buf := make([]byte, WriteHeaderLen(h, 14))
	n := WriteHeader(buf, h, 14)
	assert.Equal(t, HeaderLen, n)

	parsed, consumed, err := ParseHeader(buf, 14)
	require.NoError(t, err)
	assert.Equal(t, consumed, n)
	assert.Equal(t, h.Length, parsed.Length)
	assert.Equal(t, h.Flags, parsed.Flags)
}

func TestHeaderRoundTripFragHeaderV14(t *testing.T) {
	h := Header{
		Length:     100,
		Flags:      FlagData | FlagExtendedFlags,
		HasOpcode:  true,
		Opcode:     OpcodeFragHeader,
		FragHeader: true,
		TotalSize:  20000,
		FragID:     1,
	}
	buf := make([]byte, WriteHeaderLen(h, 14))
	WriteHeader(buf, h, 14)

	parsed, _, err := ParseHeader(buf, 14)
	require.NoError(t, err)
	assert.True(t, parsed.FragHeader)
	assert.EqualValues(t, 20000, parsed.TotalSize)
	assert.EqualValues(t, 1, parsed.FragID)
}

func TestHeaderFragIDWidthByVersion(t *testing.T) {
	assert.Equal(t, 1, FragIDSize(12))
	assert.Equal(t, 2, FragIDSize(13))
	assert.EqualValues(t, 255, MaxFragID(12))
	assert.EqualValues(t, 65535, MaxFragID(13))
}

func TestParseHeaderShortBuffer(t *testing.T) {
	_, _, err := ParseHeader([]byte{0x00}, 14)
	assert.ErrorIs(t, err, ErrShort)
}

func TestConnectRequestRoundTripV14(t *testing.T) {
	req := ConnectRequest{
		Version:          WireVersion(14),
		Flags:            ConnectFlagKeyExchange,
		CompressionBits:  0,
		PingTimeout:      30,
		ProtocolType:     2,
		MajorVersion:     1,
		MinorVersion:     0,
		Hostname:         "host",
		IP:               "127.0.0.1",
		ComponentVersion: "CoreImpl/1.0",
	}
	encoded := req.Encode(14)
	decoded, n, err := DecodeConnectRequest(encoded, 14)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, req.Hostname, decoded.Hostname)
	assert.Equal(t, req.ComponentVersion, decoded.ComponentVersion)
	assert.Equal(t, req.Flags, decoded.Flags)
}

func TestKeyExchangeMatchesWorkedExample(t *testing.T) {
	const p, g = 17, 5
	serverPrivate := uint64(10)
	clientPrivate := uint64(8)

	serverPublic := ComputeShared(g, serverPrivate, p)
	clientPublic := ComputeShared(g, clientPrivate, p)
	assert.EqualValues(t, 9, serverPublic)
	assert.EqualValues(t, 16, clientPublic)

	sharedFromClient := ComputeShared(clientPublic, serverPrivate, p)
	sharedFromServer := ComputeShared(serverPublic, clientPrivate, p)
	assert.Equal(t, sharedFromClient, sharedFromServer)
	assert.EqualValues(t, 1, sharedFromClient)
}

func TestConnackRoundTripWithKeyExchange(t *testing.T) {
	c := Connack{
		Version:        WireVersion(14),
		MaxMessageSize: 6144,
		ZlibLevel:      6,
		KeyExchange: &KeyExchangeServer{
			Type: 1, Length: 24, P: 17, G: 5, ServerPublic: 6,
		},
		ComponentVersion: "CoreImpl/1.0",
	}
	encoded := c.Encode()
	decoded, _, err := DecodeConnack(encoded, true)
	require.NoError(t, err)
	assert.EqualValues(t, 6144, decoded.MaxMessageSize)
	require.NotNil(t, decoded.KeyExchange)
	assert.EqualValues(t, 6, decoded.KeyExchange.ServerPublic)
}

func TestVersionWireRoundTrip(t *testing.T) {
	for v := MinVersion; v <= MaxVersion; v++ {
		wire := WireVersion(v)
		back, ok := VersionFromWire(wire)
		require.True(t, ok)
		assert.Equal(t, v, back)
	}
}
