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

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/wire/ripc"
)

func TestAcceptAutoDispatchesRIPCConnectRequest(t *testing.T) {
	client, server := newPipePair()

	req := ripc.ConnectRequest{
		Version:      ripc.WireVersion(ripc.MaxVersion),
		PingTimeout:  30,
		MajorVersion: 1,
		MinorVersion: 0,
		Hostname:     "test-host",
	}
	_, err := client.Write(req.Encode(ripc.MaxVersion))
	require.NoError(t, err)

	accepted, err := AcceptAuto(server,
		AcceptOptions{Pool: buffer.NewPool("accept-test", 4096)},
		WebSocketAcceptOptions{})
	require.NoError(t, err)
	assert.Equal(t, TransportRIPC, accepted.transport)
	assert.Equal(t, StateActive, accepted.State())
}

func TestAcceptAutoDispatchesWebSocketUpgrade(t *testing.T) {
	client, server := newPipePair()

	req := "GET /ripc HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Protocol: rssl.rwf\r\n" +
		"\r\n"
	_, err := client.Write([]byte(req))
	require.NoError(t, err)

	accepted, err := AcceptAuto(server,
		AcceptOptions{},
		WebSocketAcceptOptions{Pool: buffer.NewPool("ws-accept-test", 4096)})
	require.NoError(t, err)
	assert.Equal(t, TransportWebSocket, accepted.transport)
	assert.Equal(t, "rssl.rwf", accepted.wsSubprotocol)
	assert.Equal(t, StateActive, accepted.State())

	resp := make([]byte, 512)
	n, err := client.Read(resp)
	require.NoError(t, err)
	assert.Contains(t, string(resp[:n]), "101 Switching Protocols")
	assert.Contains(t, string(resp[:n]), "Sec-WebSocket-Protocol: rssl.rwf")
}

func TestAcceptAutoRejectsMalformedWebSocketUpgrade(t *testing.T) {
	client, server := newPipePair()

	req := "GET /ripc HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, err := client.Write([]byte(req))
	require.NoError(t, err)

	_, err = AcceptAuto(server,
		AcceptOptions{},
		WebSocketAcceptOptions{Pool: buffer.NewPool("ws-reject-test", 4096)})
	assert.Error(t, err)

	resp := make([]byte, 512)
	n, err := client.Read(resp)
	require.NoError(t, err)
	assert.Contains(t, string(resp[:n]), "400")
}
