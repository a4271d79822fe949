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
	"bytes"
	"crypto/rand"
	"encoding/binary"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/codec"
	"github.com/ripcd/ripcd/wire/ripc"
	"github.com/ripcd/ripcd/wire/websocket"
)

// DialOptions configures a client handshake attempt.
type DialOptions struct {
	Pool               *buffer.Pool
	Hostname           string
	IP                 string
	ComponentVersion   string
	RequestKeyExchange bool
	CompressionOffer   byte // bitmap of acceptable codec.Type values
	MaxFrameSize       int
}

// Dial drives the client side of the RIPC handshake against conn,
// starting at ripc.MaxVersion and retrying one version lower on a
// garbled or absent ack, down to ripc.MinVersion. Per the spec's own
// recommendation (§9 "Version downgrade loop"), each attempt constructs
// a fresh Session rather than mutating one in place, so a downgrade
// never carries over stale compression or queue state.
func Dial(conn Conn, opts DialOptions) (*Session, error) {
	var lastErr error
	for version := ripc.MaxVersion; version >= ripc.MinVersion; version-- {
		s, err := dialAttempt(conn, version, opts)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, newErr(KindChannelClosed, "Dial", lastErr)
}

func dialAttempt(conn Conn, version int, opts DialOptions) (*Session, error) {
	req := ripc.ConnectRequest{
		Version:          ripc.WireVersion(version),
		CompressionBits:  opts.CompressionOffer,
		PingTimeout:      30,
		MajorVersion:     1,
		MinorVersion:     0,
		Hostname:         opts.Hostname,
		IP:               opts.IP,
		ComponentVersion: opts.ComponentVersion,
	}
	if version >= 14 && opts.RequestKeyExchange {
		req.Flags |= ripc.ConnectFlagKeyExchange
	}

	if _, err := conn.Write(req.Encode(version)); err != nil {
		return nil, err
	}

	ackBuf := make([]byte, 4096)
	n, err := conn.Read(ackBuf)
	if err != nil || n == 0 {
		return nil, newErrf(KindChannelClosed, "Dial", "no connack from peer at version %d", version)
	}

	hasKeyExchange := version >= 14 && opts.RequestKeyExchange
	ack, consumed, err := ripc.DecodeConnack(ackBuf[:n], hasKeyExchange)
	if err != nil {
		return nil, err
	}
	ackVersion, ok := ripc.VersionFromWire(ack.Version)
	if !ok {
		return nil, newErrf(KindProtocolError, "Dial", "connack carries unrecognized version 0x%08x", ack.Version)
	}

	s := New(conn, Options{
		Role:             RoleClient,
		Version:          ackVersion,
		MaxFrameSize:     int(ack.MaxMessageSize),
		ProtocolTag:      ProtocolRWF,
		CompressOut:      codec.Type(ack.Compression),
		CompressIn:       codec.Type(ack.Compression),
		CompressionLevel: int(ack.ZlibLevel),
		Pool:             opts.Pool,
		PeerHost:         opts.Hostname,
		PeerIP:           opts.IP,
		ComponentVersion: ack.ComponentVersion,
	})
	s.hs = ripc.StateWaitAck

	if ack.KeyExchange != nil {
		private, err := randomExponent()
		if err != nil {
			return nil, err
		}
		clientPublic := ripc.ComputeShared(ack.KeyExchange.G, private, ack.KeyExchange.P)
		kex := ripc.KeyExchangeClient{Type: 1, Length: 8, ClientPublic: clientPublic}
		if _, err := conn.Write(kex.Encode()); err != nil {
			return nil, err
		}
		s.kexP = ack.KeyExchange.P
		s.kexG = ack.KeyExchange.G
		s.kexPrivate = private
		s.kexShared = ripc.ComputeShared(ack.KeyExchange.ServerPublic, private, ack.KeyExchange.P)
	}
	_ = consumed

	s.state = StateActive
	s.hs = ripc.StateActive
	return s, nil
}

// AcceptOptions configures a server handshake attempt.
type AcceptOptions struct {
	Pool             *buffer.Pool
	MaxFrameSize     int
	CompressionBits  byte // offered compression selection to apply
	ZlibLevel        byte
	ComponentVersion string
	Nak              func(version int) (reject bool, reason string)
}

// Accept drives the server side of the RIPC handshake: reads the
// client's connect-request, applies Nak (if the caller wants to reject
// the requested version), replies with connack (including a key-exchange
// block when requested), and waits for the client's key if so.
//
// Accept always speaks RIPC; a listener that also wants to serve
// WebSocket upgrades on the same port should use AcceptAuto instead.
func Accept(conn Conn, opts AcceptOptions) (*Session, error) {
	reqBuf := make([]byte, 4096)
	n, err := conn.Read(reqBuf)
	if err != nil || n == 0 {
		return nil, newErr(KindChannelClosed, "Accept", err)
	}
	return acceptRIPC(conn, reqBuf[:n], opts)
}

// WebSocketAcceptOptions configures a server-side WebSocket upgrade
// accepted via AcceptAuto.
type WebSocketAcceptOptions struct {
	Pool             *buffer.Pool
	MaxFrameSize     int
	Subprotocols     []string // supported subprotocols (the client's order decides); defaults to websocket.DefaultSubprotocols
	AllowDeflate     bool
	ComponentVersion string
}

// AcceptAuto reads the first bytes of a new connection once and
// dispatches to the RIPC or WebSocket server handshake depending on
// whether the peer opened with an HTTP GET Upgrade: websocket request or
// a raw RIPC connect-request, so a single listener can serve both
// without double-reading the socket.
func AcceptAuto(conn Conn, ripcOpts AcceptOptions, wsOpts WebSocketAcceptOptions) (*Session, error) {
	reqBuf := make([]byte, 4096)
	n, err := conn.Read(reqBuf)
	if err != nil || n == 0 {
		return nil, newErr(KindChannelClosed, "Accept", err)
	}
	raw := reqBuf[:n]

	if looksLikeHTTPUpgrade(raw) {
		return acceptWebSocket(conn, raw, wsOpts)
	}
	return acceptRIPC(conn, raw, ripcOpts)
}

// looksLikeHTTPUpgrade sniffs the RIPC-vs-WebSocket dispatch on the
// request line alone; ParseHandshakeRequest does the real validation of
// the Upgrade/Connection/Sec-WebSocket-* headers once we've committed to
// the WebSocket path.
func looksLikeHTTPUpgrade(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("GET "))
}

func acceptWebSocket(conn Conn, raw []byte, opts WebSocketAcceptOptions) (*Session, error) {
	req, err := websocket.ParseHandshakeRequest(raw)
	if err != nil {
		_, _ = conn.Write(websocket.BuildRejectResponse(websocket.RejectBadRequest, "Bad Request"))
		return nil, newErr(KindProtocolError, "Accept", err)
	}

	supported := opts.Subprotocols
	if len(supported) == 0 {
		supported = websocket.DefaultSubprotocols
	}
	subprotocol, _ := websocket.NegotiateSubprotocol(req.Subprotocols, supported)
	deflate := opts.AllowDeflate && req.WantsDeflate

	if _, err := conn.Write(websocket.BuildHandshakeResponse(req.Key, subprotocol, deflate)); err != nil {
		return nil, newErr(KindChannelClosed, "Accept", err)
	}

	maxFrame := opts.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = 6144
	}

	protoTag := ProtocolJSON
	if subprotocol == "rssl.rwf" {
		protoTag = ProtocolRWF
	}

	s := New(conn, Options{
		Role:             RoleServer,
		Transport:        TransportWebSocket,
		MaxFrameSize:     maxFrame,
		ProtocolTag:      protoTag,
		Pool:             opts.Pool,
		PeerHost:         req.Host,
		ComponentVersion: opts.ComponentVersion,
		WSSubprotocol:    subprotocol,
		WSDeflate:        deflate,
	})
	s.state = StateActive
	s.hs = ripc.StateActive
	return s, nil
}

func acceptRIPC(conn Conn, raw []byte, opts AcceptOptions) (*Session, error) {
	// The connect-request's own internal version isn't known until the
	// wire version is decoded; try each supported internal version's
	// layout newest-first since hostname/component-version framing
	// differs by version.
	var req ripc.ConnectRequest
	var version int
	var decodeErr error
	for v := ripc.MaxVersion; v >= ripc.MinVersion; v-- {
		var cursor int
		req, cursor, decodeErr = ripc.DecodeConnectRequest(raw, v)
		if decodeErr == nil {
			if iv, ok := ripc.VersionFromWire(req.Version); ok && iv == v {
				version = v
				_ = cursor
				break
			}
		}
	}
	if version == 0 {
		return nil, newErr(KindProtocolError, "Accept", decodeErr)
	}

	if opts.Nak != nil {
		if reject, reason := opts.Nak(version); reject {
			nak := ripc.Connnak{Text: reason}
			_, _ = conn.Write(nak.Encode())
			return nil, newErrf(KindChannelClosed, "Accept", "nak: %s", reason)
		}
	}

	maxFrame := opts.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = 6144
	}

	ack := ripc.Connack{
		Version:          ripc.WireVersion(version),
		Timeout:          30,
		MaxMessageSize:   uint32(maxFrame),
		Compression:      selectCompression(req.CompressionBits, opts.CompressionBits),
		ZlibLevel:        opts.ZlibLevel,
		ComponentVersion: opts.ComponentVersion,
	}

	wantsKeyExchange := version >= 14 && req.Flags&ripc.ConnectFlagKeyExchange != 0
	var private, p, g uint64
	if wantsKeyExchange {
		p, g = 17, 5
		var err error
		private, err = randomExponent()
		if err != nil {
			return nil, err
		}
		ack.KeyExchange = &ripc.KeyExchangeServer{
			Type: 1, Length: 24, P: p, G: g,
			ServerPublic: ripc.ComputeShared(g, private, p),
		}
	}

	if _, err := conn.Write(ack.Encode()); err != nil {
		return nil, err
	}

	s := New(conn, Options{
		Role:             RoleServer,
		Version:          version,
		MaxFrameSize:     maxFrame,
		ProtocolTag:      ProtocolRWF,
		CompressOut:      codec.Type(ack.Compression),
		CompressIn:       codec.Type(ack.Compression),
		CompressionLevel: int(opts.ZlibLevel),
		Pool:             opts.Pool,
		PeerHost:         req.Hostname,
		PeerIP:           req.IP,
		ComponentVersion: req.ComponentVersion,
	})

	if wantsKeyExchange {
		kexBuf := make([]byte, 32)
		n, err := conn.Read(kexBuf)
		if err != nil || n == 0 {
			return nil, newErr(KindChannelClosed, "Accept", err)
		}
		client, _, err := ripc.DecodeKeyExchangeClient(kexBuf[:n])
		if err != nil {
			return nil, err
		}
		s.kexP = p
		s.kexG = g
		s.kexPrivate = private
		s.kexShared = ripc.ComputeShared(client.ClientPublic, private, p)
	}

	s.state = StateActive
	s.hs = ripc.StateActive
	return s, nil
}

// selectCompression picks the highest-priority codec both the client's
// bitmap and the server's configured offer agree on, preferring LZ4 over
// deflate over none.
func selectCompression(clientBits, serverBits byte) byte {
	combined := clientBits & serverBits
	switch {
	case combined&(1<<codec.TypeLZ4) != 0:
		return byte(codec.TypeLZ4)
	case combined&(1<<codec.TypeDeflate) != 0:
		return byte(codec.TypeDeflate)
	default:
		return byte(codec.TypeNone)
	}
}

// randomExponent draws a private Diffie-Hellman-style exponent.
func randomExponent() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b[:])
	// Keep it small relative to typical toy moduli used in this
	// handshake so ComputeShared's big.Int.Exp stays cheap; real
	// deployments negotiate p/g sized for their threat model.
	return v%1000 + 1, nil
}
