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
	"bytes"
	"encoding/binary"
	"math/big"
)

// MinVersion/MaxVersion bound the RIPC connection versions this codec
// understands. Version downgrade (see session.Dial) walks MaxVersion
// down to MinVersion one step at a time.
const (
	MinVersion = 10
	MaxVersion = 14
)

// connectionVersionWire maps the internal small integer versions 10..14
// to the wire's 32-bit connection-version numbers 0x00020000..0x00020004.
var connectionVersionWire = map[int]uint32{
	10: 0x00020000,
	11: 0x00020001,
	12: 0x00020002,
	13: 0x00020003,
	14: 0x00020004,
}

// WireVersion returns the 32-bit connection-version number for an
// internal version, or 0 if version is out of [MinVersion, MaxVersion].
func WireVersion(version int) uint32 { return connectionVersionWire[version] }

// VersionFromWire reverses WireVersion, returning ok=false for an
// unrecognized connection-version number.
func VersionFromWire(wire uint32) (int, bool) {
	for v, w := range connectionVersionWire {
		if w == wire {
			return v, true
		}
	}
	return 0, false
}

// Connect-request flag bits.
const (
	ConnectFlagKeyExchange byte = 0x01
)

// ConnectRequest is the client's opening handshake message.
type ConnectRequest struct {
	Version          uint32
	Flags            byte
	HeaderLength     byte
	CompressionBits  byte
	PingTimeout      byte
	RSSLFlags        byte
	ProtocolType     int16 // present when Version's internal form is >=12
	MajorVersion     byte
	MinorVersion     byte
	Hostname         string
	IP               string
	ComponentVersion string // present when internal version >=13
}

// Encode serializes the request for the negotiated internal version.
func (r ConnectRequest) Encode(version int) []byte {
	var buf bytes.Buffer
	var tmp [4]byte

	binary.BigEndian.PutUint32(tmp[:], r.Version)
	buf.Write(tmp[:])
	buf.WriteByte(r.Flags)
	buf.WriteByte(r.HeaderLength)
	buf.WriteByte(r.CompressionBits)
	buf.WriteByte(r.PingTimeout)
	buf.WriteByte(r.RSSLFlags)

	if version >= 12 {
		binary.BigEndian.PutUint16(tmp[:2], uint16(r.ProtocolType))
		buf.Write(tmp[:2])
	}

	buf.WriteByte(r.MajorVersion)
	buf.WriteByte(r.MinorVersion)
	writeString(&buf, r.Hostname)
	writeString(&buf, r.IP)

	if version >= 13 {
		writeString(&buf, r.ComponentVersion)
	}
	return buf.Bytes()
}

// DecodeConnectRequest parses a ConnectRequest encoded for the given
// internal version.
func DecodeConnectRequest(buf []byte, version int) (ConnectRequest, int, error) {
	var r ConnectRequest
	cursor := 0

	need := func(n int) bool { return len(buf)-cursor >= n }
	if !need(4 + 5) {
		return r, 0, ErrShort
	}
	r.Version = binary.BigEndian.Uint32(buf[cursor:])
	cursor += 4
	r.Flags = buf[cursor]
	cursor++
	r.HeaderLength = buf[cursor]
	cursor++
	r.CompressionBits = buf[cursor]
	cursor++
	r.PingTimeout = buf[cursor]
	cursor++
	r.RSSLFlags = buf[cursor]
	cursor++

	if version >= 12 {
		if !need(2) {
			return r, 0, ErrShort
		}
		r.ProtocolType = int16(binary.BigEndian.Uint16(buf[cursor:]))
		cursor += 2
	}

	if !need(2) {
		return r, 0, ErrShort
	}
	r.MajorVersion = buf[cursor]
	cursor++
	r.MinorVersion = buf[cursor]
	cursor++

	host, n, err := readString(buf[cursor:])
	if err != nil {
		return r, 0, err
	}
	r.Hostname = host
	cursor += n

	ip, n, err := readString(buf[cursor:])
	if err != nil {
		return r, 0, err
	}
	r.IP = ip
	cursor += n

	if version >= 13 {
		cv, n, err := readString(buf[cursor:])
		if err != nil {
			return r, 0, err
		}
		r.ComponentVersion = cv
		cursor += n
	}

	return r, cursor, nil
}

// KeyExchangeServer is the server's half of the Diffie-Hellman-style key
// exchange block carried in Connack for internal version >=14 sessions
// that requested key exchange.
type KeyExchangeServer struct {
	Type         byte
	Length       byte
	P            uint64
	G            uint64
	ServerPublic uint64
}

// KeyExchangeClient is the client's reply carrying its own public value.
type KeyExchangeClient struct {
	Type         byte
	Length       byte
	ClientPublic uint64
}

// ComputeShared computes base^exponent mod modulus using fast modular
// exponentiation (math/big.Int.Exp), matching both peers' derivation of
// the shared secret from the other side's public value.
func ComputeShared(base, exponent, modulus uint64) uint64 {
	b := new(big.Int).SetUint64(base)
	e := new(big.Int).SetUint64(exponent)
	m := new(big.Int).SetUint64(modulus)
	return new(big.Int).Exp(b, e, m).Uint64()
}

// Connack is the server's handshake reply.
type Connack struct {
	Version          uint32
	Pings            byte
	Timeout          byte
	MaxMessageSize   uint32
	Compression      byte
	ZlibLevel        byte
	KeyExchange      *KeyExchangeServer
	ComponentVersion string
}

func (c Connack) Encode() []byte {
	var buf bytes.Buffer
	var tmp [8]byte

	binary.BigEndian.PutUint32(tmp[:4], c.Version)
	buf.Write(tmp[:4])
	buf.WriteByte(c.Pings)
	buf.WriteByte(c.Timeout)
	binary.BigEndian.PutUint32(tmp[:4], c.MaxMessageSize)
	buf.Write(tmp[:4])
	buf.WriteByte(c.Compression)
	buf.WriteByte(c.ZlibLevel)

	if c.KeyExchange != nil {
		buf.WriteByte(c.KeyExchange.Type)
		buf.WriteByte(c.KeyExchange.Length)
		binary.BigEndian.PutUint64(tmp[:], c.KeyExchange.P)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint64(tmp[:], c.KeyExchange.G)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint64(tmp[:], c.KeyExchange.ServerPublic)
		buf.Write(tmp[:])
	}

	writeString(&buf, c.ComponentVersion)
	return buf.Bytes()
}

func DecodeConnack(buf []byte, hasKeyExchange bool) (Connack, int, error) {
	var c Connack
	cursor := 0
	if len(buf) < 4+2+4+2 {
		return c, 0, ErrShort
	}
	c.Version = binary.BigEndian.Uint32(buf[cursor:])
	cursor += 4
	c.Pings = buf[cursor]
	cursor++
	c.Timeout = buf[cursor]
	cursor++
	c.MaxMessageSize = binary.BigEndian.Uint32(buf[cursor:])
	cursor += 4
	c.Compression = buf[cursor]
	cursor++
	c.ZlibLevel = buf[cursor]
	cursor++

	if hasKeyExchange {
		if len(buf)-cursor < 2+24 {
			return c, 0, ErrShort
		}
		ke := &KeyExchangeServer{Type: buf[cursor], Length: buf[cursor+1]}
		cursor += 2
		ke.P = binary.BigEndian.Uint64(buf[cursor:])
		cursor += 8
		ke.G = binary.BigEndian.Uint64(buf[cursor:])
		cursor += 8
		ke.ServerPublic = binary.BigEndian.Uint64(buf[cursor:])
		cursor += 8
		c.KeyExchange = ke
	}

	cv, n, err := readString(buf[cursor:])
	if err != nil {
		return c, 0, err
	}
	c.ComponentVersion = cv
	cursor += n

	return c, cursor, nil
}

func (k KeyExchangeClient) Encode() []byte {
	var buf bytes.Buffer
	var tmp [8]byte
	buf.WriteByte(k.Type)
	buf.WriteByte(k.Length)
	binary.BigEndian.PutUint64(tmp[:], k.ClientPublic)
	buf.Write(tmp[:])
	return buf.Bytes()
}

func DecodeKeyExchangeClient(buf []byte) (KeyExchangeClient, int, error) {
	var k KeyExchangeClient
	if len(buf) < 2+8 {
		return k, 0, ErrShort
	}
	k.Type = buf[0]
	k.Length = buf[1]
	k.ClientPublic = binary.BigEndian.Uint64(buf[2:10])
	return k, 10, nil
}

// Connnak is the server's handshake rejection, a human-readable reason
// carried as a length-prefixed string on the same frame channel.
type Connnak struct {
	Text string
}

func (n Connnak) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, n.Text)
	return buf.Bytes()
}

func DecodeConnnak(buf []byte) (Connnak, int, error) {
	text, n, err := readString(buf)
	if err != nil {
		return Connnak{}, 0, err
	}
	return Connnak{Text: text}, n, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(len(s)))
	buf.Write(tmp[:])
	buf.WriteString(s)
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, ErrShort
	}
	n := int(binary.BigEndian.Uint16(buf))
	if len(buf) < 2+n {
		return "", 0, ErrShort
	}
	return string(buf[2 : 2+n]), 2 + n, nil
}
