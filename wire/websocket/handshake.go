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
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/ripcd/ripcd/internal/splitio"
)

// acceptKeyGUID is RFC 6455's fixed magic string used to derive
// Sec-WebSocket-Accept from the client's Sec-WebSocket-Key.
const acceptKeyGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// DefaultSubprotocols is the subprotocol list offered when the caller has
// not configured its own. Its order carries no preference:
// NegotiateSubprotocol picks the first protocol in the client's offer.
var DefaultSubprotocols = []string{"rssl.json.v2", "rssl.rwf", "tr_json2"}

// RejectCode is the HTTP status returned when the opening handshake is
// refused, mapped from the condition that triggered the rejection.
type RejectCode int

const (
	RejectBadRequest          RejectCode = 400
	RejectUnauthorized        RejectCode = 401
	RejectForbidden           RejectCode = 403
	RejectNotFound            RejectCode = 404
	RejectPayloadTooLarge     RejectCode = 413
	RejectInternalServerError RejectCode = 500
)

// HandshakeRequest is the parsed form of the client's upgrade GET.
type HandshakeRequest struct {
	Method         string
	Path           string
	Host           string
	Key            string
	Subprotocols   []string
	WantsDeflate   bool
	ClientNoCtxTko bool
	ServerNoCtxTko bool
}

// ParseHandshakeRequest scans an HTTP/1.1 GET request for the headers the
// WebSocket opening handshake needs, using the teacher's CRLF line
// scanner instead of bufio.Scanner to avoid copying the request buffer.
func ParseHandshakeRequest(raw []byte) (HandshakeRequest, error) {
	var req HandshakeRequest
	headers := map[string]string{}

	sc := splitio.NewScanner(raw)
	first := true
	for sc.Scan() {
		line := strings.TrimRight(string(sc.Bytes()), "\r\n")
		if first {
			first = false
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 2 {
				return req, newError("malformed request line %q", line)
			}
			req.Method = parts[0]
			req.Path = parts[1]
			continue
		}
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		k := strings.TrimSpace(line[:idx])
		v := strings.TrimSpace(line[idx+1:])
		headers[strings.ToLower(k)] = v
	}

	if req.Method != "GET" {
		return req, newError("expected GET, got %q", req.Method)
	}
	if !httpguts.HeaderValuesContainsToken(splitCSV(headers["connection"]), "upgrade") {
		return req, newError("missing Connection: Upgrade")
	}
	if !strings.EqualFold(headers["upgrade"], "websocket") {
		return req, newError("missing Upgrade: websocket")
	}
	if headers["sec-websocket-version"] != "13" {
		return req, newError("unsupported Sec-WebSocket-Version %q", headers["sec-websocket-version"])
	}
	key := headers["sec-websocket-key"]
	if key == "" || !httpguts.ValidHeaderFieldValue(key) {
		return req, newError("missing or invalid Sec-WebSocket-Key")
	}

	req.Host = headers["host"]
	req.Key = key
	if proto := headers["sec-websocket-protocol"]; proto != "" {
		for _, p := range strings.Split(proto, ",") {
			req.Subprotocols = append(req.Subprotocols, strings.TrimSpace(p))
		}
	}

	if ext := headers["sec-websocket-extensions"]; ext != "" {
		if strings.Contains(ext, "permessage-deflate") {
			req.WantsDeflate = true
			req.ClientNoCtxTko = strings.Contains(ext, "client_no_context_takeover")
			req.ServerNoCtxTko = strings.Contains(ext, "server_no_context_takeover")
		}
	}

	return req, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// AcceptKey computes Sec-WebSocket-Accept from the client's
// Sec-WebSocket-Key per RFC 6455 §4.2.2: SHA-1 of key+GUID, base64.
func AcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(acceptKeyGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NegotiateSubprotocol picks the first entry of offered that also
// appears in supported, preserving the client's preference order. It
// returns ok=false if none match.
func NegotiateSubprotocol(offered, supported []string) (string, bool) {
	supportedSet := make(map[string]bool, len(supported))
	for _, s := range supported {
		supportedSet[s] = true
	}
	for _, o := range offered {
		if supportedSet[o] {
			return o, true
		}
	}
	return "", false
}

// BuildHandshakeResponse renders the server's 101 Switching Protocols
// reply for a successful negotiation.
func BuildHandshakeResponse(clientKey, subprotocol string, deflate bool) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Accept: %s\r\n", AcceptKey(clientKey))
	if subprotocol != "" {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", subprotocol)
	}
	if deflate {
		b.WriteString("Sec-WebSocket-Extensions: permessage-deflate\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// BuildRejectResponse renders a minimal HTTP error response for a failed
// handshake.
func BuildRejectResponse(code RejectCode, reason string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, reason)
	b.WriteString("Connection: close\r\n\r\n")
	return []byte(b.String())
}
