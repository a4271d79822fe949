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

// State is the handshake state machine's labeled internal state, shared
// by both connecting and accepting sessions. Tunnel-specific substates
// (PROXY_CONNECTING, CLIENT_WAIT_PROXY_ACK) are not modelled: neither this
// enum nor transport/tunnel tracks them.
type State int

const (
	StateInactive State = iota
	StateInitializing
	StateTransportInit
	StateClientTransportInit
	StateConnecting
	StateWaitAck
	StateWaitClientKey
	StateSendClientKey
	StateAccepting
	StateReadHeader
	StateComplete
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateInitializing:
		return "initializing"
	case StateTransportInit:
		return "transport_init"
	case StateClientTransportInit:
		return "client_transport_init"
	case StateConnecting:
		return "connecting"
	case StateWaitAck:
		return "wait_ack"
	case StateWaitClientKey:
		return "wait_client_key"
	case StateSendClientKey:
		return "send_client_key"
	case StateAccepting:
		return "accepting"
	case StateReadHeader:
		return "read_header"
	case StateComplete:
		return "complete"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a terminal state (no further handshake
// transitions occur; either fully active or torn down).
func (s State) Terminal() bool { return s == StateActive || s == StateInactive }
