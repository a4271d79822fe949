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

package transport

import (
	"net"
	"time"
)

// DialTCP opens a plain net.Conn leaf. A net.Conn already satisfies Leaf
// (io.Reader + io.Writer), so no adapter is needed; this helper only adds
// the dial timeout convention used throughout this codebase.
func DialTCP(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// ListenTCP opens a plain net.Listener leaf for the RIPC/WebSocket server.
func ListenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
