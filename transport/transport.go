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

// Package transport supplies the leaf connections a session.Session reads
// from and writes to: a plain net.Conn dialer/listener, and (in
// transport/tunnel) the two-FD HTTP tunnel. TLS, proxy CONNECT, and DNS
// resolution are satisfied by whatever net.Conn the caller hands in — this
// package never constructs them itself.
package transport

import "github.com/ripcd/ripcd/session"

// Leaf is the minimal byte-stream a Session drives. net.Conn and the
// tunnel's Conn both satisfy it; it is kept separate from session.Conn so
// callers outside session/ don't need to import that package just to name
// the type.
type Leaf = session.Conn
