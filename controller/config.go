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

package controller

import "time"

// Config is the controller-level config block: buffer pool sizing and
// codec defaults shared by every Session the Server produces.
type Config struct {
	// PoolSlabSize is the Buffer Pool's per-buffer slab size.
	PoolSlabSize int `config:"poolSlabSize"`

	// PoolMaxBuffers caps concurrently issued buffers across every
	// session sharing the controller's pool; 0 means unbounded.
	PoolMaxBuffers int `config:"poolMaxBuffers"`

	// TunnelAssociationTTL bounds how long the Tunnel Orchestrator's
	// registry remembers a {session_id, pid, ip} association waiting for
	// a reconnecting streaming FD.
	TunnelAssociationTTL time.Duration `config:"tunnelAssociationTTL"`
}

func (c Config) poolSlabSize() int {
	if c.PoolSlabSize <= 0 {
		return 6144
	}
	return c.PoolSlabSize
}

func (c Config) tunnelAssociationTTL() time.Duration {
	if c.TunnelAssociationTTL <= 0 {
		return 2 * time.Minute
	}
	return c.TunnelAssociationTTL
}
