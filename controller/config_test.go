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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaultsWhenUnset(t *testing.T) {
	var cfg Config
	assert.Equal(t, 6144, cfg.poolSlabSize())
	assert.Equal(t, 2*time.Minute, cfg.tunnelAssociationTTL())
}

func TestConfigRespectsExplicitValues(t *testing.T) {
	cfg := Config{PoolSlabSize: 8192, TunnelAssociationTTL: 30 * time.Second}
	assert.Equal(t, 8192, cfg.poolSlabSize())
	assert.Equal(t, 30*time.Second, cfg.tunnelAssociationTTL())
}
