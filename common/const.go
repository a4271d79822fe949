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

package common

const (
	// App 应用程序名称
	App = "ripcd"

	// Version 应用程序版本
	Version = "v0.0.1"

	// DefaultSlabSize 默认的 Buffer Pool slab 大小
	//
	// 与默认的最大帧大小对齐 (6144) 并留出协议头部的 prepend 空间
	DefaultSlabSize = 6144

	// DefaultMaxFragmentSize 未协商情况下的默认最大分片大小
	DefaultMaxFragmentSize = 6144
)
