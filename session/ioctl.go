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
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/codec"
)

// IoctlCode identifies a tunable Session parameter.
type IoctlCode int

const (
	IoctlMaxNumBuffers IoctlCode = iota
	IoctlNumGuaranteedBuffers
	IoctlHighWaterMark
	IoctlSysReadBuffers
	IoctlSysWriteBuffers
	IoctlCompressionThreshold
	IoctlPriorityFlushOrder
	IoctlDebugFlags
)

// Ioctl applies a single code/value tuning. value is typically a
// common.Options-decoded map entry or a primitive; it is coerced with
// mapstructure into the relevant strongly-typed field. Validation
// failures that touch more than one bad field are aggregated with
// go-multierror so the caller sees every problem in one report.
func (s *Session) Ioctl(code IoctlCode, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merr *multierror.Error

	switch code {
	case IoctlMaxNumBuffers:
		n, err := decodeInt(value)
		if err != nil {
			return newErr(KindInvalidArgument, "Ioctl", err)
		}
		s.pool.SetMax(n)

	case IoctlNumGuaranteedBuffers:
		n, err := decodeInt(value)
		if err != nil {
			return newErr(KindInvalidArgument, "Ioctl", err)
		}
		s.numGuaranteedBuffers = n

	case IoctlHighWaterMark:
		n, err := decodeInt(value)
		if err != nil {
			return newErr(KindInvalidArgument, "Ioctl", err)
		}
		if n < 0 {
			merr = multierror.Append(merr, newErrf(KindInvalidArgument, "Ioctl", "HighWaterMark must be >= 0"))
		}
		s.highWaterMark = n

	case IoctlSysReadBuffers:
		n, err := decodeInt(value)
		if err != nil {
			return newErr(KindInvalidArgument, "Ioctl", err)
		}
		s.sysReadBuffers = n

	case IoctlSysWriteBuffers:
		n, err := decodeInt(value)
		if err != nil {
			return newErr(KindInvalidArgument, "Ioctl", err)
		}
		s.sysWriteBuffers = n

	case IoctlCompressionThreshold:
		n, err := decodeInt(value)
		if err != nil {
			return newErr(KindInvalidArgument, "Ioctl", err)
		}
		if s.compressOut == codec.TypeDeflate && n < codec.LowerThreshold(codec.TypeDeflate) {
			merr = multierror.Append(merr, newErrf(KindInvalidArgument, "Ioctl", "CompressionThreshold %d below deflate minimum %d", n, codec.LowerThreshold(codec.TypeDeflate)))
		}
		if s.compressOut == codec.TypeLZ4 && n < codec.LowerThreshold(codec.TypeLZ4) {
			merr = multierror.Append(merr, newErrf(KindInvalidArgument, "Ioctl", "CompressionThreshold %d below lz4 minimum %d", n, codec.LowerThreshold(codec.TypeLZ4)))
		}
		if merr == nil {
			s.compressionThreshold = n
		}

	case IoctlPriorityFlushOrder:
		str, ok := value.(string)
		if !ok {
			return newErrf(KindInvalidArgument, "Ioctl", "PriorityFlushOrder must be a string")
		}
		order, err := parseFlushOrder(str)
		if err != nil {
			merr = multierror.Append(merr, newErr(KindInvalidArgument, "Ioctl", err))
		} else {
			s.scheduler.SetStrategy(order)
		}

	case IoctlDebugFlags:
		n, err := decodeInt(value)
		if err != nil {
			return newErr(KindInvalidArgument, "Ioctl", err)
		}
		s.debugFlags = n

	default:
		return newErrf(KindInvalidArgument, "Ioctl", "unknown ioctl code %d", code)
	}

	if merr != nil {
		return newErr(KindInvalidArgument, "Ioctl", merr.ErrorOrNil())
	}
	return nil
}

func decodeInt(value any) (int, error) {
	var out int
	cfg := &mapstructure.DecoderConfig{Result: &out, WeaklyTypedInput: true}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return 0, err
	}
	if err := dec.Decode(value); err != nil {
		return 0, err
	}
	return out, nil
}

// parseFlushOrder validates and converts a PriorityFlushOrder string
// (e.g. "HMHLHM") into a buffer.Priority permutation. It must contain at
// least one H and one M, per spec §4.5.
func parseFlushOrder(s string) ([]buffer.Priority, error) {
	if !strings.Contains(s, "H") || !strings.Contains(s, "M") {
		return nil, newErrf(KindInvalidArgument, "parseFlushOrder", "PriorityFlushOrder %q must contain at least one H and one M", s)
	}
	order := make([]buffer.Priority, 0, len(s))
	for _, r := range s {
		switch r {
		case 'H':
			order = append(order, buffer.PriorityHigh)
		case 'M':
			order = append(order, buffer.PriorityMedium)
		case 'L':
			order = append(order, buffer.PriorityLow)
		default:
			return nil, newErrf(KindInvalidArgument, "parseFlushOrder", "PriorityFlushOrder %q contains invalid character %q", s, r)
		}
	}
	return order, nil
}
