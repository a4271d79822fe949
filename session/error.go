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
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a session-level error the way the spec's error-handling
// design groups them; callers switch on Kind rather than string-matching.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindNoBuffers
	KindWouldBlock
	KindWriteCallAgain
	KindWriteFlushFailed
	KindChannelClosed
	KindProtocolError
	KindCompressionError
	KindInternalError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNoBuffers:
		return "NoBuffers"
	case KindWouldBlock:
		return "WouldBlock"
	case KindWriteCallAgain:
		return "WriteCallAgain"
	case KindWriteFlushFailed:
		return "WriteFlushFailed"
	case KindChannelClosed:
		return "ChannelClosed"
	case KindProtocolError:
		return "ProtocolError"
	case KindCompressionError:
		return "CompressionError"
	case KindInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Error is the error type every Session operation returns. It carries a
// Kind, a short location string (typically the method name), and wraps
// an underlying cause when one exists.
type Error struct {
	Kind     Kind
	Location string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("session: %s: %s: %v", e.Location, e.Kind, e.cause)
	}
	return fmt.Sprintf("session: %s: %s", e.Location, e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Fatal reports whether this Kind transitions the session to Inactive
// (ChannelClosed, ProtocolError, CompressionError) versus being locally
// recoverable (partial write, WouldBlock, CallAgain).
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindChannelClosed, KindProtocolError, KindCompressionError:
		return true
	default:
		return false
	}
}

func newErr(kind Kind, location string, cause error) *Error {
	return &Error{Kind: kind, Location: location, cause: cause}
}

func newErrf(kind Kind, location, format string, args ...any) *Error {
	return &Error{Kind: kind, Location: location, cause: errors.Errorf(format, args...)}
}
