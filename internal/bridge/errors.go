// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies the fixed set of failure modes a Bridge can surface.
// The numeric value carries no meaning outside this process; callers
// should compare against the named constants.
type Kind int

const (
	// ConfigInvalid is raised by Bridge construction: an unusable config
	// (e.g. a non-injective unit-ID remap) that must be fixed before
	// anything is started.
	ConfigInvalid Kind = iota
	// BindFailed is raised by the listener when the bind address cannot
	// be acquired.
	BindFailed
	// UpstreamTimeout is raised when connect or transact exceeds the
	// per-operation timeout.
	UpstreamTimeout
	// UpstreamIO is raised by transact on any read, write, EOF, or
	// serial-level failure; it subsumes UpstreamTimeout for retry
	// accounting purposes once surfaced to a ClientSession.
	UpstreamIO
	// DevicePermission is raised when an RTU device node cannot be
	// opened for read/write and a one-shot permission fix also fails.
	DevicePermission
	// UnsupportedFunction is raised by the RTU framer when a function
	// code has no entry in the body-length table.
	UnsupportedFunction
	// ShortFrame names a client connection that closes after part of a
	// frame has already been consumed. The client session does not build
	// an *Error for it: tcp.ReadFrame reports a *tcp.ShortFrameError and
	// the session logs it and ends.
	ShortFrame
	// ClientIO names any other client read/write failure; the client
	// session logs it and ends without building an *Error for it.
	ClientIO
)

func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "ConfigInvalid"
	case BindFailed:
		return "BindFailed"
	case UpstreamTimeout:
		return "UpstreamTimeout"
	case UpstreamIO:
		return "UpstreamIO"
	case DevicePermission:
		return "DevicePermission"
	case UnsupportedFunction:
		return "UnsupportedFunction"
	case ShortFrame:
		return "ShortFrame"
	case ClientIO:
		return "ClientIO"
	default:
		return "Unknown"
	}
}

// Error is the error type surfaced by the bridge package. Op names the
// operation that failed (e.g. "connect", "transact", "read-frame").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("modbus: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("modbus: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of err if it (or something it wraps) is an
// *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}
