// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"errors"
	"testing"
)

func TestError_FormatsWithAndWithoutCause(t *testing.T) {
	bare := newError(BindFailed, "listen", nil)
	if got, want := bare.Error(), "modbus: listen: BindFailed"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("address already in use")
	wrapped := newError(BindFailed, "listen", cause)
	if got, want := wrapped.Error(), "modbus: listen: BindFailed: address already in use"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := newError(UpstreamIO, "transact", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through Unwrap to the cause")
	}
}

func TestKindOf(t *testing.T) {
	err := newError(ShortFrame, "read-frame", nil)
	kind, ok := KindOf(err)
	if !ok || kind != ShortFrame {
		t.Fatalf("KindOf = (%v, %v), want (ShortFrame, true)", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain error")); ok {
		t.Fatal("KindOf should report false for a non-bridge error")
	}

	wrapped := errors.New("context: " + err.Error())
	if _, ok := KindOf(wrapped); ok {
		t.Fatal("KindOf should not match a string-wrapped error that isn't a wrapped *Error")
	}
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{
		ConfigInvalid:       "ConfigInvalid",
		BindFailed:          "BindFailed",
		UpstreamTimeout:     "UpstreamTimeout",
		UpstreamIO:          "UpstreamIO",
		DevicePermission:    "DevicePermission",
		UnsupportedFunction: "UnsupportedFunction",
		ShortFrame:          "ShortFrame",
		ClientIO:            "ClientIO",
		Kind(99):            "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
