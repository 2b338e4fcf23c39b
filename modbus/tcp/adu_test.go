// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	adu := &ApplicationDataUnit{
		TransactionID: 1,
		ProtocolID:    0,
		UnitID:        0x11,
		FunctionCode:  0x03,
		Data:          []byte{0x00, 0x00, 0x00, 0x0A},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x00, 0x00, 0x0A}
	if !bytes.Equal(raw, want) {
		t.Fatalf("Encode() = % x, want % x", raw, want)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.TransactionID != adu.TransactionID || got.UnitID != adu.UnitID || got.FunctionCode != adu.FunctionCode {
		t.Fatalf("Decode() = %+v, want %+v", got, adu)
	}
	if !bytes.Equal(got.Data, adu.Data) {
		t.Fatalf("Decode().Data = % x, want % x", got.Data, adu.Data)
	}
}

func TestReadFrame(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x00, 0x00, 0x0A}
	got, err := ReadFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("ReadFrame() = % x, want % x", got, raw)
	}
}

func TestReadFrame_CleanCloseBeforeAnyByte(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected plain io.EOF for a clean close, got %v", err)
	}
	var short *ShortFrameError
	if errors.As(err, &short) {
		t.Fatalf("a zero-byte close must not be reported as a ShortFrameError")
	}
}

func TestReadFrame_ShortFrameMidRead(t *testing.T) {
	// Three of the six MBAP prefix bytes, then EOF.
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x01, 0x00}))
	var short *ShortFrameError
	if !errors.As(err, &short) {
		t.Fatalf("expected ShortFrameError, got %v", err)
	}
}

func TestReadFrame_ShortFrameAfterPrefix(t *testing.T) {
	// Full 6-byte prefix claiming 6 more bytes, but only 2 follow.
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03}))
	var short *ShortFrameError
	if !errors.As(err, &short) {
		t.Fatalf("expected ShortFrameError, got %v", err)
	}
}

func TestEncode_RejectsOversizedPDU(t *testing.T) {
	adu := &ApplicationDataUnit{Data: make([]byte, 300)}
	if _, err := adu.Encode(); err == nil {
		t.Fatal("expected error for oversized PDU")
	}
}
