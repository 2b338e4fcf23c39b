// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openmodbus/bridge/modbus"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	adu := &ApplicationDataUnit{
		SlaveID: 0x01,
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadHoldingRegisters,
			Data:         []byte{0x00, 0x00, 0x00, 0x0A},
		},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}
	if !bytes.Equal(raw, want) {
		t.Fatalf("Encode() = % x, want % x", raw, want)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(adu, got); diff != "" {
		t.Fatalf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_RejectsBadCRC(t *testing.T) {
	raw := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x00, 0x00}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected CRC mismatch error")
	}
}

func TestDecode_RejectsShortFrame(t *testing.T) {
	if _, err := Decode([]byte{0x11, 0x03, 0x00}); err == nil {
		t.Fatal("expected error for frame below MinSize")
	}
}

func TestVerify_SlaveIDMismatch(t *testing.T) {
	req := &ApplicationDataUnit{SlaveID: 0x11}
	resp := &ApplicationDataUnit{SlaveID: 0x12}
	if err := req.Verify(resp); err == nil {
		t.Fatal("expected slave ID mismatch error")
	}
}

func TestEncode_RejectsOversizedPDU(t *testing.T) {
	adu := &ApplicationDataUnit{Pdu: modbus.ProtocolDataUnit{Data: make([]byte, 253)}}
	if _, err := adu.Encode(); err == nil {
		t.Fatal("expected error for oversized RTU PDU")
	}
}
