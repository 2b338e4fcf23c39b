// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements the Modbus/TCP (MBAP) application data unit: a
// 7-byte header followed by the PDU, delimited purely by the header's
// length field.
package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the portion of the MBAP header that precedes the
	// length-counted payload: transaction ID, protocol ID, length.
	HeaderSize = 6
	// MinSize is the smallest legal ADU: header + unit ID + function code.
	MinSize = HeaderSize + 2
	// MaxSize is the largest legal ADU: header + unit ID + 253-byte PDU.
	MaxSize = HeaderSize + 1 + 253
)

// ApplicationDataUnit is a Modbus/TCP frame: MBAP header plus PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        byte
	FunctionCode  byte
	Data          []byte
}

// Decode parses a complete MBAP frame (header + length-counted payload)
// already delimited by the caller (see ReadFrame).
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < MinSize {
		return nil, fmt.Errorf("modbus: tcp frame length %d below minimum %d", len(raw), MinSize)
	}
	length := binary.BigEndian.Uint16(raw[4:6])
	if int(length) != len(raw)-HeaderSize {
		return nil, fmt.Errorf("modbus: tcp frame length field %d does not match payload size %d", length, len(raw)-HeaderSize)
	}
	return &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(raw[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:4]),
		UnitID:        raw[6],
		FunctionCode:  raw[7],
		Data:          raw[8:],
	}, nil
}

// Encode serializes the ADU into a full MBAP frame.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := 2 + len(adu.Data) // unit ID + function code + data
	total := HeaderSize + length
	if total > MaxSize {
		return nil, fmt.Errorf("modbus: tcp frame size %d exceeds maximum %d", total, MaxSize)
	}
	raw := make([]byte, total)
	binary.BigEndian.PutUint16(raw[0:2], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:4], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:6], uint16(length))
	raw[6] = adu.UnitID
	raw[7] = adu.FunctionCode
	copy(raw[8:], adu.Data)
	return raw, nil
}

// ReadFrame reads exactly one MBAP-framed ADU from r: the 6-byte prefix
// (transaction ID, protocol ID, length), then exactly `length` more bytes
// (unit ID + PDU). It returns the raw bytes, undecoded, so a caller that
// only needs to forward the frame never pays for a round trip through
// ApplicationDataUnit.
//
// If the peer closes before any byte of the prefix arrives, the underlying
// io.EOF is returned unwrapped: a benign close. If the close
// happens after at least one byte was consumed, the error is wrapped in
// ShortFrameError so the caller can tell the two cases apart.
func ReadFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, prefix)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, &ShortFrameError{Err: err}
	}
	length := binary.BigEndian.Uint16(prefix[4:6])
	if length == 0 {
		return nil, &ShortFrameError{Err: fmt.Errorf("modbus: tcp length field is zero")}
	}
	frame := make([]byte, HeaderSize+int(length))
	copy(frame, prefix)
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, &ShortFrameError{Err: err}
	}
	return frame, nil
}

// ShortFrameError wraps an I/O error that occurred after the start of a
// frame was already consumed, distinguishing a mid-frame failure from a
// clean close at a frame boundary.
type ShortFrameError struct {
	Err error
}

func (e *ShortFrameError) Error() string { return fmt.Sprintf("modbus: short frame: %v", e.Err) }
func (e *ShortFrameError) Unwrap() error { return e.Err }
