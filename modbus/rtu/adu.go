// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus/RTU application data unit: slave ID,
// function code, a function-code-dependent body, and a CRC-16 trailer.
package rtu

import (
	"fmt"

	"github.com/openmodbus/bridge/modbus"
	"github.com/openmodbus/bridge/modbus/crc"
)

// ApplicationDataUnit is a Modbus/RTU frame: slave address, PDU, CRC.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode parses a complete RTU frame (already delimited by the caller) and
// verifies its CRC.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinSize {
		return nil, fmt.Errorf("modbus: rtu frame length %d below minimum %d", length, MinSize)
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[:length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		return nil, fmt.Errorf("modbus: rtu crc %#04x does not match computed %#04x", checksum, c.Value())
	}

	return &ApplicationDataUnit{
		SlaveID: raw[0],
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: raw[1],
			Data:         raw[2 : length-2],
		},
	}, nil
}

// Encode serializes the ADU, appending a computed CRC-16.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: rtu frame size %d exceeds maximum %d", length, MaxSize)
	}
	raw := make([]byte, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	var c crc.CRC
	c.Reset().PushBytes(raw[:length-2])
	checksum := c.Value()
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
	return raw, nil
}

// Verify checks that resp answers req by comparing their slave IDs.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if req.SlaveID != resp.SlaveID {
		return fmt.Errorf("modbus: rtu response slave id %v does not match request %v", resp.SlaveID, req.SlaveID)
	}
	return nil
}
