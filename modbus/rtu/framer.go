// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openmodbus/bridge/modbus"
)

// ErrRequestTimedOut is returned by ReadResponse when the deadline elapses
// before a complete frame has been assembled.
var ErrRequestTimedOut = errors.New("modbus: rtu request timed out")

const (
	stateSlaveID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

// InvalidLengthError is returned when a byte-count field in a frame body
// claims a size the framer cannot accept.
type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("modbus: rtu invalid length byte %d", e.Length)
}

// UnsupportedFunctionError is raised when a function code has no entry in
// either body-length table: the link must be closed, since the
// reader can no longer find the next frame boundary.
type UnsupportedFunctionError struct {
	FunctionCode byte
}

func (e *UnsupportedFunctionError) Error() string {
	return fmt.Sprintf("modbus: rtu unsupported function code 0x%02X", e.FunctionCode)
}

// CalculateRequestLength returns the total ADU length (including slave ID,
// function code and CRC) of an RTU *request* frame, given its function code
// and at least the first 7 bytes already read (enough to see the byte-count
// field of a write-multiple request). It sizes requests the way a
// device-side reader finding request boundaries on the wire must; nothing
// outside this package's tests calls it, and the bridge itself never needs
// it because it builds outgoing RTU requests from an already-known-length
// PDU.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// [SlaveID, Func, Addr(2), Val/Count(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// [SlaveID, Func, Addr(2), Quantity(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < 7 {
			return 0, fmt.Errorf("modbus: need 7 bytes to size 0x%02X request, got %d", funcCode, len(header))
		}
		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	default:
		return 0, &UnsupportedFunctionError{FunctionCode: funcCode}
	}
}

// ReadResponse reads one RTU reply frame addressed to slaveID in answer to
// functionCode, using the response side of the body-length table: read
// functions (0x01-0x04) carry a byte-count-prefixed body, writes echo a
// fixed 4-byte body, and any reply with the exception bit set carries a
// single exception-code byte. The CRC is read but not validated here; that
// is Decode's job, and forwarding callers may skip decoding entirely.
func ReadResponse(slaveID, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateSlaveID
	var length, toRead byte
	var n, crcCount int

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		switch state {
		case stateSlaveID:
			if buf[0] != slaveID {
				continue
			}
			state = stateFunctionCode
			data[n] = buf[0]
			n++
			continue
		case stateFunctionCode:
			switch {
			case buf[0] == functionCode:
				switch functionCode {
				case modbus.FuncCodeReadCoils,
					modbus.FuncCodeReadDiscreteInputs,
					modbus.FuncCodeReadHoldingRegisters,
					modbus.FuncCodeReadInputRegisters,
					modbus.FuncCodeReadWriteMultipleRegs,
					modbus.FuncCodeReadFIFOQueue:
					state = stateReadLength
				case modbus.FuncCodeWriteSingleCoil,
					modbus.FuncCodeWriteSingleRegister,
					modbus.FuncCodeWriteMultipleCoils,
					modbus.FuncCodeWriteMultipleRegisters:
					state = stateReadPayload
					toRead = 4
				case modbus.FuncCodeMaskWriteRegister:
					state = stateReadPayload
					toRead = 6
				default:
					return nil, &UnsupportedFunctionError{FunctionCode: functionCode}
				}
				data[n] = buf[0]
				n++
				continue
			case buf[0] == functionCode|modbus.ExceptionMask:
				// Exception replies are always ExceptionSize bytes total
				// (slave ID, function|0x80, exception code, CRC-16): two
				// bytes are already consumed here, one payload byte left.
				state = stateReadPayload
				data[n] = buf[0]
				n++
				toRead = byte(ExceptionSize - n - 2)
			}
		case stateReadLength:
			length = buf[0]
			if length == 0 || int(length) > MaxSize-5 {
				return nil, &InvalidLengthError{Length: length}
			}
			toRead = length
			data[n] = length
			n++
			state = stateReadPayload
		case stateReadPayload:
			data[n] = buf[0]
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			data[n] = buf[0]
			crcCount++
			n++
			if crcCount == 2 {
				return data[:n], nil
			}
		}
	}
}
