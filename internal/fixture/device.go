// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package fixture provides a simulated Modbus/TCP device backed by an
// in-memory (or persisted) register bank, so a Bridge's behavior can be
// exercised without real hardware. It is not part of the proxy; only
// test code and the cmd/modbus-bridge -simulate developer flag import it.
package fixture

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/openmodbus/bridge/internal/fixture/model"
	"github.com/openmodbus/bridge/internal/fixture/persistence"
	"github.com/openmodbus/bridge/modbus"
	"github.com/openmodbus/bridge/modbus/tcp"
)

// Device is a simulated Modbus/TCP slave: it accepts connections, decodes
// one MBAP frame at a time, runs it against a register bank, and replies.
type Device struct {
	listenAddr string
	storage    persistence.Storage
	regs       *model.Registers

	listener net.Listener
}

// NewDevice creates a simulated device storing its registers with store.
// Pass persistence.NewMemory() for a throwaway bank.
func NewDevice(listenAddr string, store persistence.Storage) (*Device, error) {
	regs, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("fixture: load registers: %w", err)
	}
	return &Device{listenAddr: listenAddr, storage: store, regs: regs}, nil
}

// Start binds the listener and begins accepting in the background.
func (d *Device) Start() error {
	l, err := net.Listen("tcp", d.listenAddr)
	if err != nil {
		return fmt.Errorf("fixture: listen: %w", err)
	}
	d.listener = l
	go d.acceptLoop()
	return nil
}

// Addr returns the bound address; useful when listenAddr was ":0".
func (d *Device) Addr() net.Addr { return d.listener.Addr() }

// Close stops accepting and releases the storage backend.
func (d *Device) Close() error {
	var err error
	if d.listener != nil {
		err = d.listener.Close()
	}
	if cerr := d.storage.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (d *Device) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		go d.serve(conn)
	}
}

func (d *Device) serve(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	for {
		raw, err := tcp.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				slog.Debug("fixture device read failed", "addr", peer, "err", err)
			}
			return
		}
		req, err := tcp.Decode(raw)
		if err != nil {
			slog.Debug("fixture device decode failed", "addr", peer, "err", err)
			return
		}

		respPDU := d.process(modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data})

		resp := &tcp.ApplicationDataUnit{
			TransactionID: req.TransactionID,
			ProtocolID:    req.ProtocolID,
			UnitID:        req.UnitID,
			FunctionCode:  respPDU.FunctionCode,
			Data:          respPDU.Data,
		}
		rawResp, err := resp.Encode()
		if err != nil {
			slog.Debug("fixture device encode failed", "addr", peer, "err", err)
			return
		}
		if _, err := conn.Write(rawResp); err != nil {
			return
		}
	}
}

// process runs one request against the register bank, the same
// dispatch-by-function-code shape as the bridge's own RTU reader table
// (modbus/rtu) uses to size frames.
func (d *Device) process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return d.readBits(req, d.regs.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return d.readBits(req, d.regs.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return d.readWords(req, d.regs.ReadHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return d.readWords(req, d.regs.ReadInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return d.writeSingle(req, d.regs.WriteSingleCoil, model.TableCoils)
	case modbus.FuncCodeWriteSingleRegister:
		return d.writeSingle(req, d.regs.WriteSingleRegister, model.TableHoldingRegisters)
	case modbus.FuncCodeWriteMultipleCoils:
		return d.writeMultiple(req, d.regs.WriteMultipleCoils, model.TableCoils, true)
	case modbus.FuncCodeWriteMultipleRegisters:
		return d.writeMultiple(req, d.regs.WriteMultipleRegisters, model.TableHoldingRegisters, false)
	default:
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (d *Device) readBits(req modbus.ProtocolDataUnit, read func(uint16, uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > 2000 {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	data, err := read(address, quantity)
	if err != nil {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	out := append([]byte{byte(len(data))}, data...)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: out}
}

func (d *Device) readWords(req modbus.ProtocolDataUnit, read func(uint16, uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > 125 {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	data, err := read(address, quantity)
	if err != nil {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	out := append([]byte{byte(len(data))}, data...)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: out}
}

func (d *Device) writeSingle(req modbus.ProtocolDataUnit, write func(uint16, uint16) error, table model.Table) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])
	if err := write(address, value); err != nil {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	d.storage.OnWrite(table, address, 1)
	return req // Modbus writes echo the request verbatim.
}

func (d *Device) writeMultiple(req modbus.ProtocolDataUnit, write func(uint16, uint16, []byte) error, table model.Table, isCoils bool) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	max := uint16(123)
	if isCoils {
		max = 1968
	}
	if quantity < 1 || quantity > max || byte(len(req.Data)-5) != byteCount {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := write(address, quantity, req.Data[5:]); err != nil {
		return d.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	d.storage.OnWrite(table, address, quantity)

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], address)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: resp}
}

func (d *Device) exception(fc, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{FunctionCode: fc | modbus.ExceptionMask, Data: []byte{code}}
}
