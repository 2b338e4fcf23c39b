// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model holds the register tables of the simulated Modbus device
// used to exercise a Bridge end to end without real hardware. The proxy
// itself never looks inside a register; this package exists only on the
// test/fixture side of the wire.
package model

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// MaxAddress is the highest addressable register/coil index (the full
// 16-bit Modbus address space).
const MaxAddress = 65535

// Table names the four Modbus data tables, used by Storage.OnWrite to
// report which one changed.
type Table int

const (
	TableCoils Table = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

// Registers is an in-memory register bank for one simulated device. Coils
// and discrete inputs are one byte per bit (ON/OFF, Modbus convention);
// holding and input registers are 16-bit words.
type Registers struct {
	mu sync.RWMutex

	Coils            []byte
	DiscreteInputs   []byte
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// New allocates a Registers bank covering the full address space,
// initialized to zero.
func New() *Registers {
	return &Registers{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("fixture: quantity must be greater than 0")
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("fixture: address range out of bounds")
	}
	return nil
}

// readBits packs quantity single-byte ON/OFF flags from table, starting at
// address, into Modbus's bit-packed wire format. Shared by ReadCoils and
// ReadDiscreteInputs since the two tables only differ in which slice
// backs them.
func (r *Registers) readBits(table []byte, address, quantity uint16) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	out := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if table[int(address)+i] != 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

func (r *Registers) writeBits(table []byte, address, quantity uint16, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if need := (int(quantity) + 7) / 8; len(data) < need {
		return fmt.Errorf("fixture: insufficient data length")
	}
	for i := 0; i < int(quantity); i++ {
		bit := (data[i/8] >> uint(i%8)) & 1
		table[int(address)+i] = bit
	}
	return nil
}

func (r *Registers) readWords(table []uint16, address, quantity uint16) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	out := make([]byte, quantity*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(out[i*2:], table[int(address)+i])
	}
	return out, nil
}

func (r *Registers) writeWords(table []uint16, address, quantity uint16, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("fixture: insufficient data length")
	}
	for i := 0; i < int(quantity); i++ {
		table[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return nil
}

func (r *Registers) ReadCoils(address, quantity uint16) ([]byte, error) {
	return r.readBits(r.Coils, address, quantity)
}

func (r *Registers) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return r.readBits(r.DiscreteInputs, address, quantity)
}

func (r *Registers) WriteSingleCoil(address, value uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(address) > MaxAddress {
		return fmt.Errorf("fixture: address out of range")
	}
	if value == 0xFF00 {
		r.Coils[address] = 1
	} else {
		r.Coils[address] = 0
	}
	return nil
}

func (r *Registers) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	return r.writeBits(r.Coils, address, quantity, data)
}

func (r *Registers) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return r.readWords(r.HoldingRegisters, address, quantity)
}

func (r *Registers) WriteSingleRegister(address, value uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(address) > MaxAddress {
		return fmt.Errorf("fixture: address out of range")
	}
	r.HoldingRegisters[address] = value
	return nil
}

func (r *Registers) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	return r.writeWords(r.HoldingRegisters, address, quantity, data)
}

func (r *Registers) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return r.readWords(r.InputRegisters, address, quantity)
}
