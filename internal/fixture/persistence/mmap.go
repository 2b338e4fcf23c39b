// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/openmodbus/bridge/internal/fixture/model"
)

// Layout of the backing file: coils, discrete inputs, holding registers,
// input registers, back to back.
const (
	sizeCoils    = model.MaxAddress + 1
	sizeDiscrete = model.MaxAddress + 1
	sizeHolding  = (model.MaxAddress + 1) * 2
	sizeInput    = (model.MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// mapRegisters overlays a Registers bank on a totalSize-byte slice, so
// writes through the model land directly in the backing bytes. Shared by
// the Mmap and File backends, which differ only in how the slice reaches
// the disk.
func mapRegisters(data []byte) *model.Registers {
	r := &model.Registers{
		Coils:          data[offsetCoils : offsetCoils+sizeCoils],
		DiscreteInputs: data[offsetDiscrete : offsetDiscrete+sizeDiscrete],
	}
	holdingBytes := data[offsetHolding : offsetHolding+sizeHolding]
	r.HoldingRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2)
	inputBytes := data[offsetInput : offsetInput+sizeInput]
	r.InputRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&inputBytes[0])), sizeInput/2)
	return r
}

// Mmap persists a fixture's registers to a memory-mapped file, so a
// simulated device can be restarted mid-test and come back with the same
// contents. It uses mmap-go rather than a raw syscall.Mmap call so the
// same code runs on every platform mmap-go supports.
type Mmap struct {
	path string
	file *os.File
	data mmap.MMap
}

func NewMmap(path string) *Mmap {
	return &Mmap{path: path}
}

func (m *Mmap) Load() (*model.Registers, error) {
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fixture: open mmap file: %w", err)
	}
	m.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("fixture: resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fixture: mmap: %w", err)
	}
	m.data = data

	return mapRegisters(data), nil
}

// OnWrite flushes the mapping so a changed register survives a simulated
// crash; real-time persistence is the point of this backend, so there is
// no batching or periodic-sync variant.
func (m *Mmap) OnWrite(model.Table, uint16, uint16) {
	if m.data != nil {
		m.data.Flush()
	}
}

func (m *Mmap) Close() error {
	if m.data != nil {
		m.data.Unmap()
		m.data = nil
	}
	if m.file != nil {
		err := m.file.Close()
		m.file = nil
		return err
	}
	return nil
}
