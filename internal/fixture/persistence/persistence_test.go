// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"
)

func TestMemory_FreshBankEachLoad(t *testing.T) {
	m := NewMemory()
	regs, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if regs.HoldingRegisters[0] != 0 {
		t.Fatal("expected zeroed registers")
	}
	m.OnWrite(0, 0, 1) // no-op, must not panic
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFile_PersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")

	first := NewFile(path)
	regs, err := first.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	regs.HoldingRegisters[7] = 0x1234
	regs.Coils[3] = 1
	first.OnWrite(0, 3, 1)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := NewFile(path)
	regs2, err := second.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer second.Close()
	if regs2.HoldingRegisters[7] != 0x1234 {
		t.Fatalf("register 7 = %#x, want 0x1234", regs2.HoldingRegisters[7])
	}
	if regs2.Coils[3] != 1 {
		t.Fatalf("coil 3 = %d, want 1", regs2.Coils[3])
	}
}

func TestMmap_PersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")

	first := NewMmap(path)
	regs, err := first.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	regs.HoldingRegisters[100] = 0xBEEF
	first.OnWrite(0, 100, 1)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := NewMmap(path)
	regs2, err := second.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer second.Close()
	if regs2.HoldingRegisters[100] != 0xBEEF {
		t.Fatalf("register 100 = %#x, want 0xBEEF", regs2.HoldingRegisters[100])
	}
}
