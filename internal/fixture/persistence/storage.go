// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence backs the fixture's register model with a
// pluggable storage: pure in-memory for most tests, or a file the test
// chooses to keep across process restarts.
package persistence

import "github.com/openmodbus/bridge/internal/fixture/model"

// Storage loads and persists a fixture's register bank.
type Storage interface {
	// Load returns the register bank to start a simulated device with.
	Load() (*model.Registers, error)
	// OnWrite is called after every register write so a persistent
	// backend can flush the change.
	OnWrite(table model.Table, address, quantity uint16)
	// Close releases any file handle or connection held by the backend.
	Close() error
}
