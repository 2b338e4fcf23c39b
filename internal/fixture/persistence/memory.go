// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import "github.com/openmodbus/bridge/internal/fixture/model"

// Memory is the default, non-persistent Storage: a fresh zeroed register
// bank every time, nothing written anywhere. This is what bridge
// integration tests use unless they specifically need persistence across
// a simulated restart.
type Memory struct{}

func NewMemory() *Memory { return &Memory{} }

func (Memory) Load() (*model.Registers, error) { return model.New(), nil }

func (Memory) OnWrite(model.Table, uint16, uint16) {}

func (Memory) Close() error { return nil }
