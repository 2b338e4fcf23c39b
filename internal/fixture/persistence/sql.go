// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/openmodbus/bridge/internal/fixture/model"
)

// SQL persists register writes to a table called fixture_registers via
// database/sql. No concrete driver is imported here: the caller opens db
// with whichever driver it has registered (e.g. blank-imported
// "github.com/mattn/go-sqlite3" in a test's init), matching how the
// teacher's own SQL-backed storage leaves the driver choice to main.go.
type SQL struct {
	db *sql.DB
	r  *model.Registers
}

func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) Load() (*model.Registers, error) {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS fixture_registers (
		table_type INTEGER,
		address INTEGER,
		value INTEGER,
		PRIMARY KEY (table_type, address)
	)`); err != nil {
		return nil, fmt.Errorf("fixture: init schema: %w", err)
	}

	r := model.New()
	s.r = r

	rows, err := s.db.Query(`SELECT table_type, address, value FROM fixture_registers`)
	if err != nil {
		return nil, fmt.Errorf("fixture: query registers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, addr, val int
		if err := rows.Scan(&table, &addr, &val); err != nil {
			continue
		}
		if addr > model.MaxAddress {
			continue
		}
		switch model.Table(table) {
		case model.TableCoils:
			r.Coils[addr] = byte(val)
		case model.TableDiscreteInputs:
			r.DiscreteInputs[addr] = byte(val)
		case model.TableHoldingRegisters:
			r.HoldingRegisters[addr] = uint16(val)
		case model.TableInputRegisters:
			r.InputRegisters[addr] = uint16(val)
		}
	}
	return r, rows.Err()
}

// OnWrite upserts every changed register synchronously; fixture workloads
// touch at most a handful of registers per write, so there is no batching.
func (s *SQL) OnWrite(table model.Table, address, quantity uint16) {
	if s.db == nil || s.r == nil {
		return
	}
	for i := 0; i < int(quantity); i++ {
		addr := int(address) + i
		var val int64
		switch table {
		case model.TableCoils:
			val = int64(s.r.Coils[addr])
		case model.TableDiscreteInputs:
			val = int64(s.r.DiscreteInputs[addr])
		case model.TableHoldingRegisters:
			val = int64(s.r.HoldingRegisters[addr])
		case model.TableInputRegisters:
			val = int64(s.r.InputRegisters[addr])
		}
		_, err := s.db.Exec(
			`INSERT INTO fixture_registers (table_type, address, value) VALUES (?, ?, ?)
			 ON CONFLICT(table_type, address) DO UPDATE SET value=excluded.value`,
			int(table), addr, val)
		if err != nil {
			slog.Error("fixture: failed to persist register", "table", table, "addr", addr, "err", err)
		}
	}
}

func (s *SQL) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
