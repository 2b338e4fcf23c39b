// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/openmodbus/bridge/internal/fixture/model"
)

// File persists the register bank with plain file operations: the whole
// bank lives in one in-memory byte slice, written back and fsync'd on
// every register write. Simpler than Mmap and usable on filesystems where
// mapping is unavailable; the on-disk layout is the same.
type File struct {
	path string
	file *os.File
	data []byte
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load() (*model.Registers, error) {
	fd, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fixture: open register file: %w", err)
	}
	f.file = fd

	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := fd.Truncate(int64(totalSize)); err != nil {
			fd.Close()
			return nil, fmt.Errorf("fixture: resize register file: %w", err)
		}
	}

	data, err := io.ReadAll(fd)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("fixture: read register file: %w", err)
	}
	f.data = data

	return mapRegisters(data), nil
}

// OnWrite rewrites and syncs the whole bank; fixture workloads touch a
// handful of registers per write, so a full rewrite stays cheap.
func (f *File) OnWrite(model.Table, uint16, uint16) {
	if f.data == nil || f.file == nil {
		return
	}
	if _, err := f.file.WriteAt(f.data, 0); err != nil {
		slog.Error("fixture: failed to write register file", "err", err)
		return
	}
	if err := f.file.Sync(); err != nil {
		slog.Error("fixture: failed to sync register file", "err", err)
	}
}

func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
