// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial opens an RTU device node, checking and, where possible,
// repairing its permissions before handing a configured port to the
// caller.
package serial

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/grid-x/serial"
)

// Config mirrors the subset of serial parameters the bridge exposes,
// independent of grid-x/serial's own type so callers outside this package
// never import it directly.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// PermissionError reports that a device node could not be made usable.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("modbus: insufficient permissions for %s: %v", e.Device, e.Err)
}
func (e *PermissionError) Unwrap() error { return e.Err }

// CheckDevice verifies that path exists, is a character device, and is
// readable and writable by this process. If permissions are missing it
// attempts a one-shot relaxation to owner+group rw, matching what a
// privileged container entrypoint would do for a udev-created tty node.
// A failure at any step is a *PermissionError.
func CheckDevice(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &PermissionError{Device: path, Err: err}
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return &PermissionError{Device: path, Err: fmt.Errorf("not a character device")}
	}

	if accessible(path) {
		return nil
	}

	slog.Warn("insufficient permissions for serial device, attempting to fix", "device", path)
	if err := os.Chmod(path, 0o660); err != nil {
		return &PermissionError{Device: path, Err: fmt.Errorf("cannot relax permissions: %w", err)}
	}
	if !accessible(path) {
		return &PermissionError{Device: path, Err: fmt.Errorf("still inaccessible after chmod")}
	}
	slog.Info("fixed permissions for serial device", "device", path)
	return nil
}

// accessReadWrite holds the mode bits for syscall.Access, matching POSIX R_OK|W_OK; the plain
// syscall package does not export these as constants on every platform.
const accessReadWrite = 0x6

func accessible(path string) bool {
	return syscall.Access(path, accessReadWrite) == nil
}

// Open checks the device's permissions and then opens it with the given
// parameters, returning a live read/write/close handle.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	if err := CheckDevice(cfg.Device); err != nil {
		return nil, err
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("modbus: could not open %s: %w", cfg.Device, err)
	}
	return port, nil
}
