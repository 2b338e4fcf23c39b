// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package fixture

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/openmodbus/bridge/internal/bridge"
	"github.com/openmodbus/bridge/internal/fixture/persistence"
)

func TestDevice_ReadHoldingRegistersThroughBridge(t *testing.T) {
	dev, err := NewDevice("127.0.0.1:0", persistence.NewMemory())
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	b, err := bridge.New(bridge.Config{
		ListenAddr: "127.0.0.1:0",
		Upstream:   bridge.UpstreamConfig{Kind: bridge.UpstreamTCP, TCPAddr: dev.Addr().String()},
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("bridge.Start: %v", err)
	}
	go b.Serve()
	t.Cleanup(func() { b.Stop() })

	// Seed a register directly on the device, then read it back through
	// the bridge to prove the whole TCP path end to end.
	if err := dev.regs.WriteMultipleRegisters(0, 2, []byte{0x00, 0x2A, 0x00, 0x2B}); err != nil {
		t.Fatalf("seed registers: %v", err)
	}

	conn, err := net.Dial("tcp", b.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header := make([]byte, 6)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	body := make([]byte, length)
	if _, err := readFull(conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}

	want := []byte{0x01, 0x03, 0x04, 0x00, 0x2A, 0x00, 0x2B}
	if !bytes.Equal(body, want) {
		t.Fatalf("reply body = % x, want % x", body, want)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
