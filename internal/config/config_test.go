// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/openmodbus/bridge/internal/bridge"
)

func TestLoad_ModbusFlagOnly(t *testing.T) {
	doc, err := Load(&Flags{Modbus: "tcp://plc.acme.org:502", Timeout: 10})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(doc.Devices))
	}
	if doc.Devices[0].Listen.Bind != ":502" {
		t.Fatalf("bind = %q, want default :502", doc.Devices[0].Listen.Bind)
	}
}

func TestLoad_NoDevices(t *testing.T) {
	_, err := Load(&Flags{})
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
}

func TestLoad_SimulateFlagStandsInForModbus(t *testing.T) {
	doc, err := Load(&Flags{Simulate: true, Timeout: 10})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Devices) != 1 {
		t.Fatalf("expected 1 placeholder device, got %d", len(doc.Devices))
	}
	if doc.Devices[0].Modbus.URL != "" {
		t.Fatalf("expected empty URL for main to fill in, got %q", doc.Devices[0].Modbus.URL)
	}
}

func TestToBridgeConfig_BareHostPort(t *testing.T) {
	cfg, err := ToBridgeConfig(DeviceConfig{
		Modbus: ModbusConfig{URL: "plc.local:502", Timeout: 5},
		Listen: ListenConfig{Bind: ":1502"},
	})
	if err != nil {
		t.Fatalf("ToBridgeConfig: %v", err)
	}
	if cfg.Upstream.Kind != bridge.UpstreamTCP {
		t.Fatalf("expected UpstreamTCP for bare host:port")
	}
	if cfg.Upstream.TCPAddr != "plc.local:502" {
		t.Fatalf("TCPAddr = %q, want plc.local:502", cfg.Upstream.TCPAddr)
	}
}

func TestToBridgeConfig_RTUURL(t *testing.T) {
	cfg, err := ToBridgeConfig(DeviceConfig{
		Modbus: ModbusConfig{URL: "rtu:///dev/ttyS0", Timeout: 5},
	})
	if err != nil {
		t.Fatalf("ToBridgeConfig: %v", err)
	}
	if cfg.Upstream.Kind != bridge.UpstreamRTU {
		t.Fatalf("expected UpstreamRTU")
	}
	if cfg.Upstream.Serial.Device != "/dev/ttyS0" {
		t.Fatalf("Device = %q, want /dev/ttyS0", cfg.Upstream.Serial.Device)
	}
	if cfg.Upstream.Serial.BaudRate != 9600 {
		t.Fatalf("BaudRate default = %d, want 9600", cfg.Upstream.Serial.BaudRate)
	}
}

// TestToBridgeConfig_Durations: the timeout defaults to 10s when absent,
// but connection_time must stay zero; a device entry without it gets no
// settle delay at all.
func TestToBridgeConfig_Durations(t *testing.T) {
	cfg, err := ToBridgeConfig(DeviceConfig{
		Modbus: ModbusConfig{URL: "tcp://plc:502"},
	})
	if err != nil {
		t.Fatalf("ToBridgeConfig: %v", err)
	}
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("Timeout default = %v, want 10s", cfg.Timeout)
	}
	if cfg.SettleDelay != 0 {
		t.Fatalf("SettleDelay default = %v, want 0", cfg.SettleDelay)
	}

	cfg, err = ToBridgeConfig(DeviceConfig{
		Modbus: ModbusConfig{URL: "tcp://plc:502", Timeout: 2.5, ConnectionTime: 0.5},
	})
	if err != nil {
		t.Fatalf("ToBridgeConfig: %v", err)
	}
	if cfg.Timeout != 2500*time.Millisecond {
		t.Fatalf("Timeout = %v, want 2.5s", cfg.Timeout)
	}
	if cfg.SettleDelay != 500*time.Millisecond {
		t.Fatalf("SettleDelay = %v, want 500ms", cfg.SettleDelay)
	}
}

func TestToBridgeConfig_NonInjectiveRemapRejectedByBridge(t *testing.T) {
	cfg, err := ToBridgeConfig(DeviceConfig{
		Modbus:          ModbusConfig{URL: "tcp://plc:502", Timeout: 5},
		UnitIDRemapping: map[string]int{"17": 34, "19": 34},
	})
	if err != nil {
		t.Fatalf("ToBridgeConfig: %v", err)
	}
	_, err = bridge.New(cfg)
	kind, ok := bridge.KindOf(err)
	if !ok || kind != bridge.ConfigInvalid {
		t.Fatalf("expected ConfigInvalid from Bridge construction, got %v", err)
	}
}

func TestParseUnitIDRemap_InvalidKey(t *testing.T) {
	_, err := parseUnitIDRemap(map[string]int{"not-a-number": 1})
	if err == nil {
		t.Fatal("expected error for non-numeric unit id key")
	}
}
