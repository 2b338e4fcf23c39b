// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the proxy's configuration document: a list of
// device entries, each naming a listen address, an upstream Modbus target
// (TCP or RTU), and an optional unit-ID remapping, plus the CLI flag
// surface that can add one more device entry without a config file at all.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/openmodbus/bridge/internal/bridge"
	"github.com/openmodbus/bridge/internal/bridge/serial"
)

// LogConfig configures the process-wide slog logger, mirroring the
// teacher's log.level/log.file block.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// SerialConfig is the RTU-specific subset of a device's modbus block.
type SerialConfig struct {
	BaudRate int    `mapstructure:"baudrate"`
	DataBits int    `mapstructure:"databits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stopbits"`
}

// ModbusConfig is the "modbus" block of one device entry. Timeout
// and ConnectionTime are seconds, not a time.Duration, because the wire
// document (and the CLI's --timeout/--modbus-connection-time) give plain
// floats the way the original proxy's argparse does.
type ModbusConfig struct {
	URL            string       `mapstructure:"url"`
	Timeout        float64      `mapstructure:"timeout"`
	ConnectionTime float64      `mapstructure:"connection_time"`
	Serial         SerialConfig `mapstructure:"serial"`
}

// ListenConfig is the "listen" block of one device entry.
type ListenConfig struct {
	Bind string `mapstructure:"bind"`
}

// DeviceConfig is one entry of the top-level "devices" list.
type DeviceConfig struct {
	Name            string         `mapstructure:"name"`
	Modbus          ModbusConfig   `mapstructure:"modbus"`
	Listen          ListenConfig   `mapstructure:"listen"`
	UnitIDRemapping map[string]int `mapstructure:"unit_id_remapping"`
}

// Document is the full configuration document: zero or more devices plus
// the logging block.
type Document struct {
	Devices []DeviceConfig `mapstructure:"devices"`
	Log     LogConfig      `mapstructure:"log"`
}

// Flags is the command-line argument surface.
type Flags struct {
	ConfigFile           string
	Bind                 string
	Modbus               string
	ModbusConnectionTime float64
	Timeout              float64
	Simulate             bool
}

// BindFlags registers the CLI flags on fs using pflag, with the documented
// defaults (bind ":502", timeout 10s). --simulate is a developer
// convenience: it is not required by any config loading rule, only
// documented in -h output.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVarP(&f.ConfigFile, "config-file", "c", "", "config file")
	fs.StringVarP(&f.Bind, "bind", "b", "", "listen address")
	fs.StringVar(&f.Modbus, "modbus", "", "modbus device address (ex: tcp://plc.acme.org:502)")
	fs.Float64Var(&f.ModbusConnectionTime, "modbus-connection-time", 0, "delay after establishing connection with modbus before first request")
	fs.Float64Var(&f.Timeout, "timeout", 10, "modbus connection and request timeout in seconds")
	fs.BoolVar(&f.Simulate, "simulate", false, "run against an in-process simulated device instead of --modbus, for local testing")
	return f
}

// Load reads the configuration document named by flags.ConfigFile (if any)
// with viper, tolerating a missing file as long as --modbus was given
// (the exit code is the caller's choice: Load only reports ErrNoDevices
// so main can decide). If --modbus is
// set, it is appended as one more device entry, exactly as the original's
// create_config does.
func Load(flags *Flags) (*Document, error) {
	v := viper.New()
	v.SetDefault("log.level", "info")

	if flags.ConfigFile != "" {
		v.SetConfigFile(flags.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			// An explicit SetConfigFile path that does not exist surfaces as
			// an fs.PathError, not viper.ConfigFileNotFoundError.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("modbus: read config %s: %w", flags.ConfigFile, err)
			}
			if flags.Modbus == "" {
				return nil, fmt.Errorf("modbus: config file %s not found and no --modbus given: %w", flags.ConfigFile, err)
			}
		}
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("modbus: unmarshal config: %w", err)
	}

	if flags.Modbus != "" {
		bind := flags.Bind
		if bind == "" {
			bind = ":502"
		}
		doc.Devices = append(doc.Devices, DeviceConfig{
			Modbus: ModbusConfig{
				URL:            flags.Modbus,
				Timeout:        flags.Timeout,
				ConnectionTime: flags.ModbusConnectionTime,
			},
			Listen: ListenConfig{Bind: bind},
		})
	} else if flags.Simulate && len(doc.Devices) == 0 {
		// --simulate stands in for --modbus: main fills in Modbus.URL once
		// it has started the in-process fixture device and knows its
		// address, so the placeholder here carries everything else.
		bind := flags.Bind
		if bind == "" {
			bind = ":502"
		}
		doc.Devices = append(doc.Devices, DeviceConfig{
			Name: "simulated",
			Modbus: ModbusConfig{
				Timeout:        flags.Timeout,
				ConnectionTime: flags.ModbusConnectionTime,
			},
			Listen: ListenConfig{Bind: bind},
		})
	}

	if len(doc.Devices) == 0 {
		return nil, ErrNoDevices
	}
	return &doc, nil
}

// ErrNoDevices is returned by Load when neither a config file with
// entries nor --modbus produced any device.
var ErrNoDevices = fmt.Errorf("modbus: no devices configured: need --config-file and/or --modbus")

// ToBridgeConfig translates one DeviceConfig into the internal/bridge
// package's Config, parsing the upstream URL the way the original's
// parse_url does: no scheme defaults to tcp://, and rtu:///dev/ttyX names
// a serial device by the URL's path (/dev/ttyX).
func ToBridgeConfig(d DeviceConfig) (bridge.Config, error) {
	upstream, err := parseUpstream(d.Modbus)
	if err != nil {
		return bridge.Config{}, err
	}

	remap, err := parseUnitIDRemap(d.UnitIDRemapping)
	if err != nil {
		return bridge.Config{}, err
	}

	bind := d.Listen.Bind
	if bind == "" {
		bind = ":502"
	} else if !strings.Contains(bind, ":") {
		bind = bind + ":502"
	}

	return bridge.Config{
		Name:        d.Name,
		ListenAddr:  bind,
		Upstream:    upstream,
		Timeout:     timeoutDuration(d.Modbus.Timeout),
		SettleDelay: settleDuration(d.Modbus.ConnectionTime),
		UnitIDRemap: remap,
	}, nil
}

// timeoutDuration converts the document's float seconds, defaulting an
// absent or non-positive timeout to the documented 10s.
func timeoutDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}

// settleDuration keeps an absent connection_time at zero: the settle
// delay is off unless configured.
func settleDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func parseUpstream(m ModbusConfig) (bridge.UpstreamConfig, error) {
	raw := m.URL
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return bridge.UpstreamConfig{}, fmt.Errorf("modbus: invalid modbus url %q: %w", m.URL, err)
	}

	switch u.Scheme {
	case "rtu":
		device := strings.TrimPrefix(u.Path, "/")
		if device == "" {
			return bridge.UpstreamConfig{}, fmt.Errorf("modbus: rtu url %q has no device path", m.URL)
		}
		cfg := serial.Config{
			Device:   "/" + device,
			BaudRate: m.Serial.BaudRate,
			DataBits: m.Serial.DataBits,
			StopBits: m.Serial.StopBits,
			Parity:   m.Serial.Parity,
			Timeout:  timeoutDuration(m.Timeout),
		}
		if cfg.BaudRate == 0 {
			cfg.BaudRate = 9600
		}
		if cfg.DataBits == 0 {
			cfg.DataBits = 8
		}
		if cfg.StopBits == 0 {
			cfg.StopBits = 1
		}
		if cfg.Parity == "" {
			cfg.Parity = "N"
		}
		return bridge.UpstreamConfig{Kind: bridge.UpstreamRTU, Serial: cfg}, nil
	case "tcp", "":
		host := u.Host
		if host == "" {
			host = u.Opaque
		}
		return bridge.UpstreamConfig{Kind: bridge.UpstreamTCP, TCPAddr: host}, nil
	default:
		return bridge.UpstreamConfig{}, fmt.Errorf("modbus: unsupported modbus url scheme %q", u.Scheme)
	}
}

func parseUnitIDRemap(m map[string]int) (map[byte]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[byte]byte, len(m))
	for k, v := range m {
		from, err := strconv.Atoi(k)
		if err != nil || from < 0 || from > 255 {
			return nil, fmt.Errorf("modbus: invalid unit id key %q in unit_id_remapping", k)
		}
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("modbus: unit id value %d out of range in unit_id_remapping", v)
		}
		out[byte(from)] = byte(v)
	}
	return out, nil
}
