// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command modbus-bridge is the process entrypoint: it parses flags and an
// optional config file, starts one Bridge per configured device, and
// tears them down on SIGINT/SIGTERM.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/openmodbus/bridge/internal/bridge"
	"github.com/openmodbus/bridge/internal/config"
	"github.com/openmodbus/bridge/internal/fixture"
	"github.com/openmodbus/bridge/internal/fixture/persistence"
)

func main() {
	flags := config.BindFlags(pflag.CommandLine)
	pflag.Parse()

	doc, err := config.Load(flags)
	if err != nil {
		if errors.Is(err, config.ErrNoDevices) {
			fmt.Fprintln(os.Stderr, "must give a config-file, --modbus, or --simulate")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(doc.Log)
	slog.Info("starting modbus-bridge")

	var sim *fixture.Device
	if flags.Simulate {
		sim, err = fixture.NewDevice("127.0.0.1:0", persistence.NewMemory())
		if err != nil {
			slog.Error("failed to build simulated device", "err", err)
			os.Exit(1)
		}
		if err := sim.Start(); err != nil {
			slog.Error("failed to start simulated device", "err", err)
			os.Exit(1)
		}
		defer sim.Close()
		slog.Info("serving a simulated device", "addr", sim.Addr())
		for i, dev := range doc.Devices {
			if dev.Modbus.URL == "" {
				doc.Devices[i].Modbus.URL = "tcp://" + sim.Addr().String()
			}
		}
	}

	var bridges []*bridge.Bridge
	for _, dev := range doc.Devices {
		cfg, err := config.ToBridgeConfig(dev)
		if err != nil {
			slog.Error("invalid device configuration", "device", dev.Name, "err", err)
			os.Exit(1)
		}
		b, err := bridge.New(cfg)
		if err != nil {
			slog.Error("failed to construct bridge", "device", dev.Name, "err", err)
			os.Exit(1)
		}
		if err := b.Start(); err != nil {
			slog.Error("failed to start bridge", "device", dev.Name, "err", err)
			os.Exit(1)
		}
		bridges = append(bridges, b)
	}

	var wg sync.WaitGroup
	for _, b := range bridges {
		wg.Add(1)
		go func(b *bridge.Bridge) {
			defer wg.Done()
			if err := b.Serve(); err != nil {
				slog.Error("bridge stopped with error", "err", err)
			}
		}(b)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	for _, b := range bridges {
		if err := b.Stop(); err != nil {
			slog.Error("error stopping bridge", "err", err)
		}
	}
	wg.Wait()
	slog.Info("goodbye")
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "trace":
		opts.Level = bridge.LevelTrace
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	// slog has no built-in name for levels below debug; render the frame-dump
	// level as TRACE instead of DEBUG-4.
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.LevelKey {
			if level, ok := a.Value.Any().(slog.Level); ok && level == bridge.LevelTrace {
				a.Value = slog.StringValue("TRACE")
			}
		}
		return a
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
