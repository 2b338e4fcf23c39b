// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bridge implements the per-device Modbus proxy core: a listener
// accepting many TCP clients, a single upstream connection (TCP or RTU)
// serialized behind a transaction gate, and unit-ID remapping between the
// two. This file holds the orchestration (Bridge, ClientSession) and the
// TransactionGate; upstream.go holds the TCP/RTU links, remap.go the
// unit-ID Remapper.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/openmodbus/bridge/internal/bridge/serial"
	"github.com/openmodbus/bridge/modbus/tcp"
)

// UpstreamKind selects which framing the UpstreamLink speaks to the device.
type UpstreamKind int

const (
	UpstreamTCP UpstreamKind = iota
	UpstreamRTU
)

// UpstreamConfig names the single upstream device a Bridge forwards to.
type UpstreamConfig struct {
	Kind    UpstreamKind
	TCPAddr string
	Serial  serial.Config
}

// Config is everything needed to construct one Bridge, immutable once New
// has validated and consumed it.
type Config struct {
	Name string

	ListenAddr string
	Upstream   UpstreamConfig

	// Timeout bounds each connect, write, and read individually; the same
	// value also bounds each transaction attempt as a whole.
	Timeout time.Duration
	// SettleDelay is slept once after each successful upstream open,
	// before the first transaction on that connection.
	SettleDelay time.Duration
	// Attempts is how many tries writeRead makes at a transaction, the
	// first one included, before giving up and terminating the client
	// session. Zero defaults to 2, matching the original proxy's
	// write_read(attempts=2).
	Attempts int

	// UnitIDRemap is the partial client-side to upstream-side unit-ID map.
	// Nil or empty means transparent passthrough.
	UnitIDRemap map[byte]byte
}

// Bridge owns one listen address, one upstream device connection, and the
// client sessions attached to it. Bridges are independent: nothing is
// shared between two Bridge values.
type Bridge struct {
	name       string
	listenAddr string
	timeout    time.Duration
	attempts   int

	link  upstreamLink
	remap *Remapper
	gate  sync.Mutex // the TransactionGate: sole synchronizer over link

	listener net.Listener

	mu       sync.Mutex
	sessions map[*clientSession]struct{}
	stopping bool
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// New validates cfg and constructs a Bridge. It fails with ConfigInvalid if
// the unit-ID remap is not injective. No other I/O happens here; Start is
// what binds the listener.
func New(cfg Config) (*Bridge, error) {
	remap, err := NewRemapper(cfg.UnitIDRemap)
	if err != nil {
		return nil, err
	}

	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 2
	}

	var link upstreamLink
	switch cfg.Upstream.Kind {
	case UpstreamTCP:
		if cfg.Upstream.TCPAddr == "" {
			return nil, newError(ConfigInvalid, "new", fmt.Errorf("tcp upstream requires an address"))
		}
		link = newTCPUpstreamLink(cfg.Upstream.TCPAddr, cfg.Timeout, cfg.SettleDelay)
	case UpstreamRTU:
		if cfg.Upstream.Serial.Device == "" {
			return nil, newError(ConfigInvalid, "new", fmt.Errorf("rtu upstream requires a device path"))
		}
		link = newRTUUpstreamLink(cfg.Upstream.Serial, cfg.Timeout, cfg.SettleDelay)
	default:
		return nil, newError(ConfigInvalid, "new", fmt.Errorf("unknown upstream kind %d", cfg.Upstream.Kind))
	}

	name := cfg.Name
	if name == "" {
		name = cfg.ListenAddr
	}

	return &Bridge{
		name:       name,
		listenAddr: cfg.ListenAddr,
		timeout:    cfg.Timeout,
		attempts:   attempts,
		link:       link,
		remap:      remap,
		sessions:   make(map[*clientSession]struct{}),
		stopped:    make(chan struct{}),
	}, nil
}

// Start binds the listener. It must be called before Serve.
func (b *Bridge) Start() error {
	l, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return newError(BindFailed, "listen", err)
	}
	b.listener = l
	slog.Info("bridge listening", "bridge", b.name, "addr", l.Addr())
	return nil
}

// Addr returns the bound listen address; valid only after a successful
// Start. Chiefly useful in tests that bind to ":0".
func (b *Bridge) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Serve accepts clients until Stop closes the listener or an unrecoverable
// listener error occurs. It blocks; callers typically run it in its own
// goroutine.
func (b *Bridge) Serve() error {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.stopped:
				return nil
			default:
				return fmt.Errorf("modbus: bridge %s: accept: %w", b.name, err)
			}
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handle(conn)
		}()
	}
}

// Stop stops accepting new clients, closes every attached ClientSession
// (their reads observe an error and the session exits), closes the
// upstream link, and returns once every in-flight transaction has
// completed or been cancelled. Stop is idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		b.wg.Wait()
		return nil
	}
	b.stopping = true
	close(b.stopped)
	sessions := make([]*clientSession, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	if b.listener != nil {
		b.listener.Close()
	}
	for _, s := range sessions {
		s.conn.Close()
	}

	b.wg.Wait()
	return b.link.close()
}

func (b *Bridge) handle(conn net.Conn) {
	s := &clientSession{conn: conn, bridge: b, peer: conn.RemoteAddr().String()}

	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.sessions[s] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.sessions, s)
		b.mu.Unlock()
		conn.Close()
	}()

	slog.Info("client connected", "bridge", b.name, "addr", s.peer)
	s.serve()
	slog.Info("client session ended", "bridge", b.name, "addr", s.peer, "requests", s.requestCount)
}

// writeRead is the TransactionGate's public face: it serializes callers
// (sync.Mutex gives FIFO fairness under sustained contention via Go's
// starvation mode) and retries up to b.attempts times, each attempt bounded
// by b.timeout. A non-nil error here means every attempt failed; the
// caller's contract is to terminate its session without fabricating a
// Modbus reply.
func (b *Bridge) writeRead(req []byte) ([]byte, error) {
	b.gate.Lock()
	defer b.gate.Unlock()

	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		resp, err := b.link.transact(ctx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.Error("upstream transaction failed", "bridge", b.name, "attempt", attempt, "attempts", b.attempts, "err", err)
	}
	return nil, lastErr
}

// clientSession is the per-accepted-connection read, forward, write loop.
// It owns its connection and request counter; nothing else touches them.
type clientSession struct {
	conn         net.Conn
	bridge       *Bridge
	peer         string
	requestCount uint64
}

func (s *clientSession) serve() {
	for {
		req, err := tcp.ReadFrame(s.conn)
		if err != nil {
			s.logReadErr(err)
			return
		}
		s.requestCount++
		logFrame(s.bridge.name, s.peer, "request", req)

		unitID := req[6]
		forwarded := s.bridge.remap.Forward(unitID)
		if forwarded != unitID {
			req = rewriteUnitID(req, forwarded)
			slog.Debug("remapped unit id on request", "bridge", s.bridge.name, "from", unitID, "to", forwarded)
		}

		reply, err := s.bridge.writeRead(req)
		if err != nil {
			slog.Error("client session terminated after exhausted retries", "bridge", s.bridge.name, "addr", s.peer, "err", err)
			return
		}
		if len(reply) < 7 {
			slog.Error("upstream reply too short to carry a unit id", "bridge", s.bridge.name, "addr", s.peer)
			return
		}

		replyUnitID := reply[6]
		inverted := s.bridge.remap.Inverse(replyUnitID)
		if inverted != replyUnitID {
			reply = rewriteUnitID(reply, inverted)
			slog.Debug("remapped unit id on reply", "bridge", s.bridge.name, "from", replyUnitID, "to", inverted)
		}

		logFrame(s.bridge.name, s.peer, "reply", reply)
		if _, err := s.conn.Write(reply); err != nil {
			slog.Error("client write failed", "bridge", s.bridge.name, "addr", s.peer, "err", err)
			return
		}
	}
}

func (s *clientSession) logReadErr(err error) {
	if errors.Is(err, io.EOF) {
		slog.Info("client closed connection", "bridge", s.bridge.name, "addr", s.peer)
		return
	}
	var sfe *tcp.ShortFrameError
	if errors.As(err, &sfe) {
		slog.Warn("client closed mid-frame", "bridge", s.bridge.name, "addr", s.peer, "err", err)
		return
	}
	slog.Error("client read failed", "bridge", s.bridge.name, "addr", s.peer, "err", err)
}

// rewriteUnitID returns a copy of frame with the MBAP unit-ID byte (index
// 6) replaced by u, leaving the original untouched: frames may still be
// in flight to a logger or retained by the caller.
func rewriteUnitID(frame []byte, u byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	out[6] = u
	return out
}
