// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/openmodbus/bridge/internal/bridge/serial"
	"github.com/openmodbus/bridge/modbus"
	"github.com/openmodbus/bridge/modbus/rtu"
	"github.com/openmodbus/bridge/modbus/tcp"
)

// upstreamLink maintains at most one connection to the Modbus device and
// performs one write-then-read transaction at a time. It is the tagged
// variant described for config-driven dispatch: a single TCP
// implementation and a single RTU implementation, both satisfying this
// interface, so the gate and Bridge stay agnostic of which wire format
// the device speaks.
type upstreamLink interface {
	// transact sends one MBAP-framed request and returns one
	// MBAP-framed reply. The caller holds the TransactionGate for the
	// duration of the call.
	transact(ctx context.Context, req []byte) ([]byte, error)
	// close releases any open connection or serial handle.
	close() error
}

// tcpUpstreamLink forwards MBAP frames to a TCP-speaking device verbatim;
// no framing translation is needed, which is what makes byte-for-byte
// transparency hold trivially on this path.
type tcpUpstreamLink struct {
	addr        string
	timeout     time.Duration
	settleDelay time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func newTCPUpstreamLink(addr string, timeout, settleDelay time.Duration) *tcpUpstreamLink {
	return &tcpUpstreamLink{addr: addr, timeout: timeout, settleDelay: settleDelay}
}

func (l *tcpUpstreamLink) ensureConnected(ctx context.Context) error {
	if l.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: l.timeout}
	conn, err := d.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return newError(UpstreamTimeout, "connect", err)
	}
	l.conn = conn
	slog.Info("upstream connected", "addr", l.addr)
	if l.settleDelay > 0 {
		select {
		case <-time.After(l.settleDelay):
		case <-ctx.Done():
			l.closeLocked()
			return newError(UpstreamTimeout, "connect", ctx.Err())
		}
	}
	return nil
}

func (l *tcpUpstreamLink) transact(ctx context.Context, req []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureConnected(ctx); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if !deadline.IsZero() {
		l.conn.SetDeadline(deadline)
	}

	if _, err := l.conn.Write(req); err != nil {
		l.closeLocked()
		return nil, classifyIOErr("write", err)
	}
	resp, err := tcp.ReadFrame(l.conn)
	if err != nil {
		l.closeLocked()
		return nil, classifyIOErr("read", err)
	}
	return resp, nil
}

func (l *tcpUpstreamLink) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *tcpUpstreamLink) closeLocked() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func classifyIOErr(op string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return newError(UpstreamTimeout, op, err)
	}
	return newError(UpstreamIO, op, err)
}

// rtuUpstreamLink speaks RTU to a serial device. Since client sessions are
// always MBAP-framed, this link is responsible for translating between the
// two framings on both directions of a transaction.
type rtuUpstreamLink struct {
	cfg         serial.Config
	timeout     time.Duration
	settleDelay time.Duration

	mu   sync.Mutex
	port io.ReadWriteCloser
}

func newRTUUpstreamLink(cfg serial.Config, timeout, settleDelay time.Duration) *rtuUpstreamLink {
	return &rtuUpstreamLink{cfg: cfg, timeout: timeout, settleDelay: settleDelay}
}

func (l *rtuUpstreamLink) ensureConnected(ctx context.Context) error {
	if l.port != nil {
		return nil
	}

	opened := make(chan struct{})
	var port io.ReadWriteCloser
	var openErr error
	go func() {
		port, openErr = serial.Open(l.cfg)
		close(opened)
	}()

	select {
	case <-opened:
	case <-time.After(l.timeout):
		return newError(UpstreamTimeout, "connect", fmt.Errorf("opening %s exceeded %s", l.cfg.Device, l.timeout))
	}

	if openErr != nil {
		var permErr *serial.PermissionError
		if errors.As(openErr, &permErr) {
			return newError(DevicePermission, "connect", openErr)
		}
		return newError(UpstreamTimeout, "connect", openErr)
	}

	l.port = port
	slog.Info("upstream connected", "device", l.cfg.Device)
	if l.settleDelay > 0 {
		select {
		case <-time.After(l.settleDelay):
		case <-ctx.Done():
			l.closeLocked()
			return newError(UpstreamTimeout, "connect", ctx.Err())
		}
	}
	return nil
}

func (l *rtuUpstreamLink) transact(ctx context.Context, req []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureConnected(ctx); err != nil {
		return nil, err
	}

	reqAdu, err := tcp.Decode(req)
	if err != nil {
		l.closeLocked()
		return nil, newError(UpstreamIO, "decode-request", err)
	}

	rtuReq := &rtu.ApplicationDataUnit{
		SlaveID: reqAdu.UnitID,
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: reqAdu.FunctionCode,
			Data:         reqAdu.Data,
		},
	}
	rawReq, err := rtuReq.Encode()
	if err != nil {
		l.closeLocked()
		return nil, newError(UpstreamIO, "encode-rtu-request", err)
	}

	if _, err := l.port.Write(rawReq); err != nil {
		l.closeLocked()
		return nil, newError(UpstreamIO, "write", err)
	}

	deadline := time.Now().Add(l.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	rawResp, err := rtu.ReadResponse(reqAdu.UnitID, reqAdu.FunctionCode, l.port, deadline)
	if err != nil {
		l.closeLocked()
		if errors.Is(err, rtu.ErrRequestTimedOut) {
			return nil, newError(UpstreamTimeout, "read", err)
		}
		var unsupported *rtu.UnsupportedFunctionError
		if errors.As(err, &unsupported) {
			return nil, newError(UnsupportedFunction, "read", err)
		}
		return nil, newError(UpstreamIO, "read", err)
	}

	respAdu, err := rtu.Decode(rawResp)
	if err != nil {
		l.closeLocked()
		return nil, newError(UpstreamIO, "decode-rtu-response", err)
	}

	tcpResp := &tcp.ApplicationDataUnit{
		TransactionID: reqAdu.TransactionID,
		ProtocolID:    reqAdu.ProtocolID,
		UnitID:        reqAdu.UnitID,
		FunctionCode:  respAdu.Pdu.FunctionCode,
		Data:          respAdu.Pdu.Data,
	}
	rawTCPResp, err := tcpResp.Encode()
	if err != nil {
		l.closeLocked()
		return nil, newError(UpstreamIO, "encode-response", err)
	}
	return rawTCPResp, nil
}

func (l *rtuUpstreamLink) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *rtuUpstreamLink) closeLocked() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}
