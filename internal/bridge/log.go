// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/openmodbus/bridge/modbus"
	"github.com/openmodbus/bridge/modbus/tcp"
)

// LevelTrace sits one notch below slog.LevelDebug and carries raw frame
// dumps; debug level carries the parsed header fields. The entrypoint's
// logger setup maps it to the label TRACE.
const LevelTrace = slog.LevelDebug - 4

// logFrame records one frame crossing the proxy: parsed MBAP header fields
// at debug level, the raw bytes hex-encoded at trace level. The gate check
// comes first so neither the field decode nor the hex encoding runs at
// info level.
func logFrame(bridgeName, peer, direction string, frame []byte) {
	ctx := context.Background()
	logger := slog.Default()
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	if len(frame) >= tcp.MinSize {
		attrs := []any{
			"bridge", bridgeName,
			"addr", peer,
			"dir", direction,
			"txid", binary.BigEndian.Uint16(frame[0:2]),
			"unit", frame[6],
			"fc", fmt.Sprintf("%#02x", frame[7]),
			"size", len(frame),
		}
		if direction == "reply" && isReadReply(frame) {
			attrs = append(attrs, "values", hex.EncodeToString(frame[9:]))
		}
		logger.Debug("modbus frame", attrs...)
	}
	if logger.Enabled(ctx, LevelTrace) {
		logger.Log(ctx, LevelTrace, "raw frame",
			"bridge", bridgeName, "addr", peer, "dir", direction,
			"hex", hex.EncodeToString(frame))
	}
}

// isReadReply reports whether frame is a reply to one of the four read
// functions, whose PDU is a byte count followed by register/coil values.
func isReadReply(frame []byte) bool {
	fc := frame[7]
	return fc >= modbus.FuncCodeReadCoils && fc <= modbus.FuncCodeReadInputRegisters && len(frame) > 9
}
