// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import (
	"testing"
)

func TestCRC(t *testing.T) {
	var crc CRC
	crc.Reset()
	crc.PushBytes([]byte{0x02, 0x07})

	if crc.Value() != 0x1241 {
		t.Fatalf("crc expected %v, actual %v", 0x1241, crc.Value())
	}
}

func TestCRC_IncrementalEqualsBulk(t *testing.T) {
	data := []byte{0x11, 0x03, 0x00, 0x00, 0x00, 0x0A}

	var bulk CRC
	bulk.Reset().PushBytes(data)

	var incremental CRC
	incremental.Reset()
	for _, b := range data {
		incremental.PushByte(b)
	}

	if bulk.Value() != incremental.Value() {
		t.Fatalf("incremental crc %#04x != bulk crc %#04x", incremental.Value(), bulk.Value())
	}
}
