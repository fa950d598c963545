// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "testing"

func TestEncodeDecodeADURoundTrip(t *testing.T) {
	raw, err := EncodeADU(0x11, 0x03, []byte{0x00, 0x6B, 0x00, 0x03})
	if err != nil {
		t.Fatalf("EncodeADU: %v", err)
	}

	slaveID, fc, data, err := DecodeADU(raw)
	if err != nil {
		t.Fatalf("DecodeADU: %v", err)
	}
	if slaveID != 0x11 || fc != 0x03 {
		t.Fatalf("got slave=%#x fc=%#x, want slave=0x11 fc=0x03", slaveID, fc)
	}
	if len(data) != 4 || data[1] != 0x6B {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestDecodeADURejectsBadCRC(t *testing.T) {
	raw, _ := EncodeADU(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x01})
	raw[len(raw)-1] ^= 0xFF

	if _, _, _, err := DecodeADU(raw); err == nil {
		t.Fatal("expected crc mismatch error")
	}
}

func TestDecodeADURejectsShortFrame(t *testing.T) {
	if _, _, _, err := DecodeADU([]byte{0x01, 0x03}); err == nil {
		t.Fatal("expected short-frame error")
	}
}

func TestExpectedLengthReadResponse(t *testing.T) {
	buf := []byte{0x11, 0x03, 0x04}
	length, ok := ExpectedLength(buf)
	if !ok || length != 3+4+2 {
		t.Fatalf("got (%d, %v), want (9, true)", length, ok)
	}
}

func TestExpectedLengthWriteResponse(t *testing.T) {
	length, ok := ExpectedLength([]byte{0x11, 0x06})
	if !ok || length != writeRespSize {
		t.Fatalf("got (%d, %v), want (%d, true)", length, ok, writeRespSize)
	}
}

func TestExpectedLengthException(t *testing.T) {
	length, ok := ExpectedLength([]byte{0x11, 0x83})
	if !ok || length != ExceptionSize {
		t.Fatalf("got (%d, %v), want (%d, true)", length, ok, ExceptionSize)
	}
}

func TestExpectedLengthNotEnoughBytesYet(t *testing.T) {
	if _, ok := ExpectedLength([]byte{0x11, 0x03}); ok {
		t.Fatal("expected ok=false before byte_count has arrived")
	}
	if _, ok := ExpectedLength([]byte{0x11}); ok {
		t.Fatal("expected ok=false with only one byte buffered")
	}
}

func TestExpectedLengthUnknownFunctionCode(t *testing.T) {
	if _, ok := ExpectedLength([]byte{0x11, 0x2B}); ok {
		t.Fatal("expected ok=false for an unrecognized function code")
	}
}
