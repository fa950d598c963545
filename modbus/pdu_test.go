// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "testing"

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	return NewDevice("dev", 0x01)
}

func TestComposeReadRequestHoldingRegisters(t *testing.T) {
	rr := &RegisterRange{Type: Holding, Start: 0x10, Count: 3}
	pdu, err := ComposeReadRequest(rr, 0)
	if err != nil {
		t.Fatalf("ComposeReadRequest: %v", err)
	}
	if pdu.FuncCode != FuncCodeReadHoldingRegisters {
		t.Fatalf("got fc %#x, want 0x03", pdu.FuncCode)
	}
	want := []byte{0x00, 0x10, 0x00, 0x03}
	if string(pdu.Data) != string(want) {
		t.Fatalf("got data %v, want %v", pdu.Data, want)
	}
}

func TestComposeReadRequestAppliesShift(t *testing.T) {
	rr := &RegisterRange{Type: Holding, Start: 0x10, Count: 1}
	pdu, err := ComposeReadRequest(rr, 5)
	if err != nil {
		t.Fatalf("ComposeReadRequest: %v", err)
	}
	want := []byte{0x00, 0x15, 0x00, 0x01}
	if string(pdu.Data) != string(want) {
		t.Fatalf("got data %v, want %v", pdu.Data, want)
	}
}

// TestParseReadResponseSingleWord covers a plain 16-bit holding register
// read: one word, no bit packing involved.
func TestParseReadResponseSingleWord(t *testing.T) {
	device := newTestDevice(t)
	r := &Register{Name: "r1", Type: Holding, Address: 0, BitOffset: 0, BitWidth: 16}
	device.AddRegister(r)
	rr := &RegisterRange{Type: Holding, Start: 0, Count: 1, Registers: []*Register{r}}

	resp := ProtocolDataUnit{FuncCode: FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0x12, 0x34}}
	if err := ParseReadResponse(rr, resp); err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	if r.LastValue != 0x1234 {
		t.Fatalf("got %#x, want 0x1234", r.LastValue)
	}
	if !r.Available {
		t.Fatal("expected register to be marked available")
	}
}

// TestParseReadResponseBitField covers two sub-word registers packed into
// different words: word 0 = 0x00F0 (nibble 0x0F at offset 4 -> wait, value
// is extracted from offset 4, width 4) and word 1 = 0x0070.
func TestParseReadResponseBitField(t *testing.T) {
	device := newTestDevice(t)
	r1 := &Register{Name: "lo", Type: Holding, Address: 0, BitOffset: 4, BitWidth: 4}
	r2 := &Register{Name: "hi", Type: Holding, Address: 1, BitOffset: 4, BitWidth: 4}
	device.AddRegister(r1)
	device.AddRegister(r2)
	rr := &RegisterRange{Type: Holding, Start: 0, Count: 2, Registers: []*Register{r1, r2}}

	// word0 = 0x00F0 -> bits[4:8) = 0xF; word1 = 0x0070 -> bits[4:8) = 0x7
	resp := ProtocolDataUnit{FuncCode: FuncCodeReadHoldingRegisters, Data: []byte{0x04, 0x00, 0xF0, 0x00, 0x70}}
	if err := ParseReadResponse(rr, resp); err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	if r1.LastValue != 0x0F {
		t.Fatalf("r1: got %#x, want 0x0F", r1.LastValue)
	}
	if r2.LastValue != 0x07 {
		t.Fatalf("r2: got %#x, want 0x07", r2.LastValue)
	}
}

// TestParseReadResponseBigEndianMultiWord covers a 32-bit register spanning
// two words, most-significant word first: words [0x1234, 0x5678] -> value
// 0x12345678.
func TestParseReadResponseBigEndianMultiWord(t *testing.T) {
	device := newTestDevice(t)
	r := &Register{Name: "wide", Type: HoldingMulti, Address: 0, BitOffset: 0, BitWidth: 32}
	device.AddRegister(r)
	rr := &RegisterRange{Type: HoldingMulti, Start: 0, Count: 2, Registers: []*Register{r}}

	resp := ProtocolDataUnit{FuncCode: FuncCodeReadHoldingRegisters, Data: []byte{0x04, 0x12, 0x34, 0x56, 0x78}}
	if err := ParseReadResponse(rr, resp); err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	if r.LastValue != 0x12345678 {
		t.Fatalf("got %#x, want 0x12345678", r.LastValue)
	}
}

func TestParseReadResponseUnsupportedValue(t *testing.T) {
	device := newTestDevice(t)
	sentinel := uint64(0x8000)
	r := &Register{Name: "r1", Type: Input, Address: 0, BitOffset: 0, BitWidth: 16, UnsupportedValue: &sentinel}
	device.AddRegister(r)
	rr := &RegisterRange{Type: Input, Start: 0, Count: 1, Registers: []*Register{r}}

	resp := ProtocolDataUnit{FuncCode: FuncCodeReadInputRegisters, Data: []byte{0x02, 0x80, 0x00}}
	if err := ParseReadResponse(rr, resp); err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	if r.Available {
		t.Fatal("expected register to be unavailable for the sentinel value")
	}
	if !r.ErrorFlag {
		t.Fatal("expected error flag to be set for the sentinel value")
	}
}

func TestParseReadResponseException(t *testing.T) {
	rr := &RegisterRange{Type: Holding, Start: 0, Count: 1}
	resp := ProtocolDataUnit{FuncCode: FuncCodeReadHoldingRegisters | exceptionBit, Data: []byte{ExceptionIllegalAddress}}
	err := ParseReadResponse(rr, resp)
	if err == nil || err.Kind != ErrKindPermanent {
		t.Fatalf("got %v, want a permanent error", err)
	}
}

// TestWriteRegisterPreservesCachedBits covers a write to a sub-word
// register that must merge with the previously observed word rather than
// clobbering it: cached word 0xAB00 at (HOLDING, 5), write value 5 into
// bit_offset=4, bit_width=4 -> outgoing word 0xAB50.
func TestWriteRegisterPreservesCachedBits(t *testing.T) {
	device := newTestDevice(t)
	r := &Register{Name: "nibble", Type: Holding, Address: 5, BitOffset: 4, BitWidth: 4}
	device.AddRegister(r)
	device.Committed.Set(Holding, 5, 0xAB00)

	pdus, err := ComposeWriteRequests(r, 5, 0)
	if err != nil {
		t.Fatalf("ComposeWriteRequests: %v", err)
	}
	if len(pdus) != 1 {
		t.Fatalf("expected 1 request, got %d", len(pdus))
	}
	got := uint16(pdus[0].Data[2])<<8 | uint16(pdus[0].Data[3])
	if got != 0xAB50 {
		t.Fatalf("got outgoing word %#04x, want 0xAB50", got)
	}

	staged, ok := device.Pending.Get(Holding, 5)
	if !ok || staged != 0xAB50 {
		t.Fatalf("pending cache: got (%#04x, %v), want (0xAB50, true)", staged, ok)
	}
}

func TestWriteRegisterFallsBackToLowBitsWhenUncached(t *testing.T) {
	device := newTestDevice(t)
	r := &Register{Name: "uncached", Type: Holding, Address: 9, BitOffset: 0, BitWidth: 16}
	device.AddRegister(r)

	pdus, err := ComposeWriteRequests(r, 0x1FFFF, 0)
	if err != nil {
		t.Fatalf("ComposeWriteRequests: %v", err)
	}
	got := uint16(pdus[0].Data[2])<<8 | uint16(pdus[0].Data[3])
	if got != 0xFFFF {
		t.Fatalf("got %#04x, want the low 16 bits of the written value (0xFFFF)", got)
	}
}

func TestComposeWriteRequestsCoilBypassesMasking(t *testing.T) {
	device := newTestDevice(t)
	r := &Register{Name: "coil", Type: Coil, Address: 3, BitOffset: 0, BitWidth: 1}
	device.AddRegister(r)

	on, err := ComposeWriteRequests(r, 1, 0)
	if err != nil {
		t.Fatalf("ComposeWriteRequests: %v", err)
	}
	if on[0].Data[2] != 0xFF || on[0].Data[3] != 0x00 {
		t.Fatalf("coil on: got data %v, want 0xFF00", on[0].Data)
	}

	off, err := ComposeWriteRequests(r, 0, 0)
	if err != nil {
		t.Fatalf("ComposeWriteRequests: %v", err)
	}
	if off[0].Data[2] != 0x00 || off[0].Data[3] != 0x00 {
		t.Fatalf("coil off: got data %v, want 0x0000", off[0].Data)
	}
}

func TestComposeWriteRequestsHoldingMultiAlwaysPacks(t *testing.T) {
	device := newTestDevice(t)
	r := &Register{Name: "multi", Type: HoldingMulti, Address: 0, BitOffset: 0, BitWidth: 16}
	device.AddRegister(r)

	pdus, err := ComposeWriteRequests(r, 0x1234, 0)
	if err != nil {
		t.Fatalf("ComposeWriteRequests: %v", err)
	}
	if len(pdus) != 1 || pdus[0].FuncCode != FuncCodeWriteMultipleRegisters {
		t.Fatalf("expected a single packed FC 0x10 request, got %+v", pdus)
	}
}

func TestComposeWriteRequestsRejectsReadOnlyTypes(t *testing.T) {
	device := newTestDevice(t)
	r := &Register{Name: "ro", Type: Input, Address: 0, BitWidth: 16}
	device.AddRegister(r)

	if _, err := ComposeWriteRequests(r, 1, 0); err == nil || err.Kind != ErrKindFatal {
		t.Fatalf("expected a fatal error for writing an INPUT register, got %v", err)
	}
}
