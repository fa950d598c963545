// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "encoding/binary"

// ComposeReadRequest builds the read PDU for a range:
// [fc][start_addr BE][quantity BE]. shift is the device's wire-address
// offset.
func ComposeReadRequest(rr *RegisterRange, shift int) (ProtocolDataUnit, *Error) {
	fc, err := readFuncCode(rr.Type)
	if err != nil {
		return ProtocolDataUnit{}, fatalf("%s", err)
	}
	addr := uint16(int(rr.Start) + shift)
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], uint16(rr.Count))
	return ProtocolDataUnit{FuncCode: fc, Data: data}, nil
}

// ParseReadResponse unpacks a read response PDU into the range's registers.
// On success every register's value (or availability, for
// unsupported-value detection) is updated and, for
// word types, the device's committed cache is refreshed with every raw word
// read. Returns nil on success.
func ParseReadResponse(rr *RegisterRange, resp ProtocolDataUnit) *Error {
	if resp.FuncCode&exceptionBit != 0 {
		if len(resp.Data) < 1 {
			return transientf("short exception response")
		}
		return ExceptionToError(resp.Data[0])
	}
	if len(resp.Data) < 1 {
		return transientf("short response")
	}
	byteCount := int(resp.Data[0])
	rest := resp.Data[1:]
	if byteCount > len(rest) {
		return transientf("malformed response: byte count %d exceeds %d bytes received", byteCount, len(rest))
	}
	data := rest[:byteCount]

	if rr.Type.IsBitType() {
		return parseBitResponse(rr, data)
	}
	return parseWordResponse(rr, data)
}

// parseBitResponse unpacks little-endian-within-byte bits and assigns each
// register its bit at address-rr.Start.
func parseBitResponse(rr *RegisterRange, data []byte) *Error {
	bits := make([]bool, rr.Count)
	for i := 0; i < rr.Count; i++ {
		byteIdx, bitIdx := i/8, uint(i%8)
		if byteIdx >= len(data) {
			return transientf("malformed response: expected %d bits, got %d bytes", rr.Count, len(data))
		}
		bits[i] = (data[byteIdx]>>bitIdx)&1 != 0
	}
	for _, r := range rr.Registers {
		idx := int(r.Address) - int(rr.Start)
		if idx < 0 || idx >= len(bits) {
			continue
		}
		var v uint64
		if bits[idx] {
			v = 1
		}
		applyReadValue(r, v)
	}
	return nil
}

// parseWordResponse unpacks big-endian 16-bit words and, for each register,
// reassembles its bit window across the words it spans, most-significant
// word first.
func parseWordResponse(rr *RegisterRange, data []byte) *Error {
	if len(data) < rr.Count*2 {
		return transientf("malformed response: expected %d words, got %d bytes", rr.Count, len(data))
	}
	words := make([]uint16, rr.Count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}

	var device *Device
	for _, r := range rr.Registers {
		device = r.Device()
		localStart := int(r.Address) - int(rr.Start)
		wc := r.WordWidth()

		var acc uint64
		remaining := r.BitWidth
		for i := 0; i < wc; i++ {
			wIdx := localStart + i
			if wIdx < 0 || wIdx >= len(words) {
				remaining -= minUint(remaining, 16)
				continue
			}
			offset, count := bitWindow(r.BitOffset, i, remaining)
			extracted := uint64((words[wIdx] >> offset) & bitMask16(count))
			acc = (acc << count) | extracted
			remaining -= count
		}
		applyReadValue(r, acc)
	}

	if device != nil {
		for i, w := range words {
			device.Committed.Set(rr.Type, uint16(int(rr.Start)+i), w)
		}
	}
	return nil
}

// applyReadValue is the post-accumulation step: an UnsupportedValue
// sentinel marks the register errored/unavailable instead of publishing it.
func applyReadValue(r *Register, v uint64) {
	if r.UnsupportedValue != nil && v == *r.UnsupportedValue {
		r.SetError()
		r.SetAvailable(false)
		return
	}
	r.SetValue(v)
}

// bitWindow returns, for word index i (0 = first/most-significant word of a
// multi-word register) and the bit width still unaccounted for, the bit
// offset within that word and how many of the register's bits live there.
// Both read and write paths thread `remaining` across successive calls,
// starting from the register's full BitWidth.
func bitWindow(bitOffset uint, i int, remaining uint) (offset, count uint) {
	offset = 0
	if int(bitOffset)-i*16 > 0 {
		offset = bitOffset - uint(i*16)
	}
	count = 16 - offset
	if count > remaining {
		count = remaining
	}
	return
}

func bitMask16(count uint) uint16 {
	if count >= 16 {
		return 0xFFFF
	}
	return uint16((uint32(1) << count) - 1)
}

func minUint(a, b uint) uint {
	if a < b {
		return a
	}
	return b
}

// writeWindows precomputes the (offset, count) pair for every word a
// register's write touches, in most-significant-word-first order, mirroring
// the read side's bitWindow loop so encode/decode stay symmetric.
func writeWindows(r *Register) []struct{ offset, count uint } {
	wc := r.WordWidth()
	windows := make([]struct{ offset, count uint }, wc)
	remaining := r.BitWidth
	for i := 0; i < wc; i++ {
		offset, count := bitWindow(r.BitOffset, i, remaining)
		windows[i] = struct{ offset, count uint }{offset, count}
		remaining -= count
	}
	return windows
}

// ComposeWriteRequests builds the write PDU(s) for a single register. It
// stages every touched word into device.Pending; the caller (the transaction
// engine) is responsible for promoting or discarding that cache depending
// on the transaction's outcome.
func ComposeWriteRequests(r *Register, value uint64, shift int) ([]ProtocolDataUnit, *Error) {
	device := r.Device()
	if device == nil {
		return nil, fatalf("register %s has no owning device", r.Name)
	}

	switch r.Type {
	case Input, Discrete:
		return nil, fatalf("register type %s does not support writes", r.Type)
	case Coil:
		return composeCoilWrite(r, value, shift)
	}

	wc := r.WordWidth()
	if needsPacking(r.Type, wc) {
		return composePackedWrite(r, value, shift, device)
	}
	return composeSingleWordWrites(r, value, shift, device)
}

// composeCoilWrite special-cases COIL writes to bypass the mask/merge path
// entirely: coils always have bit_offset=0, bit_width=1, so masking
// would be a no-op anyway.
func composeCoilWrite(r *Register, value uint64, shift int) ([]ProtocolDataUnit, *Error) {
	word := uint16(0x0000)
	if value != 0 {
		word = 0xFF00
	}
	addr := uint16(int(r.Address) + shift)
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], word)
	r.Device().Pending.Set(r.Type, r.Address, word)
	return []ProtocolDataUnit{{FuncCode: FuncCodeWriteSingleCoil, Data: data}}, nil
}

// composeSingleWordWrites handles HOLDING/HOLDING_SINGLE registers that do
// not require packing: one FC 0x06 request per word, in most-significant-
// word-first order.
func composeSingleWordWrites(r *Register, value uint64, shift int, device *Device) ([]ProtocolDataUnit, *Error) {
	windows := writeWindows(r)
	bitWidth := r.BitWidth
	var requests []ProtocolDataUnit
	for i, w := range windows {
		final := mergeWord(r, i, len(windows), value, bitWidth, w, device)
		addr := r.Address + uint16(i)
		device.Pending.Set(r.Type, addr, final)

		data := make([]byte, 4)
		binary.BigEndian.PutUint16(data[0:2], uint16(int(addr)+shift))
		binary.BigEndian.PutUint16(data[2:4], final)
		requests = append(requests, ProtocolDataUnit{FuncCode: FuncCodeWriteSingleRegister, Data: data})
	}
	return requests, nil
}

// composePackedWrite handles HOLDING_MULTI (always) and HOLDING with more
// than one word: a single FC 0x10 request covering all words.
func composePackedWrite(r *Register, value uint64, shift int, device *Device) ([]ProtocolDataUnit, *Error) {
	windows := writeWindows(r)
	bitWidth := r.BitWidth
	words := make([]uint16, len(windows))
	for i, w := range windows {
		words[i] = mergeWord(r, i, len(windows), value, bitWidth, w, device)
		device.Pending.Set(r.Type, r.Address+uint16(i), words[i])
	}

	addr := uint16(int(r.Address) + shift)
	data := make([]byte, 5+2*len(words))
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(words)))
	data[4] = byte(2 * len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(data[5+2*i:7+2*i], w)
	}
	return []ProtocolDataUnit{{FuncCode: FuncCodeWriteMultipleRegisters, Data: data}}, nil
}

// mergeWord computes the outgoing word for window i (0 = most significant),
// masking the register's bit slice of value into the previously observed
// cached word so untouched bits survive the write. When the word has never
// been cached, the fallback is value's low 16 bits — a deliberately
// preserved quirk: the very first write to a never-read word leaks bits
// outside the register's own window from the caller-supplied integer.
func mergeWord(r *Register, i, windowCount int, value uint64, bitWidth uint, w struct{ offset, count uint }, device *Device) uint16 {
	// Recover the slice of `value` that belongs to window i: windows were
	// built most-significant-first, so the i-th window consumes the next
	// `count` bits counting down from bitWidth.
	var consumedBefore uint
	for j := 0; j < i; j++ {
		consumedBefore += windowCountAt(r, j, bitWidth)
	}
	remainingAfter := bitWidth - consumedBefore - w.count
	chunk := uint16((value >> remainingAfter) & uint64(bitMask16(w.count)))

	addr := r.Address + uint16(i)
	cached, ok := device.Committed.Get(r.Type, addr)
	if !ok {
		cached = uint16(value & 0xFFFF)
	}
	mask := bitMask16(w.count) << w.offset
	return (cached &^ mask) | (chunk << w.offset)
}

// windowCountAt recomputes window j's bit count without needing the full
// slice in hand (used by mergeWord to find how many bits earlier windows
// consumed).
func windowCountAt(r *Register, j int, bitWidth uint) uint {
	remaining := bitWidth
	for k := 0; k < j; k++ {
		_, count := bitWindow(r.BitOffset, k, remaining)
		remaining -= count
	}
	_, count := bitWindow(r.BitOffset, j, remaining)
	return count
}
