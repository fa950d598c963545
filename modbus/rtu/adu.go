// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements Modbus RTU ADU framing: CRC16-validated envelopes
// around a PDU, and frame-size inference for the streaming reader.
package rtu

import (
	"fmt"

	"github.com/ElenaSavch/wb-mqtt-serial/modbus/crc"
)

// EncodeADU wraps a PDU (function code + data) into an RTU ADU:
// [slaveId][fc][data][crc16 LE].
func EncodeADU(slaveID, funcCode byte, data []byte) ([]byte, error) {
	length := len(data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: pdu too large for RTU ADU: %d bytes", length)
	}
	adu := make([]byte, length)
	adu[0] = slaveID
	adu[1] = funcCode
	copy(adu[2:], data)

	var c crc.CRC
	c.Reset().PushBytes(adu[:length-2])
	sum := c.Value()
	adu[length-2] = byte(sum)
	adu[length-1] = byte(sum >> 8)
	return adu, nil
}

// DecodeADU splits a received RTU ADU into slaveId, function code and PDU
// data, verifying its CRC. The caller is expected to call Port.SkipNoise
// and surface a transient error on failure.
func DecodeADU(raw []byte) (slaveID, funcCode byte, data []byte, err error) {
	if len(raw) < MinSize {
		return 0, 0, nil, fmt.Errorf("modbus: adu length %d below minimum %d", len(raw), MinSize)
	}
	length := len(raw)
	var c crc.CRC
	c.Reset().PushBytes(raw[:length-2])
	want := c.Value()
	got := uint16(raw[length-2]) | uint16(raw[length-1])<<8
	if want != got {
		return 0, 0, nil, fmt.Errorf("modbus: crc mismatch: got %#04x want %#04x", got, want)
	}
	return raw[0], raw[1], raw[2 : length-2], nil
}

// ExpectedLength infers the full ADU length of an in-flight response from
// its first few bytes. It returns ok=false when not enough
// bytes have arrived yet to know the length, or when the function code is
// not one this package recognizes (the caller falls back to frame-timeout
// driven completion in that case).
func ExpectedLength(buf []byte) (length int, ok bool) {
	if len(buf) < 2 {
		return 0, false
	}
	fc := buf[1]
	if fc&0x80 != 0 {
		return ExceptionSize, true
	}
	switch fc {
	case fcReadCoils, fcReadDiscreteInputs, fcReadHoldingRegisters, fcReadInputRegisters:
		if len(buf) < 3 {
			return 0, false
		}
		byteCount := int(buf[2])
		return 3 + byteCount + 2, true
	case fcWriteSingleCoil, fcWriteSingleRegister, fcWriteMultipleCoils, fcWriteMultipleRegisters:
		return writeRespSize, true
	default:
		return 0, false
	}
}
