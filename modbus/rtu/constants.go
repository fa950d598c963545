// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// ADU size bounds.
const (
	MinSize       = 4 // slaveId + fc + crc(2)
	MaxSize       = 256
	ExceptionSize = 5 // slaveId + fc + exceptionCode + crc(2)
	writeRespSize = 8 // slaveId + fc + addr(2) + value/qty(2) + crc(2)
)

// Function codes this package's frame-size inference needs to recognize.
// Deliberately independent of package modbus's symbolic constants: the RTU
// framer sits below the domain model in the dependency graph and must not
// import it back.
const (
	fcReadCoils              = 0x01
	fcReadDiscreteInputs     = 0x02
	fcReadHoldingRegisters   = 0x03
	fcReadInputRegisters     = 0x04
	fcWriteSingleCoil        = 0x05
	fcWriteSingleRegister    = 0x06
	fcWriteMultipleCoils     = 0x0F
	fcWriteMultipleRegisters = 0x10
)
