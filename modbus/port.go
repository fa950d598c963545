// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "time"

// Port is the framed byte I/O contract a transaction needs from a bus or
// endpoint. It knows nothing about Modbus framing; the RTU framer
// (package rtu) and the transaction engine build ADUs on top of it.
type Port interface {
	// WriteBytes transmits buf in full, blocking on transient write-would-
	// block conditions until the port's own write timeout.
	WriteBytes(buf []byte) error

	// ReadFrame reads into buf until complete(buf[:n]) reports true, or
	// frameTimeout elapses since the last byte arrived, or totalTimeout
	// elapses since the call began, whichever comes first. A timeout with
	// zero bytes read returns (0, nil): "no response within total timeout"
	// is not itself an error, since a silent slave is an ordinary outcome
	// the transaction engine classifies on its own (ErrKindTransient).
	ReadFrame(buf []byte, totalTimeout, frameTimeout time.Duration, complete func([]byte) bool) (int, error)

	// SkipNoise drains any bytes already in flight until frameTimeout of
	// silence, used to resynchronize after a malformed or abandoned frame.
	SkipNoise(frameTimeout time.Duration) error

	// SleepSinceLastInteraction blocks, if needed, so that at least minGap
	// has elapsed since the port's previous WriteBytes/ReadFrame call
	// returned, enforcing the Modbus inter-frame guard interval.
	SleepSinceLastInteraction(minGap time.Duration)

	// Close releases the underlying connection.
	Close() error
}
