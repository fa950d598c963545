// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"time"

	"github.com/ElenaSavch/wb-mqtt-serial/modbus/rtu"
)

// Timeouts bundles the per-port wire timings consumed by the transaction
// engine: response_timeout (max wait for the first byte),
// frame_timeout (inter-byte gap, also used while draining noise) and
// request_delay (the guard interval enforced before every transaction).
type Timeouts struct {
	ResponseTimeout time.Duration
	FrameTimeout    time.Duration
	RequestDelay    time.Duration
}

// doTransaction runs one request/response round trip over port: encodes pdu
// into an RTU ADU, writes it, reads the response frame and validates it.
// Every failure is returned as a tagged Error; callers decide what
// Transient vs. Permanent means for their own state machine.
func doTransaction(port Port, slaveID byte, pdu ProtocolDataUnit, timeouts Timeouts) (ProtocolDataUnit, *Error) {
	port.SleepSinceLastInteraction(timeouts.RequestDelay)

	raw, err := rtu.EncodeADU(slaveID, pdu.FuncCode, pdu.Data)
	if err != nil {
		return ProtocolDataUnit{}, fatalf("%s", err)
	}
	if err := port.WriteBytes(raw); err != nil {
		return ProtocolDataUnit{}, transientf("write: %s", err)
	}

	buf := make([]byte, rtu.MaxSize)
	total := timeouts.ResponseTimeout + timeouts.FrameTimeout
	n, err := port.ReadFrame(buf, total, timeouts.FrameTimeout, func(got []byte) bool {
		length, ok := rtu.ExpectedLength(got)
		return ok && len(got) >= length
	})
	if err != nil {
		return ProtocolDataUnit{}, transientf("read: %s", err)
	}
	if n == 0 {
		return ProtocolDataUnit{}, transientf("no response within %s", total)
	}

	respSlave, respFC, data, err := rtu.DecodeADU(buf[:n])
	if err != nil {
		_ = port.SkipNoise(timeouts.FrameTimeout)
		return ProtocolDataUnit{}, transientf("%s", err)
	}
	if respSlave != slaveID {
		return ProtocolDataUnit{}, transientf("slave mismatch: got %d want %d", respSlave, slaveID)
	}
	if respFC&0x7F != pdu.FuncCode&0x7F {
		return ProtocolDataUnit{}, transientf("function code mismatch: got 0x%02x want 0x%02x", respFC, pdu.FuncCode)
	}
	return ProtocolDataUnit{FuncCode: respFC, Data: data}, nil
}

// markAllErrored flags every register in rr as having failed its most
// recent transaction.
func markAllErrored(rr *RegisterRange) {
	for _, r := range rr.Registers {
		r.SetError()
	}
}

// trimUnsupportedBorders drops leading/trailing registers that the last
// read marked unavailable (the UnsupportedValue sentinel) from a
// WHOLE range's reported extent, so a device that only partially answers a
// request's address span does not keep re-requesting addresses it has
// already told us it cannot serve.
func trimUnsupportedBorders(rr *RegisterRange) {
	regs := rr.Registers
	for len(regs) > 0 && !regs[0].Available {
		regs = regs[1:]
	}
	for len(regs) > 0 && !regs[len(regs)-1].Available {
		regs = regs[:len(regs)-1]
	}
	rr.Registers = regs
	if len(regs) == 0 {
		rr.Count = 0
		return
	}
	rr.Start = regs[0].Address
	last := regs[len(regs)-1]
	rr.Count = wordExtent(last) - int(rr.Start)
}

// ReadRange executes one polling cycle for rr. It returns the
// range(s) the device should use on its next cycle — ordinarily rr itself,
// but a Permanent failure against a range that has_holes re-splits with
// holes disabled, and ONE_BY_ONE mode re-splits around registers that have
// gone unavailable. A non-nil Error is only ever Fatal (a configuration
// error discovered while composing the request); transient/permanent wire
// outcomes are folded into the returned ranges' Status/ErrorFlag fields
// instead of surfacing as an error, since the scheduler treats them as an
// ordinary polling outcome, not a reason to stop.
func ReadRange(port Port, device *Device, rr *RegisterRange, timeouts Timeouts) ([]*RegisterRange, *Error) {
	if rr.ReadOneByOne {
		return readOneByOne(port, device, rr, timeouts)
	}

	pdu, cerr := ComposeReadRequest(rr, device.Shift)
	if cerr != nil {
		return nil, cerr
	}

	resp, terr := doTransaction(port, device.SlaveID, pdu, timeouts)
	if terr == nil {
		terr = ParseReadResponse(rr, resp)
	}
	if terr != nil {
		switch terr.Kind {
		case ErrKindTransient:
			markAllErrored(rr)
			rr.Status = StatusDeviceError
			return []*RegisterRange{rr}, nil
		case ErrKindPermanent:
			rr.Status = StatusDeviceError
			if rr.HasHoles {
				resplit := SplitByHoles(rr, device.Limits())
				return resplit, nil
			}
			rr.ReadOneByOne = true
			return []*RegisterRange{rr}, nil
		default:
			return nil, terr
		}
	}

	trimUnsupportedBorders(rr)
	rr.Status = StatusOK
	return []*RegisterRange{rr}, nil
}

// readOneByOne implements ONE_BY_ONE mode: one single-register
// transaction per register, in range order.
func readOneByOne(port Port, device *Device, rr *RegisterRange, timeouts Timeouts) ([]*RegisterRange, *Error) {
	original := rr.Registers
	for _, r := range original {
		single := newRange(r)
		pdu, cerr := ComposeReadRequest(single, device.Shift)
		if cerr != nil {
			return nil, cerr
		}

		resp, terr := doTransaction(port, device.SlaveID, pdu, timeouts)
		if terr == nil {
			terr = ParseReadResponse(single, resp)
		}
		if terr == nil {
			continue
		}
		switch terr.Kind {
		case ErrKindTransient:
			markAllErrored(rr)
			return []*RegisterRange{rr}, nil
		case ErrKindPermanent:
			r.SetAvailable(false)
			r.SetError()
			continue
		default:
			return nil, terr
		}
	}

	var available []*Register
	for _, r := range original {
		if r.Available {
			available = append(available, r)
		}
	}
	resplit := SplitRegisterList(available, device.Limits(), false)
	for _, nr := range resplit {
		nr.Status = StatusOK
	}
	return resplit, nil
}

// WriteRegister is the single entry point for writing one register. It
// stages every touched word into the device's pending cache,
// issues the resulting request(s) in most-significant-word-first order, and
// promotes pending into committed only if every request succeeds;
// otherwise pending is discarded so a half-applied write never lingers.
func WriteRegister(port Port, device *Device, r *Register, value uint64, timeouts Timeouts) *Error {
	device.DismissPendingCache()

	pdus, cerr := ComposeWriteRequests(r, value, device.Shift)
	if cerr != nil {
		device.Pending.Clear()
		return cerr
	}

	for _, pdu := range pdus {
		resp, terr := doTransaction(port, device.SlaveID, pdu, timeouts)
		if terr != nil {
			device.Pending.Clear()
			return terr
		}
		if resp.FuncCode&exceptionBit != 0 {
			device.Pending.Clear()
			if len(resp.Data) < 1 {
				return transientf("short exception response")
			}
			return ExceptionToError(resp.Data[0])
		}
	}

	device.Committed.PromoteFrom(device.Pending)
	return nil
}
