// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "sort"

// Protocol caps on the number of registers/bits a single read PDU may
// request.
const (
	maxWordRegisters = 125
	maxBitRegisters  = 2000
)

// RangeStatus is the outcome of the most recent transaction attempted
// against a RegisterRange.
type RangeStatus int

const (
	StatusUnknownError RangeStatus = iota
	StatusOK
	StatusDeviceError
)

// RegisterRange is a contiguous read/write plan over a run of registers
// sharing type and poll interval.
type RegisterRange struct {
	Type         RegisterType
	PollInterval int64 // nanoseconds; mirrors Register.PollInterval for grouping
	Registers    []*Register

	Start uint16
	Count int

	HasHoles     bool
	ReadOneByOne bool
	Status       RangeStatus
}

// RangeLimits carries the per-device planner overrides:
// MaxReadRegisters (0 means "use the protocol cap"), MaxRegHole and
// MaxBitHole.
type RangeLimits struct {
	MaxReadRegisters int
	MaxRegHole       int
	MaxBitHole       int
}

func (l RangeLimits) capFor(t RegisterType) int {
	protocolCap := maxWordRegisters
	if t.IsBitType() {
		protocolCap = maxBitRegisters
	}
	if l.MaxReadRegisters <= 0 || l.MaxReadRegisters > protocolCap {
		return protocolCap
	}
	return l.MaxReadRegisters
}

// newRange seeds a range from its first register.
func newRange(r *Register) *RegisterRange {
	rr := &RegisterRange{
		Type:         r.Type,
		PollInterval: int64(r.PollInterval),
		Registers:    []*Register{r},
		Start:        r.Address,
	}
	rr.Count = wordExtent(r) - int(rr.Start)
	return rr
}

// wordExtent returns r.Address + r.WordWidth() (or 1 past r.Address for bit
// types, since every bit register occupies exactly one address slot).
func wordExtent(r *Register) int {
	if r.Type.IsBitType() {
		return int(r.Address) + 1
	}
	return int(r.Address) + r.WordWidth()
}

// end returns the exclusive end address of the range's current extent.
func (rr *RegisterRange) end() int {
	return int(rr.Start) + rr.Count
}

// join appends r to the range, updating Count and HasHoles. Caller must
// have already verified the join is legal via canJoin.
func (rr *RegisterRange) join(r *Register) {
	if int(r.Address) > rr.end() {
		rr.HasHoles = true
	}
	newEnd := wordExtent(r)
	if newEnd > rr.end() {
		rr.Count = newEnd - int(rr.Start)
	}
	rr.Registers = append(rr.Registers, r)
}

// SplitRegisterList coalesces an ordered register list into batches
// respecting type, poll interval, protocol size caps and hole budgets.
// The caller (typically Device construction or recovery) is expected
// to have sorted registers by (type, address); SplitRegisterList sorts
// defensively so callers cannot violate the planner's join conditions by
// accident.
func SplitRegisterList(registers []*Register, limits RangeLimits, enableHoles bool) []*RegisterRange {
	if len(registers) == 0 {
		return nil
	}

	sorted := make([]*Register, len(registers))
	copy(sorted, registers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].Address < sorted[j].Address
	})

	var ranges []*RegisterRange
	var cur *RegisterRange

	for _, r := range sorted {
		if cur != nil && canJoin(cur, r, limits, enableHoles) {
			cur.join(r)
			continue
		}
		if cur != nil {
			ranges = append(ranges, cur)
		}
		cur = newRange(r)
	}
	if cur != nil {
		ranges = append(ranges, cur)
	}
	return ranges
}

// canJoin implements the five join conditions: matching type, matching
// poll interval, no overlap with the range's current extent, the hole
// budget, and the protocol/device register cap.
func canJoin(cur *RegisterRange, r *Register, limits RangeLimits, enableHoles bool) bool {
	if r.Type != cur.Type {
		return false
	}
	if int64(r.PollInterval) != cur.PollInterval {
		return false
	}
	if int(r.Address) < cur.end() {
		return false
	}

	maxHole := 0
	if enableHoles {
		if cur.Type.IsBitType() {
			maxHole = limits.MaxBitHole
		} else {
			maxHole = limits.MaxRegHole
		}
	}
	if int(r.Address) > cur.end()+maxHole {
		return false
	}

	maxRegs := limits.capFor(cur.Type)
	newEnd := wordExtent(r)
	if newEnd-int(cur.Start) > maxRegs {
		return false
	}
	return true
}

// SplitByHoles re-splits rr into one range per contiguous run with no gaps
// (maxHole forced to 0), used by the adaptive recovery path when a
// permanent failure strikes a range that HasHoles.
func SplitByHoles(rr *RegisterRange, limits RangeLimits) []*RegisterRange {
	return SplitRegisterList(rr.Registers, limits, false)
}
