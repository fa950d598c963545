// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"testing"
	"time"
)

func mkReg(t RegisterType, addr uint16, bitWidth uint, pollInterval time.Duration) *Register {
	return &Register{Type: t, Address: addr, BitWidth: bitWidth, PollInterval: pollInterval}
}

func TestSplitRegisterListJoinsAdjacent(t *testing.T) {
	regs := []*Register{
		mkReg(Holding, 0, 16, 0),
		mkReg(Holding, 1, 16, 0),
		mkReg(Holding, 2, 16, 0),
	}
	ranges := SplitRegisterList(regs, RangeLimits{}, true)
	if len(ranges) != 1 {
		t.Fatalf("expected 1 range, got %d", len(ranges))
	}
	if ranges[0].Count != 3 {
		t.Fatalf("expected count 3, got %d", ranges[0].Count)
	}
	if ranges[0].HasHoles {
		t.Fatal("contiguous registers should not be marked as having holes")
	}
}

func TestSplitRegisterListSplitsOnTypeChange(t *testing.T) {
	regs := []*Register{
		mkReg(Holding, 0, 16, 0),
		mkReg(Input, 0, 16, 0),
	}
	ranges := SplitRegisterList(regs, RangeLimits{}, true)
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(ranges))
	}
}

func TestSplitRegisterListRespectsHoleBudget(t *testing.T) {
	regs := []*Register{
		mkReg(Holding, 0, 16, 0),
		mkReg(Holding, 5, 16, 0),
	}

	disabled := SplitRegisterList(regs, RangeLimits{}, false)
	if len(disabled) != 2 {
		t.Fatalf("holes disabled: expected 2 ranges, got %d", len(disabled))
	}

	withinBudget := SplitRegisterList(regs, RangeLimits{MaxRegHole: 10}, true)
	if len(withinBudget) != 1 {
		t.Fatalf("within hole budget: expected 1 range, got %d", len(withinBudget))
	}
	if !withinBudget[0].HasHoles {
		t.Fatal("expected HasHoles to be set")
	}

	overBudget := SplitRegisterList(regs, RangeLimits{MaxRegHole: 2}, true)
	if len(overBudget) != 2 {
		t.Fatalf("over hole budget: expected 2 ranges, got %d", len(overBudget))
	}
}

func TestSplitRegisterListRespectsProtocolCap(t *testing.T) {
	var regs []*Register
	for i := 0; i < maxWordRegisters+1; i++ {
		regs = append(regs, mkReg(Holding, uint16(i), 16, 0))
	}
	ranges := SplitRegisterList(regs, RangeLimits{}, true)
	if len(ranges) != 2 {
		t.Fatalf("expected the cap to force a second range, got %d ranges", len(ranges))
	}
	if ranges[0].Count != maxWordRegisters {
		t.Fatalf("expected first range to saturate the protocol cap, got %d", ranges[0].Count)
	}
}

func TestSplitRegisterListRespectsDeviceOverride(t *testing.T) {
	var regs []*Register
	for i := 0; i < 10; i++ {
		regs = append(regs, mkReg(Holding, uint16(i), 16, 0))
	}
	ranges := SplitRegisterList(regs, RangeLimits{MaxReadRegisters: 4}, true)
	if len(ranges) != 3 {
		t.Fatalf("expected device cap of 4 to force 3 ranges over 10 registers, got %d", len(ranges))
	}
}

func TestSplitRegisterListSeparatesByPollInterval(t *testing.T) {
	regs := []*Register{
		mkReg(Holding, 0, 16, time.Second),
		mkReg(Holding, 1, 16, 2*time.Second),
	}
	ranges := SplitRegisterList(regs, RangeLimits{}, true)
	if len(ranges) != 2 {
		t.Fatalf("expected registers with distinct poll intervals to stay in separate ranges, got %d", len(ranges))
	}
}

func TestSplitByHolesForcesOneRangePerGap(t *testing.T) {
	regs := []*Register{
		mkReg(Holding, 0, 16, 0),
		mkReg(Holding, 5, 16, 0),
		mkReg(Holding, 6, 16, 0),
	}
	joined := SplitRegisterList(regs, RangeLimits{MaxRegHole: 10}, true)
	if len(joined) != 1 {
		t.Fatalf("setup: expected registers to join into one range, got %d", len(joined))
	}

	resplit := SplitByHoles(joined[0], RangeLimits{})
	if len(resplit) != 2 {
		t.Fatalf("expected the hole to force a 2-way split, got %d", len(resplit))
	}
}
