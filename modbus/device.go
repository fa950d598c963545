// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Device owns the registers, write-through cache and derived ranges for one
// Modbus RTU slave. It holds a non-owning reference to nothing
// above it; the port scheduler owns Devices, not the reverse.
type Device struct {
	Name    string
	SlaveID byte

	// Shift is added to every register address before wire encoding
	// (`shift` device option).
	Shift int

	// MaxReadRegisters, MaxRegHole and MaxBitHole are the per-device range
	// planner overrides (). Zero MaxReadRegisters means "use the
	// protocol cap".
	MaxReadRegisters int
	MaxRegHole       int
	MaxBitHole       int

	registers []*Register
	ranges    []*RegisterRange
	setup     []SetupItem

	Committed *WriteCache
	Pending   *WriteCache
}

// NewDevice constructs a device with empty caches.
func NewDevice(name string, slaveID byte) *Device {
	return &Device{
		Name:      name,
		SlaveID:   slaveID,
		Committed: NewWriteCache(),
		Pending:   NewWriteCache(),
	}
}

// AddRegister attaches a register to the device, setting its back-reference.
func (d *Device) AddRegister(r *Register) {
	r.AttachDevice(d)
	d.registers = append(d.registers, r)
}

// Registers returns the device's registers in declaration order.
func (d *Device) Registers() []*Register {
	return d.registers
}

// AddSetupItem appends a setup item to run once at device start.
func (d *Device) AddSetupItem(item SetupItem) {
	d.setup = append(d.setup, item)
}

// SetupItems returns the device's setup sequence in declaration order.
func (d *Device) SetupItems() []SetupItem {
	return d.setup
}

// Ranges returns the device's current register ranges.
func (d *Device) Ranges() []*RegisterRange {
	return d.ranges
}

// SetRanges replaces the device's current ranges, e.g. after the planner
// runs or the transaction engine re-splits a range during recovery.
func (d *Device) SetRanges(ranges []*RegisterRange) {
	d.ranges = ranges
}

// DismissPendingCache discards any staged-but-uncommitted write values,
// called by the transaction engine before composing a new write.
func (d *Device) DismissPendingCache() {
	d.Pending.Clear()
}

// Limits returns the device's range-planner overrides.
func (d *Device) Limits() RangeLimits {
	return RangeLimits{
		MaxReadRegisters: d.MaxReadRegisters,
		MaxRegHole:       d.MaxRegHole,
		MaxBitHole:       d.MaxBitHole,
	}
}

// Replan recomputes the device's ranges from its current register list.
// enableHoles is the global switch controlling whether SplitRegisterList
// may join registers across an address gap at all.
func (d *Device) Replan(enableHoles bool) {
	d.ranges = SplitRegisterList(d.registers, d.Limits(), enableHoles)
}
