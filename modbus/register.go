// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "time"

// Register is a logical register descriptor: an immutable configuration
// plus mutable status. It is owned exclusively by its Device; a
// RegisterRange only borrows it.
type Register struct {
	// Name identifies the register for logging and MQTT topic derivation.
	Name string

	Type RegisterType

	// Address is the Modbus word address (0..65535 logical; Device.Shift
	// is added before wire encoding).
	Address uint16

	// BitOffset and BitWidth describe the window into one or more 16-bit
	// words this register represents. Bit types always have BitWidth 1.
	BitOffset uint
	BitWidth  uint

	// PollInterval is the cadence at which the register's range is
	// re-read. Zero is kept as is; no device- or port-level interval is
	// substituted. The planner groups zero-interval registers together and
	// the scheduler re-reads their ranges on every tick.
	PollInterval time.Duration

	// UnsupportedValue, if non-nil, is a sentinel: a read returning this
	// exact value marks the register unavailable instead of publishing it.
	UnsupportedValue *uint64

	ReadOnly bool
	Poll     bool

	// device is a non-owning back-reference used by the PDU codec to
	// reach the write-through cache without Register owning its Device
	// (breaking the cycle noted in ).
	device *Device

	// Mutable status.
	Available bool
	LastValue uint64
	ErrorFlag bool
}

// WordWidth returns ceil((BitOffset+BitWidth)/16), the number of 16-bit
// words this register's bit window spans.
func (r *Register) WordWidth() int {
	total := r.BitOffset + r.BitWidth
	return int((total + 15) / 16)
}

// BitWidthOf returns the register's declared bit width.
func (r *Register) BitWidthOf() uint {
	return r.BitWidth
}

// SetValue records a freshly-read value and clears the error flag: the
// only place Available/ErrorFlag are cleared back to a known-good state.
func (r *Register) SetValue(v uint64) {
	r.LastValue = v
	r.Available = true
	r.ErrorFlag = false
}

// SetError marks the register as having failed its most recent read or
// write, without touching Available (callers decide separately whether the
// register is still considered present on the bus).
func (r *Register) SetError() {
	r.ErrorFlag = true
}

// SetAvailable updates the availability flag directly, used by one-by-one
// recovery and unsupported-value detection.
func (r *Register) SetAvailable(available bool) {
	r.Available = available
}

// Device returns the owning device, or nil if the register has not yet
// been attached to one.
func (r *Register) Device() *Device {
	return r.device
}

// AttachDevice sets the back-reference. Called once by Device.AddRegister.
func (r *Register) AttachDevice(d *Device) {
	r.device = d
}

// WireAddress returns the register's address with the device's configured
// shift applied.
func (r *Register) WireAddress() uint16 {
	shift := 0
	if r.device != nil {
		shift = r.device.Shift
	}
	return uint16(int(r.Address) + shift)
}
