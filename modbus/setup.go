// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "log/slog"

// SetupItem is one entry of a device's one-time startup write sequence —
// typically a mode or range register a sensor needs configured before its
// regular registers can be polled.
type SetupItem struct {
	Register *Register
	Value    uint64
}

// RunSetup executes a device's setup sequence in declaration order. A
// Permanent failure on one item is logged and the sequence continues with
// the next item; a Transient (or Fatal) failure aborts the whole sequence
// and returns false, so the caller retries the device later instead of
// polling it with a setup step still outstanding.
func RunSetup(port Port, device *Device, timeouts Timeouts) bool {
	for _, item := range device.SetupItems() {
		slog.Debug("running setup item", "device", device.Name, "register", item.Register.Name, "value", item.Value)

		err := WriteRegister(port, device, item.Register, item.Value, timeouts)
		if err == nil {
			continue
		}

		if err.Kind == ErrKindPermanent {
			slog.Warn("setup item rejected by device, continuing", "device", device.Name, "register", item.Register.Name, "err", err)
			continue
		}

		slog.Error("setup sequence aborted", "device", device.Name, "register", item.Register.Name, "err", err)
		return false
	}
	return true
}
