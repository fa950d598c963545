// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rpc dispatches a write command to the port that owns the named
// device: given a device name, a channel name and a value, it finds the
// right scheduler and issues the write under that port's arbitration.
package rpc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ElenaSavch/wb-mqtt-serial/modbus"
)

// PortWriter is the subset of scheduler.Scheduler the handler needs: the
// ability to write one channel and report which devices it owns. Defined
// here so the handler depends only on these two methods.
type PortWriter interface {
	HasDevice(deviceName string) bool
	WriteChannel(ctx context.Context, deviceName, channelName string, value uint64) *modbus.Error
}

// Handler routes a write command to the Scheduler that owns its device.
type Handler struct {
	ports []PortWriter
}

// NewHandler builds a Handler over every configured port.
func NewHandler(ports []PortWriter) *Handler {
	return &Handler{ports: ports}
}

// HandleWrite implements mqttpub.WriteHandler: it parses rawValue as an
// unsigned integer (the register's raw wire representation; scale/offset
// are a publish-time concern, not a write-time one) and dispatches to the
// owning port.
func (h *Handler) HandleWrite(deviceName, channelName, rawValue string) error {
	value, err := strconv.ParseUint(rawValue, 10, 64)
	if err != nil {
		return fmt.Errorf("rpc: invalid value %q for %s/%s: %w", rawValue, deviceName, channelName, err)
	}

	for _, port := range h.ports {
		if !port.HasDevice(deviceName) {
			continue
		}
		if werr := port.WriteChannel(context.Background(), deviceName, channelName, value); werr != nil {
			return fmt.Errorf("rpc: write %s/%s: %w", deviceName, channelName, werr)
		}
		return nil
	}
	return fmt.Errorf("rpc: unknown device %q", deviceName)
}
