// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValidDocument(t *testing.T) {
	path := writeTempConfig(t, `
ports:
  - name: bus-1
    transport: serial
    path: /dev/ttyUSB0
    baud_rate: 9600
    devices:
      - name: meter-1
        slave_id: 1
        registers:
          - name: voltage
            reg_type: holding
            address: 0
            bit_width: 16
            poll_interval: 1s
mqtt:
  broker: tcp://localhost:1883
  client_id: test-client
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Ports) != 1 || len(cfg.Ports[0].Devices) != 1 {
		t.Fatalf("unexpected config shape: %+v", cfg)
	}
	if cfg.Ports[0].Devices[0].Registers[0].RegType != "holding" {
		t.Fatalf("got reg_type %q, want holding", cfg.Ports[0].Devices[0].Registers[0].RegType)
	}
}

func TestLoadRejectsUnknownRegType(t *testing.T) {
	path := writeTempConfig(t, `
ports:
  - name: bus-1
    devices:
      - name: meter-1
        slave_id: 1
        registers:
          - name: voltage
            reg_type: bogus
            address: 0
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown reg_type")
	}
}

func TestLoadAppliesPortDefaults(t *testing.T) {
	path := writeTempConfig(t, `
ports:
  - name: bus-1
    path: /dev/ttyUSB0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Ports[0]
	if p.BaudRate != 9600 || p.DataBits != 8 || p.StopBits != 1 {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if p.ResponseTimeout == 0 || p.FrameTimeout == 0 || p.RequestDelay == 0 {
		t.Fatalf("timeout defaults not applied: %+v", p)
	}
}
