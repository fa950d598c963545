// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "testing"

func TestDeviceReplanProducesRanges(t *testing.T) {
	d := NewDevice("dev", 1)
	d.AddRegister(&Register{Name: "a", Type: Holding, Address: 0, BitWidth: 16})
	d.AddRegister(&Register{Name: "b", Type: Holding, Address: 1, BitWidth: 16})

	d.Replan(true)
	ranges := d.Ranges()
	if len(ranges) != 1 || ranges[0].Count != 2 {
		t.Fatalf("expected one 2-word range, got %+v", ranges)
	}
}

func TestWriteCachePromoteFromClearsPending(t *testing.T) {
	committed := NewWriteCache()
	pending := NewWriteCache()
	pending.Set(Holding, 3, 0x1234)

	committed.PromoteFrom(pending)

	if v, ok := committed.Get(Holding, 3); !ok || v != 0x1234 {
		t.Fatalf("committed: got (%#04x, %v), want (0x1234, true)", v, ok)
	}
	if _, ok := pending.Get(Holding, 3); ok {
		t.Fatal("expected pending to be cleared after promotion")
	}
}

func TestDismissPendingCacheDiscardsStagedWrites(t *testing.T) {
	d := NewDevice("dev", 1)
	d.Pending.Set(Holding, 0, 0xFFFF)

	d.DismissPendingCache()

	if _, ok := d.Pending.Get(Holding, 0); ok {
		t.Fatal("expected pending cache to be empty after dismissal")
	}
}
