// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// cacheKey identifies a single 16-bit word slot in a device's write-through
// cache via a (type, word_address) composite key.
type cacheKey struct {
	t    RegisterType
	addr uint16
}

// WriteCache is the device's write-through cache (WC): the last 16-bit word
// value observed on reads or staged/committed by writes. A device owns two
// instances, Committed and Pending; this type implements one side of
// that split.
type WriteCache struct {
	words map[cacheKey]uint16
}

// NewWriteCache allocates an empty cache.
func NewWriteCache() *WriteCache {
	return &WriteCache{words: make(map[cacheKey]uint16)}
}

// Get returns the cached word and whether it was present.
func (c *WriteCache) Get(t RegisterType, addr uint16) (uint16, bool) {
	v, ok := c.words[cacheKey{t, addr}]
	return v, ok
}

// Set stores a word value.
func (c *WriteCache) Set(t RegisterType, addr uint16, value uint16) {
	c.words[cacheKey{t, addr}] = value
}

// Clear discards all staged entries. Used when a write fails and before
// composing a fresh write (see Device.DismissPendingCache).
func (c *WriteCache) Clear() {
	c.words = make(map[cacheKey]uint16)
}

// PromoteFrom copies every entry of pending into c and then clears pending,
// completing the two-stage commit.
func (c *WriteCache) PromoteFrom(pending *WriteCache) {
	for k, v := range pending.words {
		c.words[k] = v
	}
	pending.Clear()
}
