// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial implements modbus.Port over an already-opened serial line,
// via grid-x/serial.
package serial

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// Port wraps a grid-x/serial connection behind modbus.Port. It owns no
// Modbus framing knowledge: WriteBytes/ReadFrame move bytes, nothing more.
type Port struct {
	cfg serial.Config

	mu           sync.Mutex
	conn         io.ReadWriteCloser
	lastInteract time.Time
}

// Open dials the serial line described by cfg.
func Open(cfg serial.Config) (*Port, error) {
	conn, err := serial.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("serial: could not open %s: %w", cfg.Address, err)
	}
	return &Port{cfg: cfg, conn: conn}, nil
}

// WriteBytes implements modbus.Port.
func (p *Port) WriteBytes(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.conn.Write(buf); err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	p.lastInteract = time.Now()
	return nil
}

// ReadFrame implements modbus.Port by reading one byte at a time and
// re-checking complete after every byte, leaving length inference to an
// externally supplied predicate so the RTU framer owns that decision.
func (p *Port) ReadFrame(buf []byte, totalTimeout, frameTimeout time.Duration, complete func([]byte) bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(totalTimeout)
	one := make([]byte, 1)
	n := 0

	for {
		if time.Now().After(deadline) {
			p.lastInteract = time.Now()
			return n, nil
		}
		remaining := time.Until(deadline)
		frameWait := frameTimeout
		if frameWait > remaining {
			frameWait = remaining
		}
		if err := p.conn.(deadliner).SetReadDeadline(time.Now().Add(frameWait)); err != nil {
			return n, fmt.Errorf("serial: set read deadline: %w", err)
		}

		m, err := p.conn.Read(one)
		if err != nil {
			if isTimeout(err) {
				if n == 0 {
					continue
				}
				p.lastInteract = time.Now()
				return n, nil
			}
			return n, fmt.Errorf("serial: read: %w", err)
		}
		if m == 0 {
			continue
		}
		if n >= len(buf) {
			return n, fmt.Errorf("serial: response exceeds buffer of %d bytes", len(buf))
		}
		buf[n] = one[0]
		n++

		if complete(buf[:n]) {
			p.lastInteract = time.Now()
			return n, nil
		}
	}
}

// SkipNoise implements modbus.Port.
func (p *Port) SkipNoise(frameTimeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	discard := make([]byte, 256)
	for {
		if err := p.conn.(deadliner).SetReadDeadline(time.Now().Add(frameTimeout)); err != nil {
			return fmt.Errorf("serial: set read deadline: %w", err)
		}
		_, err := p.conn.Read(discard)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return fmt.Errorf("serial: skip noise: %w", err)
		}
	}
}

// SleepSinceLastInteraction implements modbus.Port, enforcing the
// inter-frame guard interval before the next request goes out.
func (p *Port) SleepSinceLastInteraction(minGap time.Duration) {
	p.mu.Lock()
	last := p.lastInteract
	p.mu.Unlock()

	if last.IsZero() {
		return
	}
	if wait := minGap - time.Since(last); wait > 0 {
		time.Sleep(wait)
	}
}

// Close implements modbus.Port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

// deadliner is implemented by grid-x/serial's port type; asserted rather
// than imported directly since the library exposes it only on the
// concrete type, not io.ReadWriteCloser.
type deadliner interface {
	SetReadDeadline(time.Time) error
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
