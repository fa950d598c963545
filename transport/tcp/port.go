// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements modbus.Port over a TCP socket carrying raw RTU
// ADU bytes (no MBAP header) — an "RTU over TCP" transport for serial
// devices reached through an Ethernet gateway.
package tcp

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Port wraps a dialed TCP connection behind modbus.Port.
type Port struct {
	mu           sync.Mutex
	conn         net.Conn
	lastInteract time.Time
}

// Dial connects to addr ("host:port").
func Dial(addr string, dialTimeout time.Duration) (*Port, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	return &Port{conn: conn}, nil
}

// WriteBytes implements modbus.Port.
func (p *Port) WriteBytes(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.conn.Write(buf); err != nil {
		return fmt.Errorf("tcp: write: %w", err)
	}
	p.lastInteract = time.Now()
	return nil
}

// ReadFrame implements modbus.Port. Framing is entirely the RTU framer's
// concern (package rtu); this loop only knows when to stop reading.
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
		if err := p.conn.SetReadDeadline(time.Now().Add(frameWait)); err != nil {
			return n, fmt.Errorf("tcp: set read deadline: %w", err)
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
			return n, fmt.Errorf("tcp: read: %w", err)
		}
		if m == 0 {
			continue
		}
		if n >= len(buf) {
			return n, fmt.Errorf("tcp: response exceeds buffer of %d bytes", len(buf))
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
		if err := p.conn.SetReadDeadline(time.Now().Add(frameTimeout)); err != nil {
			return fmt.Errorf("tcp: set read deadline: %w", err)
		}
		_, err := p.conn.Read(discard)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return fmt.Errorf("tcp: skip noise: %w", err)
		}
	}
}

// SleepSinceLastInteraction implements modbus.Port. A TCP-carried RTU link
// still observes the guard interval: some gateways on the far end are
// themselves serial underneath.
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

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
