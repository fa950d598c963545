// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package scheduler runs a goroutine per configured port: it polls that
// port's devices on a ticker and arbitrates access with the RPC write path
// via a weighted semaphore of weight one.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ElenaSavch/wb-mqtt-serial/internal/config"
	"github.com/ElenaSavch/wb-mqtt-serial/modbus"
	"github.com/ElenaSavch/wb-mqtt-serial/transport/serial"
	"github.com/ElenaSavch/wb-mqtt-serial/transport/tcp"
	grserial "github.com/grid-x/serial"
)

// Publisher is the channel-value sink a Scheduler republishes to. Defined
// here, not imported from the mqtt package, so the scheduler depends only
// on the shape it needs.
type Publisher interface {
	PublishValue(device, channel string, value float64) error
	PublishError(device, channel string, errored bool) error
}

// channel binds a register to the config fields the protocol core itself
// doesn't carry: its display name and the scale/offset/round_to transform
// applied before publishing.
type channel struct {
	device  *modbus.Device
	reg     *modbus.Register
	name    string
	scale   float64
	offset  float64
	roundTo float64

	lastPublishedValue uint64
	lastErrored        bool
	everPublished      bool
}

// rangeKey identifies a range across re-splits well enough to track its
// own polling cadence independently from its siblings.
type rangeKey struct {
	device int
	typ    modbus.RegisterType
	start  uint16
}

// Scheduler owns one Port and every device multiplexed on it.
type Scheduler struct {
	name     string
	cfg      config.PortConfig
	port     modbus.Port
	devices  []*modbus.Device
	timeouts modbus.Timeouts
	enable   bool

	sem *semaphore.Weighted

	channels  []*channel
	byChannel map[string]*channel // "device/channel" -> channel

	lastRead map[rangeKey]time.Time
	tick     time.Duration

	pub Publisher
}

// NewFromConfig builds a Scheduler and its Port from one port's
// configuration.
func NewFromConfig(pcfg config.PortConfig, pub Publisher) (*Scheduler, error) {
	port, err := openPort(pcfg)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		name: pcfg.Name,
		cfg:  pcfg,
		port: port,
		timeouts: modbus.Timeouts{
			ResponseTimeout: pcfg.ResponseTimeout,
			FrameTimeout:    pcfg.FrameTimeout,
			RequestDelay:    pcfg.RequestDelay,
		},
		enable:    pcfg.EnableHoles,
		sem:       semaphore.NewWeighted(1),
		byChannel: make(map[string]*channel),
		lastRead:  make(map[rangeKey]time.Time),
		pub:       pub,
	}

	minInterval := time.Duration(0)
	for _, dcfg := range pcfg.Devices {
		device := modbus.NewDevice(dcfg.Name, byte(dcfg.SlaveID))
		device.Shift = dcfg.Shift
		device.MaxReadRegisters = dcfg.MaxReadRegisters
		device.MaxRegHole = dcfg.MaxRegHole
		device.MaxBitHole = dcfg.MaxBitHole

		byName := make(map[string]*modbus.Register, len(dcfg.Registers))
		for _, rcfg := range dcfg.Registers {
			rt, err := registerType(rcfg.RegType)
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", dcfg.Name, err)
			}
			reg := &modbus.Register{
				Name:             rcfg.Name,
				Type:             rt,
				Address:          rcfg.Address,
				BitOffset:        rcfg.BitOffset,
				BitWidth:         effectiveBitWidth(rt, rcfg.BitWidth),
				PollInterval:     rcfg.PollInterval,
				UnsupportedValue: rcfg.UnsupportedValue,
				ReadOnly:         rcfg.ReadOnly,
				Poll:             rcfg.Poll == nil || *rcfg.Poll,
			}
			device.AddRegister(reg)
			byName[rcfg.Name] = reg

			ch := &channel{
				device: device, reg: reg, name: rcfg.Name,
				scale: orDefault(rcfg.Scale, 1), offset: rcfg.Offset, roundTo: rcfg.RoundTo,
			}
			s.channels = append(s.channels, ch)
			s.byChannel[dcfg.Name+"/"+rcfg.Name] = ch

			if reg.PollInterval > 0 && (minInterval == 0 || reg.PollInterval < minInterval) {
				minInterval = reg.PollInterval
			}
		}

		for _, item := range dcfg.Setup {
			reg, ok := byName[item.Register]
			if !ok {
				return nil, fmt.Errorf("device %q: setup references unknown register %q", dcfg.Name, item.Register)
			}
			device.AddSetupItem(modbus.SetupItem{Register: reg, Value: item.Value})
		}

		device.Replan(s.enable)
		s.devices = append(s.devices, device)
	}

	if minInterval == 0 {
		minInterval = time.Second
	}
	s.tick = minInterval
	return s, nil
}

func openPort(pcfg config.PortConfig) (modbus.Port, error) {
	switch pcfg.Transport {
	case "tcp":
		return tcp.Dial(pcfg.Address, pcfg.ResponseTimeout)
	default:
		cfg := grserial.Config{
			Address:  pcfg.Path,
			BaudRate: pcfg.BaudRate,
			DataBits: pcfg.DataBits,
			Parity:   pcfg.Parity,
			StopBits: pcfg.StopBits,
		}
		return serial.Open(cfg)
	}
}

func registerType(name string) (modbus.RegisterType, error) {
	switch name {
	case "holding":
		return modbus.Holding, nil
	case "holding_single":
		return modbus.HoldingSingle, nil
	case "holding_multi":
		return modbus.HoldingMulti, nil
	case "input":
		return modbus.Input, nil
	case "coil":
		return modbus.Coil, nil
	case "discrete":
		return modbus.Discrete, nil
	default:
		return 0, fmt.Errorf("unknown reg_type %q", name)
	}
}

func effectiveBitWidth(t modbus.RegisterType, configured uint) uint {
	if t == modbus.Coil || t == modbus.Discrete {
		return 1
	}
	if configured == 0 {
		return 16
	}
	return configured
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// Run starts the port's setup sequences and then polls forever until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for _, d := range s.devices {
		s.runSetupWithRetry(ctx, d)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.port.Close()
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

// runSetupWithRetry runs a device's setup sequence, retrying on the
// configured device_timeout cadence until it succeeds or ctx is done. Run
// calls it for one device after another before polling starts, so while a
// device's setup keeps failing, the devices after it and the port's
// polling wait.
func (s *Scheduler) runSetupWithRetry(ctx context.Context, d *modbus.Device) {
	for {
		if s.sem.TryAcquire(1) {
			ok := modbus.RunSetup(s.port, d, s.timeouts)
			s.sem.Release(1)
			if ok {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.DeviceTimeout):
		}
	}
}

// pollOnce walks every device's ranges whose poll interval has elapsed,
// issues the read, and folds the outcome back into the device's ranges.
func (s *Scheduler) pollOnce() {
	if !s.sem.TryAcquire(1) {
		slog.Debug("poll tick skipped: port held by rpc path", "port", s.name)
		return
	}
	defer s.sem.Release(1)

	for di, d := range s.devices {
		var nextRanges []*modbus.RegisterRange
		for _, rr := range d.Ranges() {
			key := rangeKey{device: di, typ: rr.Type, start: rr.Start}
			interval := time.Duration(rr.PollInterval)
			if interval > 0 {
				if last, ok := s.lastRead[key]; ok && time.Since(last) < interval {
					nextRanges = append(nextRanges, rr)
					continue
				}
			}

			resplit, err := modbus.ReadRange(s.port, d, rr, s.timeouts)
			if err != nil {
				slog.Error("range read aborted by fatal error", "port", s.name, "device", d.Name, "err", err)
				nextRanges = append(nextRanges, rr)
				continue
			}
			s.lastRead[key] = time.Now()
			for _, nr := range resplit {
				nextRanges = append(nextRanges, nr)
			}
		}
		d.SetRanges(nextRanges)
	}

	s.republishChanged()
}

// republishChanged sends every channel whose value or error state changed
// since the last tick to the Publisher.
func (s *Scheduler) republishChanged() {
	for _, ch := range s.channels {
		reg := ch.reg
		if reg.ErrorFlag != ch.lastErrored {
			ch.lastErrored = reg.ErrorFlag
			if s.pub != nil {
				if err := s.pub.PublishError(ch.device.Name, ch.name, reg.ErrorFlag); err != nil {
					slog.Error("publish error flag failed", "device", ch.device.Name, "channel", ch.name, "err", err)
				}
			}
		}
		if !reg.Available {
			continue
		}
		if ch.everPublished && reg.LastValue == ch.lastPublishedValue {
			continue
		}
		ch.lastPublishedValue = reg.LastValue
		ch.everPublished = true
		if s.pub == nil {
			continue
		}
		value := applyScale(reg.LastValue, ch.scale, ch.offset, ch.roundTo)
		if err := s.pub.PublishValue(ch.device.Name, ch.name, value); err != nil {
			slog.Error("publish value failed", "device", ch.device.Name, "channel", ch.name, "err", err)
		}
	}
}

func applyScale(raw uint64, scale, offset, roundTo float64) float64 {
	v := float64(raw)*scale + offset
	if roundTo > 0 {
		v = math.Round(v/roundTo) * roundTo
	}
	return v
}

// WriteChannel implements the RPC path's write entry point: it acquires
// the port's semaphore for the duration of one write transaction, never
// preempting a poll tick in progress.
func (s *Scheduler) WriteChannel(ctx context.Context, deviceName, channelName string, value uint64) *modbus.Error {
	ch, ok := s.byChannel[deviceName+"/"+channelName]
	if !ok {
		return &modbus.Error{Kind: modbus.ErrKindFatal, Msg: fmt.Sprintf("unknown channel %s/%s", deviceName, channelName)}
	}
	if ch.reg.ReadOnly {
		return &modbus.Error{Kind: modbus.ErrKindFatal, Msg: fmt.Sprintf("channel %s/%s is read-only", deviceName, channelName)}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return &modbus.Error{Kind: modbus.ErrKindTransient, Msg: err.Error()}
	}
	defer s.sem.Release(1)

	return modbus.WriteRegister(s.port, ch.device, ch.reg, value, s.timeouts)
}

// HasDevice reports whether deviceName is multiplexed on this port.
func (s *Scheduler) HasDevice(deviceName string) bool {
	for _, d := range s.devices {
		if d.Name == deviceName {
			return true
		}
	}
	return false
}

// SetPublisher attaches the Publisher a Scheduler republishes changed
// channel values to. Split from construction because the MQTT connection
// is wired up only after every port's devices/channels are known, which
// main needs in order to build the RPC handler first.
func (s *Scheduler) SetPublisher(pub Publisher) {
	s.pub = pub
}

// Devices returns the port's devices, for subscription setup.
func (s *Scheduler) Devices() []*modbus.Device {
	return s.devices
}

// Channels returns the names of every channel declared on device.
func (s *Scheduler) Channels(deviceName string) []string {
	var names []string
	for _, ch := range s.channels {
		if ch.device.Name == deviceName {
			names = append(names, ch.name)
		}
	}
	return names
}
