// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the daemon's hierarchical port/device/register
// configuration document via viper and mapstructure.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level document.
type Config struct {
	Ports []PortConfig `mapstructure:"ports"`
	MQTT  MQTTConfig   `mapstructure:"mqtt"`
	Log   LogConfig    `mapstructure:"log"`
}

// LogConfig controls the slog handler set up at startup.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`
}

// PortConfig describes one serial or TCP endpoint and the devices
// multiplexed on it.
type PortConfig struct {
	Name string `mapstructure:"name"`

	// Transport selects the concrete modbus.Port implementation: "serial"
	// or "tcp". Serial fields are ignored for "tcp" and vice versa.
	Transport string `mapstructure:"transport"`

	// Serial transport.
	Path     string `mapstructure:"path"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`

	// TCP transport.
	Address string `mapstructure:"address"`

	// Wire timings.
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	FrameTimeout    time.Duration `mapstructure:"frame_timeout"`
	RequestDelay    time.Duration `mapstructure:"request_delay"`
	DeviceTimeout   time.Duration `mapstructure:"device_timeout"`

	EnableHoles bool `mapstructure:"enable_holes"`

	Devices []DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig describes one slave on a port.
type DeviceConfig struct {
	Name    string `mapstructure:"name"`
	SlaveID int    `mapstructure:"slave_id"`
	Shift   int    `mapstructure:"shift"`

	MaxReadRegisters int `mapstructure:"max_read_registers"`
	MaxRegHole       int `mapstructure:"max_reg_hole"`
	MaxBitHole       int `mapstructure:"max_bit_hole"`

	Setup     []SetupItemConfig `mapstructure:"setup"`
	Registers []RegisterConfig  `mapstructure:"registers"`
}

// SetupItemConfig is one entry of a device's startup write sequence.
type SetupItemConfig struct {
	Register string `mapstructure:"register"`
	Value    uint64 `mapstructure:"value"`
}

// RegisterConfig describes one channel's register configuration.
// Scale/offset/round_to are channel-layer concerns applied above the
// protocol core, at publish time.
type RegisterConfig struct {
	Name    string `mapstructure:"name"`
	RegType string `mapstructure:"reg_type"`

	Address   uint16 `mapstructure:"address"`
	BitOffset uint   `mapstructure:"bit_offset"`
	BitWidth  uint   `mapstructure:"bit_width"`

	PollInterval time.Duration `mapstructure:"poll_interval"`

	UnsupportedValue *uint64 `mapstructure:"unsupported_value"`
	ReadOnly         bool    `mapstructure:"read_only"`
	Poll             *bool   `mapstructure:"poll"`

	Scale    float64 `mapstructure:"scale"`
	Offset   float64 `mapstructure:"offset"`
	RoundTo  float64 `mapstructure:"round_to"`
}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RegisterTypes this document's reg_type strings resolve to.
var registerTypes = map[string]string{
	"holding":        "holding",
	"holding_single": "holding_single",
	"holding_multi":  "holding_multi",
	"input":          "input",
	"coil":           "coil",
	"discrete":       "discrete",
}

// Flags registers the command-line flags Load understands.
func Flags(fs *pflag.FlagSet) *string {
	return fs.String("config", "", "path to the configuration file")
}

// Load reads and validates the configuration document at path (or the
// default search locations if path is empty). A malformed
// document or an invalid reg_type is a Fatal configuration error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wb-mqtt-serial")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/wb-mqtt-serial/")
		v.AddConfigPath("$HOME/.wb-mqtt-serial")
		v.AddConfigPath(".")
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("mqtt.client_id", "wb-mqtt-serial-go")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Ports {
		p := &cfg.Ports[i]
		fixupPort(p)
		for j := range p.Devices {
			for _, r := range p.Devices[j].Registers {
				if _, ok := registerTypes[strings.ToLower(r.RegType)]; !ok {
					return nil, fmt.Errorf("device %q: unknown reg_type %q for register %q", p.Devices[j].Name, r.RegType, r.Name)
				}
			}
		}
	}

	return &cfg, nil
}

func fixupPort(p *PortConfig) {
	p.Parity = strings.ToUpper(p.Parity)
	if p.Transport == "" {
		p.Transport = "serial"
	}
	if p.ResponseTimeout == 0 {
		p.ResponseTimeout = 500 * time.Millisecond
	}
	if p.FrameTimeout == 0 {
		p.FrameTimeout = 50 * time.Millisecond
	}
	if p.RequestDelay == 0 {
		p.RequestDelay = 20 * time.Millisecond
	}
	if p.DeviceTimeout == 0 {
		p.DeviceTimeout = 10 * time.Second
	}
	if p.BaudRate == 0 {
		p.BaudRate = 9600
	}
	if p.DataBits == 0 {
		p.DataBits = 8
	}
	if p.StopBits == 0 {
		p.StopBits = 1
	}
}
