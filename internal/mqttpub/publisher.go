// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mqttpub publishes channel values and subscribes to write
// commands over MQTT, grounded on fisaks-uhn's internal/mqtt package
// (eclipse/paho.mqtt.golang), generalized from a single retained catalog
// message to one retained message per channel.
package mqttpub

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ElenaSavch/wb-mqtt-serial/internal/config"
)

// WriteHandler is the RPC path a Publisher forwards decoded "/on"
// commands to.
type WriteHandler interface {
	HandleWrite(deviceName, channelName, rawValue string) error
}

// Publisher implements scheduler.Publisher over an MQTT broker connection.
type Publisher struct {
	client   mqtt.Client
	clientID string
	handler  WriteHandler
}

// Connect dials the configured broker and returns the connection error to
// the caller instead of only logging it, since a daemon with no MQTT
// publishing has nothing useful to do. If the attempt has not completed
// within ten seconds, Connect returns the Publisher without an error and
// the client keeps retrying in the background.
func Connect(cfg config.MQTTConfig, handler WriteHandler) (*Publisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", tok.Error())
	}

	return &Publisher{client: client, clientID: cfg.ClientID, handler: handler}, nil
}

func (p *Publisher) valueTopic(device, channel string) string {
	return fmt.Sprintf("%s/devices/%s/controls/%s", p.clientID, device, channel)
}

func (p *Publisher) errorTopic(device, channel string) string {
	return fmt.Sprintf("%s/devices/%s/controls/%s/meta/error", p.clientID, device, channel)
}

func (p *Publisher) commandTopic(device, channel string) string {
	return fmt.Sprintf("%s/devices/%s/controls/%s/on", p.clientID, device, channel)
}

// PublishValue publishes a channel's current value as a retained message.
func (p *Publisher) PublishValue(device, channel string, value float64) error {
	payload := strconv.FormatFloat(value, 'g', -1, 64)
	tok := p.client.Publish(p.valueTopic(device, channel), 1, true, payload)
	tok.Wait()
	return tok.Error()
}

// PublishError publishes a channel's error-state transition as a
// non-retained message.
func (p *Publisher) PublishError(device, channel string, errored bool) error {
	payload := "0"
	if errored {
		payload = "1"
	}
	tok := p.client.Publish(p.errorTopic(device, channel), 1, false, payload)
	tok.Wait()
	return tok.Error()
}

// Subscribe registers the "/on" command handler for one channel: decoded
// commands are forwarded to the RPC path.
func (p *Publisher) Subscribe(device, channel string) error {
	topic := p.commandTopic(device, channel)
	tok := p.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := p.handler.HandleWrite(device, channel, string(msg.Payload())); err != nil {
			slog.Error("write command failed", "device", device, "channel", channel, "err", err)
		}
	})
	tok.Wait()
	return tok.Error()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
