// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ElenaSavch/wb-mqtt-serial/internal/config"
	"github.com/ElenaSavch/wb-mqtt-serial/internal/mqttpub"
	"github.com/ElenaSavch/wb-mqtt-serial/internal/rpc"
	"github.com/ElenaSavch/wb-mqtt-serial/internal/scheduler"
)

func main() {
	configPath := config.Flags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)
	slog.Info("starting wb-mqtt-serial")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedulers, err := buildSchedulers(cfg)
	if err != nil {
		slog.Error("failed to configure ports", "err", err)
		os.Exit(1)
	}
	if len(schedulers) == 0 {
		slog.Error("no ports configured, exiting")
		os.Exit(1)
	}

	writers := make([]rpc.PortWriter, len(schedulers))
	for i, s := range schedulers {
		writers[i] = s
	}
	handler := rpc.NewHandler(writers)

	pub, err := mqttpub.Connect(cfg.MQTT, handler)
	if err != nil {
		slog.Error("failed to connect to mqtt broker", "err", err)
		os.Exit(1)
	}
	defer pub.Close()

	for _, s := range schedulers {
		s.SetPublisher(pub)
		for _, d := range s.Devices() {
			for _, ch := range s.Channels(d.Name) {
				if err := pub.Subscribe(d.Name, ch); err != nil {
					slog.Error("failed to subscribe to command topic", "device", d.Name, "channel", ch, "err", err)
				}
			}
		}
	}

	var wg sync.WaitGroup
	for _, s := range schedulers {
		wg.Add(1)
		go func(s *scheduler.Scheduler) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	cancel()
	wg.Wait()
	slog.Info("goodbye")
}

func buildSchedulers(cfg *config.Config) ([]*scheduler.Scheduler, error) {
	var schedulers []*scheduler.Scheduler
	for _, pcfg := range cfg.Ports {
		s, err := scheduler.NewFromConfig(pcfg, nil)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", pcfg.Name, err)
		}
		schedulers = append(schedulers, s)
	}
	return schedulers, nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
