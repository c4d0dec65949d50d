package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"autojs-hub/agent/internal/command"
	"autojs-hub/agent/internal/config"
	"autojs-hub/agent/internal/device"
	"autojs-hub/agent/internal/logger"
	"autojs-hub/agent/internal/service"
)

func main() {
	cfgPath := flag.String("config", "", "path to the agent YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("load config")
	}
	log, err := logger.Init(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("open log file")
	}
	log = log.With().Str("device", cfg.DeviceCode).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &device.Client{
		BaseURL:       cfg.BackendURL,
		DeviceCode:    cfg.DeviceCode,
		Certificate:   cfg.Certificate,
		AutoJsVersion: cfg.AutoJsVersion,
		HTTP:          &http.Client{},
	}
	registry := command.NewRegistry()
	manager := command.NewManager(registry, client, log)
	command.RegisterDefaults(registry, manager, cfg.ScriptDuration)

	runner := &service.Runner{
		Client:      client,
		Manager:     manager,
		Log:         log,
		PollTimeout: cfg.PollTimeout,
		MinBackoff:  cfg.MinBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
	log.Info().Str("backend", cfg.BackendURL).Msg("agent started")
	go func() {
		<-ctx.Done()
		if n := manager.Stop(); n > 0 {
			log.Info().Int("scripts", n).Msg("stopping running scripts")
		}
	}()
	if err := runner.Run(ctx); err != nil {
		log.Error().Err(err).Msg("agent stopped")
	}
	log.Info().Msg("agent shut down")
}
