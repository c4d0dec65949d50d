package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"autojs-hub/backend/config"
	"autojs-hub/backend/global"
	"autojs-hub/backend/initialize"
	"autojs-hub/backend/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; AUTOJS_* env vars apply either way")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initialize.Build(*configPath)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("build app")
	}
	log := app.Log

	if *configPath != "" {
		err := config.Watch(*configPath, func(c *config.Config) {
			lvl := initialize.SetLevel(c.Log.Level)
			log.Info().Str("level", lvl.String()).Msg("config reloaded")
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watch disabled")
		}
	}

	app.Scheduler.Start(ctx)

	srv := server.NewHTTPServer(app.Cfg.Server, app.Router)
	if err := server.Run(ctx, srv, app.Cfg.Server.ShutdownTimeout, log); err != nil {
		log.Error().Err(err).Msg("http server")
	}

	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("bye")
}
