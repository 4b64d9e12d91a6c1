// Command livewatch-sim runs the development event-stream simulator: a
// websocket hub that replays a scripted incident scenario to every watcher
// and sinks live media chunks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jifi-app/livewatch/internal/config"
	"github.com/jifi-app/livewatch/internal/simulator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg)

	scenario := simulator.DemoScenario()
	if cfg.Simulator.ScenarioFile != "" {
		scenario, err = simulator.LoadScenario(cfg.Simulator.ScenarioFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("load scenario")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := simulator.New(cfg.Simulator, scenario, logger)
	if err := hub.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("simulator stopped")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("env", cfg.Env).Str("app", cfg.AppName).Logger()
	if cfg.Env == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC822})
	}
	return logger
}
