// Command livewatch opens a live watch session on an incident: it follows
// the event stream, prints the derived map overlay as it changes, and can
// optionally capture and relay live media for the same incident.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jifi-app/livewatch/internal/config"
	"github.com/jifi-app/livewatch/internal/overlay"
	"github.com/jifi-app/livewatch/internal/relay"
	"github.com/jifi-app/livewatch/internal/session"
)

func main() {
	incidentID := flag.String("incident", "demo", "incident id to watch")
	viewerID := flag.String("viewer", "", "viewer identity (random when empty)")
	broadcast := flag.Bool("broadcast", false, "capture and relay live media while watching")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.New(session.Config{
		EventsURL:    cfg.Watch.EventsURL,
		StreamURL:    cfg.Watch.StreamURL,
		DialTimeout:  cfg.Watch.DialTimeout,
		WriteTimeout: cfg.Watch.WriteTimeout,
		QueueDepth:   cfg.Relay.QueueDepth,
		IncidentID:   *incidentID,
		ViewerID:     *viewerID,
		NewSource:    sourceFactory(cfg.Relay),
		OnMarkers:    markerPrinter(logger),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init watch session")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(ctx) }()

	if *broadcast {
		if err := sess.StartBroadcast(); err != nil && !errors.Is(err, session.ErrSessionClosed) {
			logger.Error().Err(err).Msg("start broadcast")
		}
	}

	if err := <-errCh; err != nil {
		logger.Fatal().Err(err).Msg("watch session failed")
	}
}

// sourceFactory picks the capture source: a pre-recorded file when
// configured, the synthetic test pattern otherwise.
func sourceFactory(cfg config.RelayConfig) relay.SourceFactory {
	return func() relay.MediaSource {
		if cfg.SourceFile != "" {
			return relay.NewFileSource(cfg.SourceFile, cfg.ChunkInterval, cfg.ChunkSize)
		}
		return relay.NewSyntheticSource(cfg.ChunkInterval, cfg.ChunkSize)
	}
}

func markerPrinter(logger zerolog.Logger) func([]overlay.Marker) {
	return func(markers []overlay.Marker) {
		ev := logger.Info().Int("markers", len(markers))
		arr := zerolog.Arr()
		for _, m := range markers {
			arr.Str(m.Label)
		}
		ev.Array("labels", arr).Msg("overlay updated")
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
