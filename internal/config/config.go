package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centralises every runtime setting so the rest of the codebase can remain
// deterministic and easy to test. All fields can be overridden using environment
// variables.
type Config struct {
	AppName   string          `env:"APP_NAME" envDefault:"livewatch"`
	Env       string          `env:"APP_ENV" envDefault:"development"`
	LogLevel  string          `env:"LOG_LEVEL" envDefault:"info"`
	Watch     WatchConfig     `envPrefix:"WATCH_"`
	Relay     RelayConfig     `envPrefix:"RELAY_"`
	Simulator SimulatorConfig `envPrefix:"SIM_"`
}

// WatchConfig controls the event-stream connection of a watch session.
type WatchConfig struct {
	// EventsURL is the websocket endpoint serving the incident event stream.
	EventsURL string `env:"EVENTS_URL" envDefault:"ws://localhost:8081/ws/watch"`
	// StreamURL is the base websocket endpoint accepting live media chunks.
	// The stream key (incident_<id>) is appended as the last path segment.
	StreamURL    string        `env:"STREAM_URL" envDefault:"ws://localhost:8081/ws/stream"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
}

// RelayConfig controls the live capture relay.
type RelayConfig struct {
	// ChunkInterval is the time slice of media encoded into one chunk.
	ChunkInterval time.Duration `env:"CHUNK_INTERVAL" envDefault:"250ms"`
	// QueueDepth bounds the outbound chunk queue; chunks produced while the
	// queue is full are dropped, never buffered beyond this depth.
	QueueDepth int `env:"QUEUE_DEPTH" envDefault:"8"`
	// SourceFile, when set, streams a pre-recorded media file instead of the
	// synthetic test pattern.
	SourceFile string `env:"SOURCE_FILE"`
	// ChunkSize is the slice size used by the file-backed source.
	ChunkSize int `env:"CHUNK_SIZE" envDefault:"16384"`
}

// SimulatorConfig controls the development event-stream simulator.
type SimulatorConfig struct {
	Address      string        `env:"ADDRESS" envDefault:":8081"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	// ScenarioFile points at a JSON scenario; empty selects the built-in demo.
	ScenarioFile string `env:"SCENARIO_FILE"`
}

// Load reads configuration from the environment, applying defaults defined above.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
