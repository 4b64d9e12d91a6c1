// Package simulator is the development counterpart of the watch engine: a
// websocket hub replaying scripted incident scenarios and sinking live media
// chunks, so the client side can be exercised end to end without the
// production backend.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jifi-app/livewatch/internal/config"
	"github.com/jifi-app/livewatch/internal/metrics"
	"github.com/jifi-app/livewatch/internal/protocol"
)

// Hub serves the simulated event stream and the chunk sink.
type Hub struct {
	cfg       config.SimulatorConfig
	log       zerolog.Logger
	scenario  Scenario
	upgrader  websocket.Upgrader
	startedAt time.Time
}

func New(cfg config.SimulatorConfig, scenario Scenario, log zerolog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		log:      log.With().Str("component", "simulator").Logger(),
		scenario: scenario,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Development tool: any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: time.Now().UTC(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or an
// unrecoverable error occurs.
func (h *Hub) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:        h.cfg.Address,
		Handler:     h.routes(),
		ReadTimeout: h.cfg.ReadTimeout,
		IdleTimeout: h.cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			h.log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	h.log.Info().
		Str("addr", h.cfg.Address).
		Str("scenario", h.scenario.Name).
		Msg("simulator listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Hub) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.metricsMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Get("/ws/watch", h.handleWatch)
	r.Get("/ws/stream/{key}", h.handleStream)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":   "ok",
		"scenario": h.scenario.Name,
		"uptime":   time.Since(h.startedAt).String(),
	})
}

// handleWatch upgrades a watcher connection, waits for its watchIncident
// announce, then replays the scenario retargeted at the requested incident.
func (h *Hub) handleWatch(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("watch upgrade failed")
		return
	}
	defer ws.Close()

	watch, err := h.readAnnounce(ws)
	if err != nil {
		h.log.Warn().Err(err).Msg("watcher did not announce, dropping")
		return
	}
	log := h.log.With().
		Str("incident_id", watch.IncidentID).
		Str("viewer_id", watch.ViewerID).
		Logger()
	log.Info().Msg("watcher connected")

	ctx := r.Context()
	for _, step := range h.scenario.Steps {
		if step.Delay() > 0 {
			select {
			case <-time.After(step.Delay()):
			case <-ctx.Done():
				return
			}
		}

		data, err := retarget(step, watch.IncidentID)
		if err != nil {
			log.Error().Err(err).Str("topic", step.Topic).Msg("bad scenario step, skipping")
			continue
		}
		frame, err := protocol.Encode(step.Topic, json.RawMessage(data))
		if err != nil {
			log.Error().Err(err).Str("topic", step.Topic).Msg("encoding scenario step")
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Info().Err(err).Msg("watcher gone")
			return
		}
		log.Debug().Str("topic", step.Topic).Msg("step sent")
	}

	// Scenario exhausted; hold the stream open until the watcher leaves.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			log.Info().Msg("watcher disconnected")
			return
		}
	}
}

func (h *Hub) readAnnounce(ws *websocket.Conn) (protocol.WatchRequest, error) {
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return protocol.WatchRequest{}, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	var env struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return protocol.WatchRequest{}, err
	}
	if env.Topic != protocol.TopicWatchIncident {
		return protocol.WatchRequest{}, errors.New("expected watchIncident announce")
	}
	var watch protocol.WatchRequest
	if err := json.Unmarshal(env.Data, &watch); err != nil {
		return protocol.WatchRequest{}, err
	}
	if watch.IncidentID == "" {
		return protocol.WatchRequest{}, errors.New("announce without incident id")
	}
	return watch, nil
}

// handleStream accepts a live media channel and sinks its chunks, counting
// them per stream key. Fire-and-forget: nothing is acknowledged.
func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("stream upgrade failed")
		return
	}
	defer ws.Close()

	log := h.log.With().Str("stream", key).Logger()
	log.Info().Msg("live stream connected")

	var chunks, bytes int64
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().
				Int64("chunks", chunks).
				Int64("bytes", bytes).
				Msg("live stream ended")
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		chunks++
		bytes += int64(len(data))
		metrics.SimChunksReceived.WithLabelValues(key).Inc()
	}
}

func (h *Hub) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (h *Hub) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if ctx := chi.RouteContext(r.Context()); ctx != nil {
			if pattern := ctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.SimHTTPRequestsTotal.
			WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).
			Inc()
	})
}
