// Package session binds one incident identity to one transport connection
// for the lifetime of a watch operation, and serializes every state mutation
// onto a single loop: inbound events and local commands alike.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jifi-app/livewatch/internal/metrics"
	"github.com/jifi-app/livewatch/internal/overlay"
	"github.com/jifi-app/livewatch/internal/protocol"
	"github.com/jifi-app/livewatch/internal/relay"
	"github.com/jifi-app/livewatch/internal/state"
	"github.com/jifi-app/livewatch/internal/transport"
)

var (
	// ErrConnectionLost reports abnormal event-stream termination. The
	// session is degraded until the caller starts a fresh one; there is no
	// automatic reconnect.
	ErrConnectionLost = errors.New("event stream connection lost")
	// ErrSessionClosed reports a command issued after the session ended.
	ErrSessionClosed = errors.New("watch session closed")
	// ErrNoMediaSource reports a broadcast attempt on a session configured
	// without a capture source.
	ErrNoMediaSource = errors.New("no media source configured")
)

// Config describes one watch session. The viewer identity is an explicit
// parameter; the engine never reaches into ambient auth state.
type Config struct {
	EventsURL    string
	StreamURL    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// QueueDepth bounds the live channel's send queue.
	QueueDepth int

	IncidentID string
	// ViewerID identifies the watching user; a random identity is generated
	// when left empty.
	ViewerID string

	// NewSource builds the capture device for broadcasting. Optional; a
	// session without one is watch-only.
	NewSource relay.SourceFactory

	// OnMarkers receives the freshly projected marker set after every state
	// change. Called from the session loop, so it must not block.
	OnMarkers func([]overlay.Marker)
}

// Controller runs one watch session. Create with New, drive with Run, stop
// with Stop or by cancelling the context handed to Run.
type Controller struct {
	cfg Config
	log zerolog.Logger

	decoder    *protocol.Decoder
	reconciler *state.Reconciler
	relay      *relay.Relay

	commands chan command
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type commandKind int

const (
	cmdStartBroadcast commandKind = iota
	cmdStopBroadcast
)

type command struct {
	kind  commandKind
	reply chan error
}

func New(cfg Config, log zerolog.Logger) (*Controller, error) {
	if cfg.IncidentID == "" {
		return nil, errors.New("session: incident id is required")
	}
	if cfg.ViewerID == "" {
		cfg.ViewerID = uuid.NewString()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}

	log = log.With().
		Str("component", "session").
		Str("incident_id", cfg.IncidentID).
		Logger()

	return &Controller{
		cfg:        cfg,
		log:        log,
		decoder:    protocol.NewDecoder(),
		reconciler: state.NewReconciler(log),
		commands:   make(chan command),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Run opens the connection, announces the watch and processes the event
// stream until the session is stopped, the context is cancelled, or the
// connection terminates. It must be called exactly once.
//
// Teardown is deterministic and ordered: the capture relay is stopped first
// (the device is a scarce exclusive resource), then the transport closes,
// then the reconciled state is discarded.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := transport.Dial(dialCtx, c.cfg.EventsURL, c.cfg.WriteTimeout, c.log)
	cancel()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	c.relay = relay.New(c.cfg.NewSource, c.channelOpener(), c.log)

	defer func() {
		c.relay.Stop()
		_ = conn.Close()
		c.reconciler.Discard()
		c.log.Info().Msg("watch session ended")
	}()

	watch := protocol.WatchRequest{IncidentID: c.cfg.IncidentID, ViewerID: c.cfg.ViewerID}
	if err := conn.Subscribe(protocol.TopicWatchIncident, watch); err != nil {
		return fmt.Errorf("session: announcing watch: %w", err)
	}
	c.log.Info().Str("viewer_id", c.cfg.ViewerID).Msg("watching incident")

	degraded := false
	for {
		select {
		case raw, ok := <-conn.Messages():
			if !ok {
				if degraded || c.sawFailure(conn) {
					return ErrConnectionLost
				}
				return nil
			}
			c.handleFrame(raw)

		case st := <-conn.States():
			c.log.Debug().Str("state", string(st)).Msg("connection state changed")
			if st == transport.StateFailed {
				degraded = true
			}

		case cmd := <-c.commands:
			cmd.reply <- c.handleCommand(ctx, cmd.kind)

		case <-c.stop:
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// Stop ends the session. Idempotent; the actual teardown happens inside Run.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once Run has returned and teardown is complete.
func (c *Controller) Done() <-chan struct{} { return c.done }

// StartBroadcast begins capturing and relaying live media for the watched
// incident. Serialized onto the session loop like every other mutation.
func (c *Controller) StartBroadcast() error {
	return c.send(cmdStartBroadcast)
}

// StopBroadcast ends an active capture session. Safe to call when no
// broadcast is running.
func (c *Controller) StopBroadcast() error {
	return c.send(cmdStopBroadcast)
}

// BroadcastState reports the capture relay state.
func (c *Controller) BroadcastState() relay.State {
	if c.relay == nil {
		return relay.StateIdle
	}
	return c.relay.State()
}

func (c *Controller) send(kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrSessionClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrSessionClosed
	}
}

func (c *Controller) handleCommand(ctx context.Context, kind commandKind) error {
	switch kind {
	case cmdStartBroadcast:
		if c.cfg.NewSource == nil {
			return ErrNoMediaSource
		}
		return c.relay.Start(ctx, relay.StreamKey(c.cfg.IncidentID))
	case cmdStopBroadcast:
		c.relay.Stop()
		return nil
	}
	return nil
}

// handleFrame runs the decode → reconcile → project pipeline for one inbound
// frame. Malformed frames are counted and dropped; nothing here can end the
// session.
func (c *Controller) handleFrame(raw []byte) {
	ev, err := c.decoder.Decode(raw)
	if err != nil {
		metrics.MalformedMessages.Inc()
		c.log.Warn().Err(err).Msg("dropping inbound frame")
		return
	}

	c.reconciler.Apply(ev)

	if c.cfg.OnMarkers != nil && c.reconciler.Ready() {
		c.cfg.OnMarkers(overlay.Project(c.reconciler.Snapshot()))
	}
}

// sawFailure drains any state transitions pending at stream end. A clean
// peer close is the normal terminal condition of a watch; a failed state
// means the session ended degraded.
func (c *Controller) sawFailure(conn *transport.Conn) bool {
	for {
		select {
		case st := <-conn.States():
			if st == transport.StateFailed {
				return true
			}
		default:
			return false
		}
	}
}

// channelOpener adapts the transport byte channel to the relay's capability
// interface, binding the session's stream endpoint and queue bound.
func (c *Controller) channelOpener() relay.ChannelOpener {
	return func(ctx context.Context, key string) (relay.ByteChannel, error) {
		return transport.OpenByteChannel(ctx, c.cfg.StreamURL, key, c.cfg.QueueDepth, c.cfg.WriteTimeout, c.log)
	}
}
