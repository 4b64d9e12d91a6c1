// Package relay captures a local media source, slices it into chunks and
// forwards them over a byte channel keyed by the incident identity. The
// contract is lossy-live: a chunk the channel cannot take right now is
// dropped, never queued. Freshness beats completeness.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jifi-app/livewatch/internal/metrics"
)

// State is the relay lifecycle: idle → capturing → idle on stop, or
// idle → capturing → failed → idle on a device or transport error.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateFailed    State = "failed"
)

// ErrAlreadyCapturing reports a Start while a capture session is running.
var ErrAlreadyCapturing = errors.New("relay already capturing")

// MediaSource is the local capture device capability. Start acquires the
// device, Chunks delivers encoded media until the source is stopped or
// exhausted (the channel is then closed), Stop releases the device and is
// safe to call more than once.
type MediaSource interface {
	Start(ctx context.Context) error
	Chunks() <-chan []byte
	Stop()
}

// ByteChannel is the outbound transport capability the relay writes to.
// Matches the channel the transport package opens; declared here so the
// relay stays portable to any equivalent socket abstraction.
type ByteChannel interface {
	Send(chunk []byte) error
	Writable() bool
	Done() <-chan struct{}
	Close() error
}

// ChannelOpener opens the byte channel for a stream key.
type ChannelOpener func(ctx context.Context, key string) (ByteChannel, error)

// SourceFactory builds a fresh MediaSource per capture session. Sources are
// single-use: once stopped they cannot be restarted.
type SourceFactory func() MediaSource

// StreamKey derives the stable live-channel key for an incident, so a
// reconnect targets the same logical stream.
func StreamKey(incidentID string) string {
	return "incident_" + incidentID
}

// Relay is one capture session. It never outlives the session controller
// that created it; the controller stops it before tearing down transport.
type Relay struct {
	log       zerolog.Logger
	newSource SourceFactory
	open      ChannelOpener

	mu      sync.Mutex
	state   State
	lastErr error
	source  MediaSource
	channel ByteChannel

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func New(newSource SourceFactory, open ChannelOpener, log zerolog.Logger) *Relay {
	return &Relay{
		log:       log.With().Str("component", "relay").Logger(),
		newSource: newSource,
		open:      open,
		state:     StateIdle,
	}
}

// Start acquires the media source, opens the byte channel for the stream key
// and begins forwarding chunks. A device-acquisition or channel-open failure
// leaves the relay in the failed state with the reason retained.
func (r *Relay) Start(ctx context.Context, streamKey string) error {
	r.mu.Lock()
	if r.state == StateCapturing {
		r.mu.Unlock()
		return ErrAlreadyCapturing
	}
	r.state = StateIdle
	r.lastErr = nil
	r.mu.Unlock()

	source := r.newSource()
	if err := source.Start(ctx); err != nil {
		err = fmt.Errorf("acquiring media source: %w", err)
		r.fail(err)
		return err
	}

	ch, err := r.open(ctx, streamKey)
	if err != nil {
		source.Stop()
		err = fmt.Errorf("opening live channel: %w", err)
		r.fail(err)
		return err
	}

	r.mu.Lock()
	r.state = StateCapturing
	r.source = source
	r.channel = ch
	r.mu.Unlock()
	r.sent.Store(0)
	r.dropped.Store(0)

	go r.forward(source, ch)

	r.log.Info().Str("stream", streamKey).Msg("capture relay started")
	return nil
}

// forward moves chunks from the source to the channel until either side
// terminates. Channel closure while capturing is an implicit Stop, so the
// device is never held open with no destination.
func (r *Relay) forward(source MediaSource, ch ByteChannel) {
	for {
		select {
		case chunk, ok := <-source.Chunks():
			if !ok {
				r.log.Info().Msg("media source exhausted")
				r.Stop()
				return
			}
			if !ch.Writable() {
				r.dropped.Add(1)
				metrics.ChunksDropped.Inc()
				continue
			}
			if err := ch.Send(chunk); err != nil {
				// Lost the race with the queue filling or the channel
				// closing; either way the chunk is gone, not retried.
				r.dropped.Add(1)
				metrics.ChunksDropped.Inc()
				continue
			}
			r.sent.Add(1)
		case <-ch.Done():
			r.log.Info().Msg("live channel closed, stopping capture")
			r.Stop()
			return
		}
	}
}

// Stop releases the capture device and closes the byte channel, in that
// order. Safe to call multiple times; the device is released exactly once.
func (r *Relay) Stop() {
	r.mu.Lock()
	ch := r.channel
	source := r.source
	capturing := r.state == StateCapturing
	r.state = StateIdle
	r.source = nil
	r.channel = nil
	r.mu.Unlock()

	if capturing && source != nil {
		source.Stop()
	}
	if ch != nil {
		_ = ch.Close()
	}
	if capturing {
		r.log.Info().
			Uint64("sent", r.sent.Load()).
			Uint64("dropped", r.dropped.Load()).
			Msg("capture relay stopped")
	}
}

func (r *Relay) fail(err error) {
	r.mu.Lock()
	r.state = StateFailed
	r.lastErr = err
	r.mu.Unlock()
	r.log.Error().Err(err).Msg("capture relay failed")
}

// State returns the current relay state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastError returns the reason for the most recent failure, if any.
func (r *Relay) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stats reports chunks forwarded and chunks dropped for the current or most
// recent capture session.
func (r *Relay) Stats() (sent, dropped uint64) {
	return r.sent.Load(), r.dropped.Load()
}
