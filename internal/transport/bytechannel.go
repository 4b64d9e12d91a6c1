package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jifi-app/livewatch/internal/metrics"
)

var (
	// ErrNotWritable reports that the channel's bounded send queue is full.
	// The chunk was dropped; the caller must not retry it.
	ErrNotWritable = errors.New("byte channel not writable")
	// ErrChannelClosed reports a send on a terminated channel.
	ErrChannelClosed = errors.New("byte channel closed")
)

// ByteChannel is the outbound live media channel: fire-and-forget binary
// chunks with a bounded send queue. Writable reflects queue headroom, Done is
// closed when the channel terminates for any reason, Close is idempotent.
type ByteChannel interface {
	Send(chunk []byte) error
	Writable() bool
	Done() <-chan struct{}
	Close() error
}

type wsByteChannel struct {
	log   zerolog.Logger
	ws    *websocket.Conn
	queue chan []byte

	writeTimeout time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

// OpenByteChannel dials the chunk sink for a stream key. The key is appended
// to the base URL as the final path segment, so a reconnect with the same key
// targets the same logical stream.
func OpenByteChannel(ctx context.Context, baseURL, key string, queueDepth int, writeTimeout time.Duration, log zerolog.Logger) (ByteChannel, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + key
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		metrics.ConnectionFailures.Inc()
		return nil, fmt.Errorf("dialing byte channel %s: %w", url, err)
	}
	if queueDepth < 1 {
		queueDepth = 1
	}

	c := &wsByteChannel{
		log:          log.With().Str("component", "bytechannel").Str("stream", key).Logger(),
		ws:           ws,
		queue:        make(chan []byte, queueDepth),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go c.writePump()
	go c.watchPeer()

	c.log.Info().Str("url", url).Msg("byte channel open")
	return c, nil
}

// Send enqueues one chunk for delivery. A full queue means the transport is
// not keeping up: the chunk is rejected immediately rather than buffered,
// freshness over completeness.
func (c *wsByteChannel) Send(chunk []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.queue <- chunk:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		return ErrNotWritable
	}
}

// Writable reports whether a Send right now would be accepted.
func (c *wsByteChannel) Writable() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return len(c.queue) < cap(c.queue)
}

func (c *wsByteChannel) Done() <-chan struct{} { return c.done }

// Close terminates the channel and the underlying connection. Idempotent.
func (c *wsByteChannel) Close() error {
	c.markDone()
	return nil
}

func (c *wsByteChannel) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *wsByteChannel) writePump() {
	defer func() {
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	}()

	for {
		select {
		case chunk := <-c.queue:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				c.log.Warn().Err(err).Msg("byte channel write failed")
				metrics.ConnectionFailures.Inc()
				c.markDone()
				return
			}
			metrics.ChunksRelayed.Inc()
			metrics.BytesRelayed.Add(float64(len(chunk)))
		case <-c.done:
			return
		}
	}
}

// watchPeer drains the read side so a peer-initiated close is noticed even
// though the protocol is one-way.
func (c *wsByteChannel) watchPeer() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.markDone()
			return
		}
	}
}
