// Package transport owns the websocket connections of a watch session: the
// event-stream connection and the binary byte channel used for live media.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jifi-app/livewatch/internal/metrics"
	"github.com/jifi-app/livewatch/internal/protocol"
)

// State is the lifecycle state of a connection. Transitions follow
// connecting → open → {closing → closed}, or connecting → failed. Exactly one
// state change is emitted per transition.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// Conn is one open event-stream connection. Inbound frames arrive on
// Messages; state transitions arrive on States. The channel returned by
// Messages is closed when the connection terminates, for any reason.
//
// A failed dial never constructs a Conn: the error returned by Dial is the
// failure surface, and the session controller is its only consumer.
type Conn struct {
	log          zerolog.Logger
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	messages chan []byte
	states   chan State

	closeOnce sync.Once
	closing   chan struct{}
}

// Dial opens the event-stream connection. The context bounds the handshake
// only; the connection itself lives until Close or peer termination.
func Dial(ctx context.Context, url string, writeTimeout time.Duration, log zerolog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		metrics.ConnectionFailures.Inc()
		return nil, fmt.Errorf("dialing event stream %s: %w", url, err)
	}

	c := &Conn{
		log:          log.With().Str("component", "transport").Logger(),
		ws:           ws,
		writeTimeout: writeTimeout,
		messages:     make(chan []byte, 32),
		states:       make(chan State, 8),
		closing:      make(chan struct{}),
	}
	c.pushState(StateOpen)
	go c.readPump()

	c.log.Info().Str("url", url).Msg("event stream connected")
	return c, nil
}

// Messages returns the inbound frame channel. It is closed on termination.
func (c *Conn) Messages() <-chan []byte { return c.messages }

// States returns the connection state-change channel.
func (c *Conn) States() <-chan State { return c.states }

// Subscribe sends a control frame announcing interest in a topic, carrying
// the given params as payload. Used for the watchIncident announce.
func (c *Conn) Subscribe(topic string, params interface{}) error {
	frame, err := protocol.Encode(topic, params)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, frame)
}

// Send writes one JSON frame.
func (c *Conn) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(v)
}

// Close terminates the connection. Safe to call multiple times; closing an
// already-terminated connection is a no-op.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.pushState(StateClosing)
		deadline := time.Now().Add(c.writeTimeout)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		_ = c.ws.Close()
		c.pushState(StateClosed)
	})
	return nil
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// readPump delivers inbound frames until the connection terminates. On a
// locally initiated Close the state transitions were already emitted there;
// a peer-initiated termination emits closed (clean) or failed (abnormal).
func (c *Conn) readPump() {
	defer close(c.messages)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Msg("event stream closed by peer")
				c.pushState(StateClosed)
			} else {
				metrics.ConnectionFailures.Inc()
				c.log.Warn().Err(err).Msg("event stream terminated")
				c.pushState(StateFailed)
			}
			_ = c.ws.Close()
			return
		}
		select {
		case c.messages <- msg:
		case <-c.closing:
			return
		}
	}
}

// pushState emits a state change without ever blocking the pump. The channel
// is sized for the full lifecycle; overflow can only happen if the consumer
// abandoned the connection, in which case the transition is dropped.
func (c *Conn) pushState(s State) {
	select {
	case c.states <- s:
	default:
	}
}
