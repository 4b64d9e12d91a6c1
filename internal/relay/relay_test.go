package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	chunks   chan []byte
	startErr error
	stops    atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{chunks: make(chan []byte, 16)}
}

func (s *fakeSource) Start(context.Context) error { return s.startErr }
func (s *fakeSource) Chunks() <-chan []byte       { return s.chunks }

func (s *fakeSource) Stop() {
	if s.stops.Add(1) == 1 {
		close(s.chunks)
	}
}

type fakeChannel struct {
	mu       sync.Mutex
	sent     [][]byte
	writable atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	c := &fakeChannel{done: make(chan struct{})}
	c.writable.Store(true)
	return c
}

func (c *fakeChannel) Send(chunk []byte) error {
	if !c.writable.Load() {
		return errors.New("queue full")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, chunk)
	return nil
}

func (c *fakeChannel) Writable() bool        { return c.writable.Load() }
func (c *fakeChannel) Done() <-chan struct{} { return c.done }

func (c *fakeChannel) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newTestRelay(src *fakeSource, ch *fakeChannel) *Relay {
	return New(
		func() MediaSource { return src },
		func(context.Context, string) (ByteChannel, error) { return ch, nil },
		zerolog.Nop(),
	)
}

func TestRelayForwardsChunks(t *testing.T) {
	src := newFakeSource()
	ch := newFakeChannel()
	r := newTestRelay(src, ch)

	require.NoError(t, r.Start(context.Background(), StreamKey("inc-1")))
	assert.Equal(t, StateCapturing, r.State())

	src.chunks <- []byte{1}
	src.chunks <- []byte{2}

	require.Eventually(t, func() bool { return ch.sentCount() == 2 },
		time.Second, 5*time.Millisecond)

	r.Stop()
	assert.Equal(t, StateIdle, r.State())
	assert.True(t, ch.closed())
	assert.Equal(t, int32(1), src.stops.Load())

	sent, dropped := r.Stats()
	assert.Equal(t, uint64(2), sent)
	assert.Equal(t, uint64(0), dropped)
}

func TestBackpressureDropsWithoutBacklog(t *testing.T) {
	src := newFakeSource()
	ch := newFakeChannel()
	r := newTestRelay(src, ch)

	require.NoError(t, r.Start(context.Background(), StreamKey("inc-1")))

	// Simulate a non-writable interval: everything produced meanwhile is
	// discarded on the spot.
	ch.writable.Store(false)
	src.chunks <- []byte{1}
	src.chunks <- []byte{2}
	require.Eventually(t, func() bool {
		_, dropped := r.Stats()
		return dropped == 2
	}, time.Second, 5*time.Millisecond)

	// Writability resumes: only fresh chunks flow, no backlog flush.
	ch.writable.Store(true)
	src.chunks <- []byte{3}
	require.Eventually(t, func() bool { return ch.sentCount() == 1 },
		time.Second, 5*time.Millisecond)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.sent, 1)
	assert.Equal(t, []byte{3}, ch.sent[0])

	r.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	src := newFakeSource()
	ch := newFakeChannel()
	r := newTestRelay(src, ch)

	require.NoError(t, r.Start(context.Background(), StreamKey("inc-1")))

	r.Stop()
	r.Stop()

	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, int32(1), src.stops.Load(), "device must be released exactly once")
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	r := newTestRelay(newFakeSource(), newFakeChannel())
	r.Stop()
	r.Stop()
	assert.Equal(t, StateIdle, r.State())
}

func TestDeviceAcquisitionFailure(t *testing.T) {
	src := newFakeSource()
	src.startErr = errors.New("permission denied")
	openerCalled := false
	r := New(
		func() MediaSource { return src },
		func(context.Context, string) (ByteChannel, error) {
			openerCalled = true
			return newFakeChannel(), nil
		},
		zerolog.Nop(),
	)

	err := r.Start(context.Background(), StreamKey("inc-1"))
	require.Error(t, err)
	assert.Equal(t, StateFailed, r.State())
	assert.ErrorContains(t, r.LastError(), "permission denied")
	assert.False(t, openerCalled, "no channel is opened when the device is unavailable")

	// A failed relay returns to idle via Stop.
	r.Stop()
	assert.Equal(t, StateIdle, r.State())
}

func TestChannelOpenFailureReleasesDevice(t *testing.T) {
	src := newFakeSource()
	r := New(
		func() MediaSource { return src },
		func(context.Context, string) (ByteChannel, error) {
			return nil, errors.New("connection refused")
		},
		zerolog.Nop(),
	)

	err := r.Start(context.Background(), StreamKey("inc-1"))
	require.Error(t, err)
	assert.Equal(t, StateFailed, r.State())
	assert.Equal(t, int32(1), src.stops.Load(), "acquired device must be released on channel failure")
}

func TestChannelClosureImpliesStop(t *testing.T) {
	src := newFakeSource()
	ch := newFakeChannel()
	r := newTestRelay(src, ch)

	require.NoError(t, r.Start(context.Background(), StreamKey("inc-1")))

	// The destination vanishes mid-capture.
	require.NoError(t, ch.Close())

	require.Eventually(t, func() bool { return r.State() == StateIdle },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), src.stops.Load(), "device must not stay open with no destination")
}

func TestStartWhileCapturing(t *testing.T) {
	src := newFakeSource()
	ch := newFakeChannel()
	r := newTestRelay(src, ch)

	require.NoError(t, r.Start(context.Background(), StreamKey("inc-1")))
	assert.ErrorIs(t, r.Start(context.Background(), StreamKey("inc-1")), ErrAlreadyCapturing)

	r.Stop()
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "incident_inc-42", StreamKey("inc-42"))
}
