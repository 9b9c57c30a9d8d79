package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickstream/internal/metrics"
)

type stubConsumer struct {
	id   string
	fail bool

	mu  sync.Mutex
	got [][]byte
}

func (c *stubConsumer) ID() string { return c.id }

func (c *stubConsumer) Send(_ context.Context, payload []byte) error {
	if c.fail {
		return errors.New("consumer gone")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, append([]byte(nil), payload...))
	return nil
}

func (c *stubConsumer) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.got...)
}

// blockingConsumer holds every Send until release is closed.
type blockingConsumer struct {
	id      string
	release chan struct{}

	mu  sync.Mutex
	got [][]byte
}

func (c *blockingConsumer) ID() string { return c.id }

func (c *blockingConsumer) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, append([]byte(nil), payload...))
	return nil
}

func (c *blockingConsumer) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.got...)
}

func newTestFanout(cfg Config) *Fanout {
	return New(cfg, zerolog.Nop(), metrics.New(prometheus.NewRegistry()))
}

func TestBroadcastDeliversToAllConsumers(t *testing.T) {
	f := newTestFanout(Config{})
	defer f.Close()

	consumers := []*stubConsumer{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, c := range consumers {
		f.Register(c)
	}

	f.Broadcast([]byte("one"))
	f.Broadcast([]byte("two"))

	time.Sleep(100 * time.Millisecond)

	for _, c := range consumers {
		got := c.received()
		require.Len(t, got, 2, "consumer %s should receive every broadcast exactly once", c.id)
		assert.Equal(t, "one", string(got[0]), "per-consumer delivery preserves broadcast order")
		assert.Equal(t, "two", string(got[1]))
	}
}

func TestFailingConsumerIsUnregistered(t *testing.T) {
	f := newTestFanout(Config{})
	defer f.Close()

	healthy := &stubConsumer{id: "healthy"}
	broken := &stubConsumer{id: "broken", fail: true}
	f.Register(healthy)
	f.Register(broken)
	require.Equal(t, 2, f.Len())

	f.Broadcast([]byte("payload"))
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, f.Len(), "the failing consumer is removed")
	require.Len(t, healthy.received(), 1, "other consumers are unaffected")

	// Further broadcasts skip the removed consumer entirely.
	f.Broadcast([]byte("again"))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, healthy.received(), 2)
}

func TestRegisterIsIdempotent(t *testing.T) {
	f := newTestFanout(Config{})
	defer f.Close()

	c := &stubConsumer{id: "dup"}
	f.Register(c)
	f.Register(c)
	assert.Equal(t, 1, f.Len())

	f.Unregister("dup")
	f.Unregister("dup")
	assert.Equal(t, 0, f.Len())

	f.Unregister("never-registered")
	assert.Equal(t, 0, f.Len())
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	f := newTestFanout(Config{QueueSize: 2, SendTimeout: 2 * time.Second})
	defer f.Close()

	c := &blockingConsumer{id: "slow", release: make(chan struct{})}
	f.Register(c)

	// First payload is picked up by the pump and blocks in Send; the next
	// two fill the queue; the fourth forces the oldest queued one out.
	f.Broadcast([]byte("p0"))
	time.Sleep(50 * time.Millisecond)
	f.Broadcast([]byte("p1"))
	f.Broadcast([]byte("p2"))
	f.Broadcast([]byte("p3"))

	close(c.release)
	time.Sleep(100 * time.Millisecond)

	got := c.received()
	require.Len(t, got, 3)
	assert.Equal(t, "p0", string(got[0]))
	assert.Equal(t, "p2", string(got[1]), "p1 was the oldest queued payload and is dropped")
	assert.Equal(t, "p3", string(got[2]))
}

func TestCloseStopsDelivery(t *testing.T) {
	f := newTestFanout(Config{})

	c := &stubConsumer{id: "a"}
	f.Register(c)
	f.Close()

	assert.Equal(t, 0, f.Len())
	f.Broadcast([]byte("late"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, c.received(), "broadcasts after close deliver nothing")

	f.Register(&stubConsumer{id: "b"})
	assert.Equal(t, 0, f.Len(), "registrations after close are rejected")
}
