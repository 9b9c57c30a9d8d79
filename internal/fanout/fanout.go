// Package fanout delivers broadcast payloads to a dynamic set of consumers
// without letting any single slow consumer stall ingestion.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tickstream/internal/metrics"
)

const (
	// DefaultQueueSize bounds the per-consumer payload backlog.
	DefaultQueueSize = 100

	// DefaultSendTimeout bounds a single delivery attempt.
	DefaultSendTimeout = 5 * time.Second
)

// Consumer is anything that can receive broadcast payloads. Implementations
// must tolerate Send being called from a dedicated goroutine and should
// return an error when delivery is no longer possible.
type Consumer interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
}

// Config tunes a Fanout. Zero values fall back to the defaults above.
type Config struct {
	QueueSize   int
	SendTimeout time.Duration
}

// Fanout fans payloads out to registered consumers. Each consumer gets its
// own bounded queue drained by a dedicated pump goroutine, so Broadcast
// never blocks on consumer I/O. When a consumer's queue is full the oldest
// buffered payload is dropped in favor of the new one; when a send fails or
// times out the consumer is unregistered.
type Fanout struct {
	cfg    Config
	log    zerolog.Logger
	met    *metrics.Metrics
	mu     sync.Mutex
	pumps  map[string]*pump
	closed bool
}

type pump struct {
	consumer Consumer
	queue    chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Fanout ready to accept consumers.
func New(cfg Config, log zerolog.Logger, met *metrics.Metrics) *Fanout {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Fanout{
		cfg:   cfg,
		log:   log.With().Str("component", "fanout").Logger(),
		met:   met,
		pumps: make(map[string]*pump),
	}
}

// Register adds a consumer and starts its delivery pump. Registering an ID
// that is already present is a no-op; the existing consumer keeps its queue.
func (f *Fanout) Register(c Consumer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	if _, ok := f.pumps[c.ID()]; ok {
		return
	}

	p := &pump{
		consumer: c,
		queue:    make(chan []byte, f.cfg.QueueSize),
		stop:     make(chan struct{}),
	}
	f.pumps[c.ID()] = p
	f.met.Consumers.Inc()
	f.log.Debug().Str("consumer", c.ID()).Msg("consumer registered")

	go f.run(p)
}

// Unregister removes a consumer and stops its pump. Unknown IDs are a no-op.
// Payloads still buffered for the consumer are discarded.
func (f *Fanout) Unregister(id string) {
	f.mu.Lock()
	p, ok := f.pumps[id]
	if ok {
		delete(f.pumps, id)
		f.met.Consumers.Dec()
	}
	f.mu.Unlock()

	if ok {
		p.stopOnce.Do(func() { close(p.stop) })
		f.log.Debug().Str("consumer", id).Msg("consumer unregistered")
	}
}

// Broadcast enqueues payload for every registered consumer and returns
// without waiting for delivery. Consumers registered after Broadcast returns
// do not receive the payload.
func (f *Fanout) Broadcast(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for id, p := range f.pumps {
		select {
		case p.queue <- payload:
		default:
			// Queue full: make room by dropping the oldest buffered
			// payload, then try once more. The pump may have drained
			// concurrently, so both operations are non-blocking.
			select {
			case <-p.queue:
				f.met.QueueDrops.Inc()
				f.log.Warn().Str("consumer", id).Msg("consumer queue full, dropped oldest payload")
			default:
			}
			select {
			case p.queue <- payload:
			default:
				f.met.QueueDrops.Inc()
			}
		}
	}
}

// Len returns the number of registered consumers.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pumps)
}

// Close unregisters every consumer and rejects further registrations.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	pumps := f.pumps
	f.pumps = make(map[string]*pump)
	f.mu.Unlock()

	for id, p := range pumps {
		p.stopOnce.Do(func() { close(p.stop) })
		f.met.Consumers.Dec()
		f.log.Debug().Str("consumer", id).Msg("consumer unregistered")
	}
}

func (f *Fanout) run(p *pump) {
	id := p.consumer.ID()
	for {
		select {
		case <-p.stop:
			return
		case payload := <-p.queue:
			ctx, cancel := context.WithTimeout(context.Background(), f.cfg.SendTimeout)
			err := p.consumer.Send(ctx, payload)
			cancel()
			if err != nil {
				f.met.DeliveryFailures.Inc()
				f.log.Warn().Err(err).Str("consumer", id).Msg("delivery failed, removing consumer")
				f.Unregister(id)
				return
			}
		}
	}
}
