// Package engine orchestrates the ingestion pipeline: raw feed frames in,
// snapshot broadcasts out.
package engine

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"tickstream/internal/fanout"
	"tickstream/internal/feed"
	"tickstream/internal/indicator"
	"tickstream/internal/metrics"
	"tickstream/internal/model"
	"tickstream/internal/series"
	"tickstream/internal/subs"
)

// Reconnect backoff bounds applied when FeedConfig leaves them zero.
const (
	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
)

// FeedConfig describes the upstream connection managed by RunFeed.
type FeedConfig struct {
	Endpoint        string
	TLSInsecureSkip bool
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
}

// Engine wires the pipeline stages together and owns the upstream feed
// lifecycle. Frame handling is synchronous per frame: normalize, apply to
// the instrument series, derive indicators, broadcast. A frame that fails
// normalization is counted and dropped without disturbing the loop.
type Engine struct {
	log      zerolog.Logger
	met      *metrics.Metrics
	norm     *feed.Normalizer
	store    *series.Store
	registry *subs.Registry
	fan      *fanout.Fanout

	mu     sync.Mutex
	client *feed.Client
}

// New assembles an engine from its pipeline stages.
func New(store *series.Store, registry *subs.Registry, fan *fanout.Fanout, met *metrics.Metrics, log zerolog.Logger) *Engine {
	e := &Engine{
		log:      log.With().Str("component", "engine").Logger(),
		met:      met,
		norm:     feed.NewNormalizer(),
		store:    store,
		registry: registry,
		fan:      fan,
	}
	registry.SetOnChange(func(current []uint32) {
		e.log.Debug().Int("tokens", len(current)).Msg("desired subscription set changed")
	})
	return e
}

// HandleRaw processes raw feed frames end to end. A panic while processing
// one frame is recovered and counted so the remaining frames still proceed.
func (e *Engine) HandleRaw(raws ...[]byte) {
	for _, raw := range raws {
		e.handleOne(raw)
	}
}

func (e *Engine) handleOne(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.met.TickPanics.Inc()
			e.log.Error().Any("recover", r).Msg("panic while processing tick")
		}
	}()

	tick, err := e.norm.Normalize(raw)
	if err != nil {
		e.met.TicksDropped.Inc()
		e.log.Debug().Err(err).Int("bytes", len(raw)).Msg("dropped unusable payload")
		return
	}

	view := e.store.Get(tick.Token).Apply(tick, e.store.ResampleWindow(), e.store.RecentLimit())
	e.met.TicksProcessed.Inc()
	if view.Finalized != nil {
		e.met.CandlesFinalized.Inc()
		e.log.Debug().
			Uint32("token", view.Token).
			Time("bucket", view.Finalized.Time).
			Int("ticks", view.Finalized.TickCount).
			Msg("candle finalized")
	}

	payload, err := json.Marshal(snapshotFromView(view))
	if err != nil {
		e.log.Error().Err(err).Uint32("token", view.Token).Msg("snapshot marshal failed")
		return
	}

	e.fan.Broadcast(payload)
	e.met.Broadcasts.Inc()
}

// Subscribe records interest in tokens and forwards the request upstream
// when a connection is live. Returns true when the desired set changed.
func (e *Engine) Subscribe(tokens ...uint32) bool {
	changed := e.registry.Add(tokens...)
	if changed {
		if c := e.currentClient(); c != nil {
			if err := c.Subscribe(tokens); err != nil {
				e.log.Error().Err(err).Uints32("tokens", tokens).Msg("upstream subscribe failed")
			}
		}
	}
	return changed
}

// Unsubscribe removes interest in tokens and forwards the request upstream
// when a connection is live. Buffered state for the tokens is retained.
func (e *Engine) Unsubscribe(tokens ...uint32) bool {
	changed := e.registry.Remove(tokens...)
	if changed {
		if c := e.currentClient(); c != nil {
			if err := c.Unsubscribe(tokens); err != nil {
				e.log.Error().Err(err).Uints32("tokens", tokens).Msg("upstream unsubscribe failed")
			}
		}
	}
	return changed
}

// Subscriptions returns the current desired token set, sorted.
func (e *Engine) Subscriptions() []uint32 {
	return e.registry.Current()
}

// Query returns the current snapshot for token without side effects. The
// boolean is false when no tick has ever been seen for the token.
func (e *Engine) Query(token uint32) (model.Snapshot, bool) {
	s, ok := e.store.Peek(token)
	if !ok {
		return model.Snapshot{}, false
	}
	view, ok := s.Query(e.store.ResampleWindow(), e.store.RecentLimit())
	if !ok {
		return model.Snapshot{}, false
	}
	return snapshotFromView(view), true
}

// RunFeed dials the upstream feed and keeps it connected until ctx is
// cancelled, re-dialing with exponential backoff after failures. On every
// successful connect the full desired token set is replayed.
func (e *Engine) RunFeed(ctx context.Context, cfg FeedConfig) error {
	minBackoff := cfg.ReconnectMin
	if minBackoff <= 0 {
		minBackoff = defaultReconnectMin
	}
	maxBackoff := cfg.ReconnectMax
	if maxBackoff <= 0 {
		maxBackoff = defaultReconnectMax
	}
	backoff := minBackoff

	for {
		client, err := feed.Dial(ctx, feed.ClientConfig{
			Endpoint:        cfg.Endpoint,
			Handler:         func(frame []byte) { e.HandleRaw(frame) },
			OnConnect:       e.HandleConnect,
			TLSInsecureSkip: cfg.TLSInsecureSkip,
		}, e.log)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error().Err(err).Dur("backoff", backoff).Msg("feed dial failed, retrying")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = minBackoff

		select {
		case <-ctx.Done():
			e.setClient(nil)
			client.Close()
			return ctx.Err()
		case <-client.DisconnectChan():
			e.setClient(nil)
			client.Close()
			e.log.Warn().Dur("backoff", backoff).Msg("feed disconnected, reconnecting")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}
	}
}

// HandleConnect adopts a fresh feed connection and pushes the full desired
// token set to it, so a reconnect is transparent to downstream consumers.
func (e *Engine) HandleConnect(c *feed.Client) {
	e.setClient(c)

	tokens := e.registry.Current()
	if len(tokens) == 0 {
		return
	}
	if err := c.Subscribe(tokens); err != nil {
		e.log.Error().Err(err).Int("tokens", len(tokens)).Msg("subscription replay failed")
		return
	}
	e.log.Info().Int("tokens", len(tokens)).Msg("subscriptions replayed")
}

func (e *Engine) setClient(c *feed.Client) {
	e.mu.Lock()
	e.client = c
	e.mu.Unlock()
}

func (e *Engine) currentClient() *feed.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

func snapshotFromView(v series.View) model.Snapshot {
	snap := model.Snapshot{
		Token:  v.Token,
		Symbol: v.Symbol,
		Tick: model.TickView{
			Price:     v.Tick.Price,
			Timestamp: v.Tick.Timestamp,
		},
		RecentCandles: v.Recent,
	}
	if v.Bucket != nil {
		c := v.Bucket.Candle(v.Token)
		snap.Candle = &c
	}
	if len(v.Points) > 0 {
		ind := indicator.Compute(v.Points)
		snap.Indicators = &ind
	}
	return snap
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
