package series

import (
	"sync"
	"time"

	"tickstream/internal/model"
)

// Series aggregates all rolling state for one instrument token: the tick
// ring buffer, the in-progress candle bucket, and the bounded history of
// finalized candles.
//
// A Series is created lazily on the first tick for a token and is never
// destroyed; the ring and history caps keep an idle series cheap to retain
// indefinitely.
type Series struct {
	mu         sync.Mutex
	token      uint32
	symbol     string
	interval   time.Duration
	ring       *Ring
	bucket     *model.Bucket
	history    []model.Candle
	historyCap int
}

// View is a consistent snapshot of a series taken under its lock, used both
// for broadcast payload construction and for the synchronous query surface.
// Nothing in a View aliases mutable series state.
type View struct {
	Token     uint32
	Symbol    string
	Tick      model.Tick
	Bucket    *model.Bucket // copy of the in-progress bucket, nil before the first tick
	Finalized *model.Candle // candle finalized by the applied tick, if any
	Recent    []model.Candle
	Points    []model.SeriesPoint
}

func newSeries(token uint32, interval time.Duration, ringCap, historyCap int) *Series {
	return &Series{
		token:      token,
		interval:   interval,
		ring:       NewRing(ringCap),
		history:    make([]model.Candle, 0, historyCap),
		historyCap: historyCap,
	}
}

// Apply pushes one tick through the ring buffer and the candle state
// machine, then returns a consistent view for downstream snapshot and
// indicator construction.
//
// Bucketing follows arrival order: a tick whose truncated bucket start is
// not after the current bucket's start is merged into the current bucket,
// including late or out-of-order ticks. Only a strictly later bucket start
// finalizes the current candle and opens a fresh bucket. Strict event-time
// bucketing would instead route late ticks to their own (historical) bucket;
// this implementation deliberately favors monotonic arrival-order buckets.
func (s *Series) Apply(t model.Tick, resampleWindow, recentLimit int) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring.Push(t)
	if t.Symbol != "" {
		s.symbol = t.Symbol
	}

	var finalized *model.Candle
	start := t.Timestamp.Truncate(s.interval)

	switch {
	case s.bucket == nil:
		s.bucket = openBucket(start, t)
	case start.After(s.bucket.Start):
		c := s.bucket.Candle(s.token)
		s.appendCandle(c)
		finalized = &c
		s.bucket = openBucket(start, t)
	default:
		mergeTick(s.bucket, t)
	}

	v := s.viewLocked(t, resampleWindow, recentLimit)
	v.Finalized = finalized
	return v
}

// Query returns a consistent view built from the latest buffered tick.
// It has no side effects. The boolean is false when no tick has ever been
// seen for this instrument.
func (s *Series) Query(resampleWindow, recentLimit int) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.ring.Last()
	if !ok {
		return View{}, false
	}
	return s.viewLocked(last, resampleWindow, recentLimit), true
}

func (s *Series) viewLocked(t model.Tick, resampleWindow, recentLimit int) View {
	v := View{
		Token:  s.token,
		Symbol: s.symbol,
		Tick:   t,
		Points: s.ring.Resample(resampleWindow),
	}
	if s.bucket != nil {
		b := *s.bucket
		v.Bucket = &b
	}
	if n := len(s.history); n > 0 {
		if recentLimit <= 0 || recentLimit > n {
			recentLimit = n
		}
		v.Recent = append([]model.Candle(nil), s.history[n-recentLimit:]...)
	}
	return v
}

// History returns a copy of the finalized candle history, oldest first.
func (s *Series) History() []model.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Candle(nil), s.history...)
}

func (s *Series) appendCandle(c model.Candle) {
	s.history = append(s.history, c)
	if len(s.history) > s.historyCap {
		s.history = s.history[1:]
	}
}

func openBucket(start time.Time, t model.Tick) *model.Bucket {
	b := &model.Bucket{
		Start:     start,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		TickCount: 1,
	}
	if t.HasVolume {
		b.Volume = t.Volume
	}
	return b
}

func mergeTick(b *model.Bucket, t model.Tick) {
	if t.Price.GreaterThan(b.High) {
		b.High = t.Price
	}
	if t.Price.LessThan(b.Low) {
		b.Low = t.Price
	}
	b.Close = t.Price
	if t.HasVolume {
		b.Volume = b.Volume.Add(t.Volume)
	}
	b.TickCount++
}
