package series

import (
	"sort"
	"sync"
	"time"
)

// Defaults applied by NewStore when a Config field is zero.
const (
	DefaultInterval       = 60 * time.Second
	DefaultRingCapacity   = 20000
	DefaultHistoryCap     = 240
	DefaultResampleWindow = 900
	DefaultRecentLimit    = 20
)

// Config controls the per-instrument state created by a Store.
type Config struct {
	Interval       time.Duration // Candle bucket interval
	RingCapacity   int           // Max buffered ticks per instrument
	HistoryCap     int           // Max finalized candles retained per instrument
	ResampleWindow int           // Ticks fed into each resample
	RecentLimit    int           // Finalized candles included in a view
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	if c.ResampleWindow <= 0 {
		c.ResampleWindow = DefaultResampleWindow
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = DefaultRecentLimit
	}
}

// Store holds one Series per instrument token, created lazily on first use.
//
// The store mutex only guards the token map; each Series carries its own
// lock, so ingestion for distinct instruments never contends.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	series map[uint32]*Series
}

// NewStore creates an empty store with defaults applied to cfg.
func NewStore(cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		cfg:    cfg,
		series: make(map[uint32]*Series),
	}
}

// Get returns the series for token, creating it on first use.
func (st *Store) Get(token uint32) *Series {
	st.mu.RLock()
	s, ok := st.series[token]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.series[token]; ok {
		return s
	}
	s = newSeries(token, st.cfg.Interval, st.cfg.RingCapacity, st.cfg.HistoryCap)
	st.series[token] = s
	return s
}

// Peek returns the series for token without creating one.
func (st *Store) Peek(token uint32) (*Series, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.series[token]
	return s, ok
}

// Tokens returns the tokens with live series, sorted ascending.
func (st *Store) Tokens() []uint32 {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]uint32, 0, len(st.series))
	for tok := range st.series {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResampleWindow exposes the configured resample window.
func (st *Store) ResampleWindow() int { return st.cfg.ResampleWindow }

// RecentLimit exposes the configured recent-candle limit.
func (st *Store) RecentLimit() int { return st.cfg.RecentLimit }
