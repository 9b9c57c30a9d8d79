// Package series owns all per-instrument rolling state: the tick ring
// buffer, the in-progress candle bucket, and the bounded history of
// finalized candles.
//
// Thread safety:
//   - Ring guards its own buffer with a mutex so pushes and reads are
//     mutually exclusive and readers never observe a partially appended tick.
//   - Series serializes candle mutation and snapshot construction with its
//     own mutex; the Store only synchronizes map access.
package series

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tickstream/internal/model"
)

// maxResampleSpan bounds the number of 1-second slots a single resample may
// produce. Ticks carrying wildly divergent timestamps must not be able to
// force an unbounded allocation.
const maxResampleSpan = 3600

// Ring is a bounded store of the most recent ticks for one instrument.
//
// Capacity is enforced by overwriting the oldest entry on overflow, never by
// blocking or returning an error. The backing array grows lazily up to the
// configured capacity so idle instruments stay cheap.
type Ring struct {
	mu       sync.Mutex
	buf      []model.Tick
	capacity int
	start    int // index of the oldest entry once the buffer is full
}

// NewRing creates a ring buffer holding at most capacity ticks.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{capacity: capacity}
}

// Push appends a tick, evicting the oldest entry when the buffer is full.
func (r *Ring) Push(t model.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, t)
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % r.capacity
}

// Len returns the number of buffered ticks.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Snapshot returns the most recent window ticks in arrival order, oldest
// first. A window of zero or one exceeding the buffered count returns
// everything buffered. The returned slice is a copy.
func (r *Ring) Snapshot(window int) []model.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buf)
	if n == 0 {
		return nil
	}
	if window <= 0 || window > n {
		window = n
	}

	out := make([]model.Tick, 0, window)
	for i := n - window; i < n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// Last returns the most recently pushed tick.
func (r *Ring) Last() (model.Tick, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buf)
	if n == 0 {
		return model.Tick{}, false
	}
	return r.buf[(r.start+n-1)%len(r.buf)], true
}

// Resample converts the most recent window ticks into a fixed-interval
// series at 1-second granularity.
//
// Ticks are binned into 1-second slots taking the last price (by arrival
// order) and the summed volume per slot. Gaps are then forward-filled and
// back-filled so the returned series has no missing timestamps end to end.
// Filled slots carry zero volume.
func (r *Ring) Resample(window int) []model.SeriesPoint {
	ticks := r.Snapshot(window)
	if len(ticks) == 0 {
		return nil
	}

	type slot struct {
		price  decimal.Decimal
		volume decimal.Decimal
		filled bool
	}

	slots := make(map[int64]*slot, len(ticks))
	minSec, maxSec := int64(0), int64(0)
	for i, t := range ticks {
		sec := t.Timestamp.Unix()
		if i == 0 {
			minSec, maxSec = sec, sec
		} else {
			if sec < minSec {
				minSec = sec
			}
			if sec > maxSec {
				maxSec = sec
			}
		}

		s, ok := slots[sec]
		if !ok {
			s = &slot{}
			slots[sec] = s
		}
		s.price = t.Price // last write in arrival order wins
		s.filled = true
		if t.HasVolume {
			s.volume = s.volume.Add(t.Volume)
		}
	}

	if maxSec-minSec >= maxResampleSpan {
		minSec = maxSec - maxResampleSpan + 1
	}

	out := make([]model.SeriesPoint, 0, maxSec-minSec+1)
	filled := make([]bool, 0, maxSec-minSec+1)
	for sec := minSec; sec <= maxSec; sec++ {
		p := model.SeriesPoint{Time: time.Unix(sec, 0).UTC()}
		ok := false
		if s, hit := slots[sec]; hit {
			p.Price = s.price
			p.Volume = s.volume
			ok = true
		}
		out = append(out, p)
		filled = append(filled, ok)
	}

	// Forward-fill prices into empty slots, then back-fill any leading run
	// that had nothing before it.
	var last decimal.Decimal
	var seen bool
	for i := range out {
		if filled[i] {
			last = out[i].Price
			seen = true
		} else if seen {
			out[i].Price = last
			filled[i] = true
		}
	}
	for i := len(out) - 1; i >= 0; i-- {
		if filled[i] {
			last = out[i].Price
		} else {
			out[i].Price = last
		}
	}

	return out
}
