package series

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickstream/internal/model"
)

func tickAt(ts time.Time, price float64, volume float64) model.Tick {
	t := model.Tick{
		Token:     1,
		Price:     decimal.NewFromFloat(price),
		Timestamp: ts,
	}
	if volume > 0 {
		t.Volume = decimal.NewFromFloat(volume)
		t.HasVolume = true
	}
	return t
}

func TestRingPushEviction(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r := NewRing(3)

	for i := 0; i < 5; i++ {
		r.Push(tickAt(base.Add(time.Duration(i)*time.Second), float64(100+i), 0))
	}

	assert.Equal(t, 3, r.Len(), "ring should hold at most its capacity")

	got := r.Snapshot(0)
	require.Len(t, got, 3)
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(102)), "oldest surviving tick should be the third pushed")
	assert.True(t, got[2].Price.Equal(decimal.NewFromInt(104)), "newest tick should be last")
}

func TestRingSnapshotWindow(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r := NewRing(10)
	for i := 0; i < 4; i++ {
		r.Push(tickAt(base.Add(time.Duration(i)*time.Second), float64(10+i), 0))
	}

	tests := []struct {
		name   string
		window int
		want   int
		first  float64
	}{
		{name: "zero window returns everything", window: 0, want: 4, first: 10},
		{name: "window larger than buffer returns everything", window: 100, want: 4, first: 10},
		{name: "window selects the most recent ticks", window: 2, want: 2, first: 12},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Snapshot(tc.window)
			require.Len(t, got, tc.want)
			assert.True(t, got[0].Price.Equal(decimal.NewFromFloat(tc.first)))
		})
	}
}

func TestRingSnapshotEmpty(t *testing.T) {
	r := NewRing(5)
	assert.Nil(t, r.Snapshot(0))

	_, ok := r.Last()
	assert.False(t, ok)
}

func TestRingLast(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r := NewRing(2)
	r.Push(tickAt(base, 100, 0))
	r.Push(tickAt(base.Add(time.Second), 101, 0))
	r.Push(tickAt(base.Add(2*time.Second), 102, 0))

	last, ok := r.Last()
	require.True(t, ok)
	assert.True(t, last.Price.Equal(decimal.NewFromInt(102)))
}

func TestRingResampleFillsGaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r := NewRing(10)
	r.Push(tickAt(base, 100, 5))
	r.Push(tickAt(base.Add(3*time.Second), 110, 7))

	points := r.Resample(0)
	require.Len(t, points, 4, "one slot per second from first to last tick")

	assert.True(t, points[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, points[1].Price.Equal(decimal.NewFromInt(100)), "gap slot forward-fills the last price")
	assert.True(t, points[2].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, points[3].Price.Equal(decimal.NewFromInt(110)))

	assert.True(t, points[0].Volume.Equal(decimal.NewFromInt(5)))
	assert.True(t, points[1].Volume.IsZero(), "filled slots carry zero volume")
	assert.True(t, points[3].Volume.Equal(decimal.NewFromInt(7)))

	assert.Equal(t, base.Unix(), points[0].Time.Unix())
	assert.Equal(t, base.Add(3*time.Second).Unix(), points[3].Time.Unix())
}

func TestRingResampleSameSecond(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r := NewRing(10)
	r.Push(tickAt(base, 100, 2))
	r.Push(tickAt(base.Add(200*time.Millisecond), 101, 3))

	points := r.Resample(0)
	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(decimal.NewFromInt(101)), "last price by arrival wins within a slot")
	assert.True(t, points[0].Volume.Equal(decimal.NewFromInt(5)), "volume is summed within a slot")
}

func TestRingResampleSpanClamp(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r := NewRing(10)
	r.Push(tickAt(base, 100, 0))
	r.Push(tickAt(base.Add(4000*time.Second), 200, 0))

	points := r.Resample(0)
	require.Len(t, points, maxResampleSpan)
	assert.True(t, points[0].Price.Equal(decimal.NewFromInt(200)), "slots before the clamped span back-fill from the surviving price")
	assert.True(t, points[len(points)-1].Price.Equal(decimal.NewFromInt(200)))
}
