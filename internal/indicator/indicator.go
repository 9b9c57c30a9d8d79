// Package indicator computes technical indicators over a resampled price and
// volume series.
//
// Every function here is a pure function of its input series: nothing is
// mutated and calling twice with the same series yields identical output.
// Indicators whose window is not yet satisfied return nil rather than an
// error; insufficient history is an expected state while buffers warm up.
//
// Ticks and candles stay in decimal.Decimal elsewhere in the system; this
// package converts the window to float64 once per computation, since the
// derived signals are tolerance-bounded rather than ledger-grade.
package indicator

import (
	"math"

	"tickstream/internal/model"
)

// rsiEpsilon guards the RS division when a window contains no losses.
const rsiEpsilon = 1e-9

// Compute derives the full indicator set from a resampled series.
func Compute(points []model.SeriesPoint) model.IndicatorSet {
	prices := make([]float64, len(points))
	volumes := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price.InexactFloat64()
		volumes[i] = p.Volume.InexactFloat64()
	}

	macd, signal := MACD(prices, 12, 26, 9)
	upper, mid, lower := Bollinger(prices, 20, 2)

	return model.IndicatorSet{
		SMA5:         SMA(prices, 5),
		SMA20:        SMA(prices, 20),
		EMA5:         EMA(prices, 5),
		EMA15:        EMA(prices, 15),
		RSI14:        RSI(prices, 14),
		MACD:         macd,
		MACDSignal:   signal,
		ATR14:        ATR(prices, 14),
		BollingerUp:  upper,
		BollingerMid: mid,
		BollingerLow: lower,
		VWAP:         VWAP(prices, volumes),
		Return1:      Return1(prices),
		Score:        Score(prices, volumes),
	}
}

// SMA returns the arithmetic mean of the last n values, or nil when the
// series is shorter than n.
func SMA(prices []float64, n int) *float64 {
	if n <= 0 || len(prices) < n {
		return nil
	}
	return ptr(mean(prices[len(prices)-n:]))
}

// EMA returns the exponential moving average with span n.
//
// The average is seeded with the plain mean of the first n values and then
// smoothed recursively with alpha = 2/(n+1). A series shorter than n is
// averaged as-is, so EMA is available for any non-empty series.
func EMA(prices []float64, n int) *float64 {
	if n <= 0 || len(prices) == 0 {
		return nil
	}
	if len(prices) <= n {
		return ptr(mean(prices))
	}

	alpha := 2.0 / (float64(n) + 1)
	ema := mean(prices[:n])
	for _, p := range prices[n:] {
		ema = alpha*p + (1-alpha)*ema
	}
	return ptr(ema)
}

// emaSeries returns the running EMA value at every index from n-1 onward,
// seeded like EMA. Used to build the MACD line and its signal.
func emaSeries(prices []float64, n int) []float64 {
	if n <= 0 || len(prices) < n {
		return nil
	}

	alpha := 2.0 / (float64(n) + 1)
	out := make([]float64, 0, len(prices)-n+1)
	ema := mean(prices[:n])
	out = append(out, ema)
	for _, p := range prices[n:] {
		ema = alpha*p + (1-alpha)*ema
		out = append(out, ema)
	}
	return out
}

// RSI returns the Wilder-style relative strength index over the given
// period: the average positive delta divided by the average absolute
// negative delta, mapped onto [0, 100]. Requires period+1 values.
func RSI(prices []float64, period int) *float64 {
	if period <= 0 || len(prices) < period+1 {
		return nil
	}

	window := prices[len(prices)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	rs := avgGain / (avgLoss + rsiEpsilon)
	return ptr(100 - 100/(1+rs))
}

// MACD returns the MACD line, EMA(fast) - EMA(slow), and its EMA(signal)
// signal line. The MACD line needs slow values; the signal line smooths
// whatever portion of the MACD series exists, so it becomes available
// together with the line itself.
func MACD(prices []float64, fast, slow, signal int) (*float64, *float64) {
	if len(prices) < slow {
		return nil, nil
	}

	fastSeries := emaSeries(prices, fast)
	slowSeries := emaSeries(prices, slow)

	// Align the tails: both series end at the last price.
	n := len(slowSeries)
	fastTail := fastSeries[len(fastSeries)-n:]
	line := make([]float64, n)
	for i := range line {
		line[i] = fastTail[i] - slowSeries[i]
	}

	return ptr(line[n-1]), EMA(line, signal)
}

// ATR returns the rolling mean of absolute one-step price differences over
// the given period, an approximation used when true per-tick high/low is
// unavailable. Requires period+1 values.
func ATR(prices []float64, period int) *float64 {
	if period <= 0 || len(prices) < period+1 {
		return nil
	}

	window := prices[len(prices)-period-1:]
	var sum float64
	for i := 1; i < len(window); i++ {
		sum += math.Abs(window[i] - window[i-1])
	}
	return ptr(sum / float64(period))
}

// Bollinger returns the upper band, middle band (SMA), and lower band over
// the given period at k standard deviations.
func Bollinger(prices []float64, period int, k float64) (upper, mid, lower *float64) {
	if period <= 0 || len(prices) < period {
		return nil, nil, nil
	}

	window := prices[len(prices)-period:]
	m := mean(window)
	var variance float64
	for _, p := range window {
		d := p - m
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	return ptr(m + k*sd), ptr(m), ptr(m - k*sd)
}

// VWAP returns the volume-weighted average price over the full window, or
// nil when the total volume is zero.
func VWAP(prices, volumes []float64) *float64 {
	var pv, v float64
	for i := range prices {
		pv += prices[i] * volumes[i]
		v += volumes[i]
	}
	if v == 0 {
		return nil
	}
	return ptr(pv / v)
}

// Return1 returns the one-bar return (last - previous) / previous, or nil
// when fewer than two points exist or the previous price is zero.
func Return1(prices []float64) *float64 {
	n := len(prices)
	if n < 2 || prices[n-2] == 0 {
		return nil
	}
	return ptr((prices[n-1] - prices[n-2]) / prices[n-2])
}

// Score returns a composite signal in [0, 1]: the average of whichever of
// the following normalized legs are computable, nil when none are.
//
//   - trend:  1.0 when EMA(5) > EMA(15), else 0.0 (needs 15 points)
//   - rsi:    (50 - rsi14) / 50 clamped to [0, 1]
//   - volume: last volume vs the mean of the last 20, clamped to [0, 3] / 3
//
// There is no canonical definition for this composite; the legs and their
// normalization are a design choice of this service.
func Score(prices, volumes []float64) *float64 {
	var sum float64
	var n int

	if len(prices) >= 15 {
		ema5 := EMA(prices, 5)
		ema15 := EMA(prices, 15)
		if ema5 != nil && ema15 != nil {
			if *ema5 > *ema15 {
				sum += 1.0
			}
			n++
		}
	}

	if rsi := RSI(prices, 14); rsi != nil {
		sum += clamp01((50 - clamp(*rsi, 0, 100)) / 50)
		n++
	}

	if len(volumes) >= 20 {
		avg := mean(volumes[len(volumes)-20:])
		if avg > 0 {
			ratio := clamp(volumes[len(volumes)-1]/avg, 0, 3) / 3
			sum += ratio
			n++
		}
	}

	if n == 0 {
		return nil
	}
	return ptr(sum / float64(n))
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func ptr(v float64) *float64 { return &v }
