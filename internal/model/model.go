// Package model defines core data types for the tick streaming service.
//
// This package contains the fundamental data structures used throughout the
// system for representing normalized market ticks, in-progress and finalized
// candles, resampled time series, derived indicators, and the snapshot
// messages broadcast to consumers. All prices and volumes use decimal.Decimal
// for precise financial calculations to avoid floating-point precision issues
// common in financial applications.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single normalized price observation for one instrument.
//
// Ticks are produced by the feed normalizer from raw, schema-diverse upstream
// payloads and are immutable once constructed. They are never persisted by
// this service; retention is memory-bounded via the per-instrument ring
// buffer.
type Tick struct {
	Token     uint32          // Instrument token keying all per-instrument state
	Price     decimal.Decimal // Last traded price (precise decimal)
	Volume    decimal.Decimal // Traded volume carried by this tick, if any
	HasVolume bool            // Whether the upstream payload carried a volume field
	Timestamp time.Time       // Tick timestamp, UTC
	Symbol    string          // Human symbol if the payload carried one, else empty
}

// Bucket is the in-progress OHLCV candle for one instrument.
//
// Exactly one bucket exists per instrument at any time. It is mutated in
// place by every tick that falls within its interval and satisfies
// Low <= Open, Close <= High at all times. Start is the tick timestamp
// truncated down to the configured interval boundary.
type Bucket struct {
	Start     time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	TickCount int
}

// Candle returns the immutable finalized form of the bucket.
func (b *Bucket) Candle(token uint32) Candle {
	return Candle{
		Token:     token,
		Time:      b.Start,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		TickCount: b.TickCount,
	}
}

// Candle is an immutable OHLCV snapshot taken at bucket rollover.
//
// Finalized candles are appended to a bounded per-instrument history ordered
// by Time ascending; the oldest candle is evicted when the history exceeds
// its capacity.
type Candle struct {
	Token     uint32          `json:"token"`
	Time      time.Time       `json:"time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	TickCount int             `json:"tick_count"`
}

// SeriesPoint is one slot of a resampled, gap-free 1-second time series.
type SeriesPoint struct {
	Time   time.Time
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// IndicatorSet holds the derived technical indicators for one instrument.
//
// Every field is a pointer: nil means the indicator is unavailable because
// the buffered history is shorter than its required window. Insufficient
// history is an expected state, not an error.
type IndicatorSet struct {
	SMA5         *float64 `json:"sma_5,omitempty"`
	SMA20        *float64 `json:"sma_20,omitempty"`
	EMA5         *float64 `json:"ema_5,omitempty"`
	EMA15        *float64 `json:"ema_15,omitempty"`
	RSI14        *float64 `json:"rsi_14,omitempty"`
	MACD         *float64 `json:"macd,omitempty"`
	MACDSignal   *float64 `json:"macd_signal,omitempty"`
	ATR14        *float64 `json:"atr_14,omitempty"`
	BollingerUp  *float64 `json:"bollinger_upper,omitempty"`
	BollingerMid *float64 `json:"bollinger_mid,omitempty"`
	BollingerLow *float64 `json:"bollinger_lower,omitempty"`
	VWAP         *float64 `json:"vwap,omitempty"`
	Return1      *float64 `json:"return_1,omitempty"`
	Score        *float64 `json:"score,omitempty"`
}

// TickView is the latest-tick fragment of a snapshot message.
type TickView struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Snapshot is the message broadcast to consumers after every processed tick
// and returned by the synchronous query surface.
type Snapshot struct {
	Token         uint32        `json:"token"`
	Symbol        string        `json:"symbol,omitempty"`
	Tick          TickView      `json:"tick"`
	Candle        *Candle       `json:"candle,omitempty"`
	RecentCandles []Candle      `json:"recent_candles,omitempty"`
	Indicators    *IndicatorSet `json:"indicators,omitempty"`
}
