// Package feed connects to the upstream market-data websocket and turns its
// loosely-structured JSON payloads into normalized ticks.
package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"tickstream/internal/model"
)

// Errors returned by Normalize. Callers drop the payload and count it; a
// malformed frame must never stall the ingestion loop.
var (
	// ErrBadPayload indicates the frame is not a JSON object.
	ErrBadPayload = errors.New("payload is not a JSON object")

	// ErrNoToken indicates no usable instrument token field was found.
	ErrNoToken = errors.New("no instrument token in payload")

	// ErrNoPrice indicates no usable price field was found.
	ErrNoPrice = errors.New("no price in payload")
)

// Field aliases accepted by the normalizer, in priority order. Upstream
// vendors disagree on naming, so each concept is probed across the spellings
// observed in practice.
var (
	tokenKeys  = []string{"instrument_token", "instrumentToken", "token", "tk"}
	priceKeys  = []string{"last_price", "lastPrice", "ltp", "price", "last_traded_price", "lp"}
	volumeKeys = []string{"volume", "volume_traded", "vol", "qty", "v"}
	timeKeys   = []string{"exchange_timestamp", "last_trade_time", "timestamp", "time", "ts"}
	symbolKeys = []string{"tradingsymbol", "trading_symbol", "symbol", "s"}
)

// epochMillisFloor separates epoch seconds from epoch milliseconds: numeric
// timestamps above it are treated as milliseconds.
const epochMillisFloor = 1e12

// Normalizer converts raw feed payloads into model.Tick values. It is
// stateless apart from the injectable clock and safe for concurrent use.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize extracts a tick from one raw payload.
//
// Token and price are mandatory; a payload missing either is rejected with
// ErrNoToken or ErrNoPrice. Volume and symbol are optional. A missing or
// unparseable timestamp falls back to the local receive time, since a tick
// with an approximate time is worth more than a dropped tick.
func (n *Normalizer) Normalize(raw []byte) (model.Tick, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	tokenRaw, ok := lookup(fields, tokenKeys)
	if !ok {
		return model.Tick{}, ErrNoToken
	}
	token, err := parseToken(tokenRaw)
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrNoToken, err)
	}

	priceRaw, ok := lookup(fields, priceKeys)
	if !ok {
		return model.Tick{}, ErrNoPrice
	}
	price, err := parseDecimal(priceRaw)
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}

	tick := model.Tick{
		Token:     token,
		Price:     price,
		Timestamp: n.now(),
	}

	if volRaw, ok := lookup(fields, volumeKeys); ok {
		if vol, err := parseDecimal(volRaw); err == nil && !vol.IsNegative() {
			tick.Volume = vol
			tick.HasVolume = true
		}
	}

	if tsRaw, ok := lookup(fields, timeKeys); ok {
		if ts, ok := parseTimestamp(tsRaw); ok {
			tick.Timestamp = ts
		}
	}

	if symRaw, ok := lookup(fields, symbolKeys); ok {
		var sym string
		if err := json.Unmarshal(symRaw, &sym); err == nil {
			tick.Symbol = sym
		}
	}

	return tick, nil
}

func lookup(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && len(v) > 0 && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// parseToken accepts a JSON number or a numeric string.
func parseToken(raw json.RawMessage) (uint32, error) {
	s := strings.TrimSpace(string(raw))
	if isQuoted(s) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// parseDecimal accepts a JSON number or a numeric string, preserving the
// textual representation so no float round-trip occurs.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if isQuoted(s) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

// parseTimestamp accepts epoch seconds, epoch milliseconds, RFC3339, or the
// common "2006-01-02 15:04:05" form. Returns false when none apply.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	s := strings.TrimSpace(string(raw))
	if isQuoted(s) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return epochToTime(f), true
	}
	return time.Time{}, false
}

func epochToTime(f float64) time.Time {
	if f > epochMillisFloor {
		return time.UnixMilli(int64(f))
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"'
}
