package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickstream/internal/config"
	"tickstream/internal/engine"
	"tickstream/internal/fanout"
	"tickstream/internal/metrics"
	"tickstream/internal/model"
	"tickstream/internal/resolver"
	"tickstream/internal/series"
	"tickstream/internal/subs"
)

type testStack struct {
	srv *Server
	eng *engine.Engine
	fan *fanout.Fanout
	ts  *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	cfg := config.Default()
	cfg.Instruments = map[string]uint32{"RELIANCE": 408065}

	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)
	store := series.NewStore(series.Config{Interval: time.Minute})
	registry := subs.NewRegistry()
	fan := fanout.New(fanout.Config{}, zerolog.Nop(), met)
	eng := engine.New(store, registry, fan, met, zerolog.Nop())
	res := resolver.NewStatic(cfg.Instruments)
	srv := New(cfg, eng, fan, res, promReg, zerolog.Nop())

	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(func() {
		ts.Close()
		fan.Close()
	})

	return &testStack{srv: srv, eng: eng, fan: fan, ts: ts}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	st := newTestStack(t)

	var body map[string]string
	code := getJSON(t, st.ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestSnapshotEndpoint(t *testing.T) {
	st := newTestStack(t)

	t.Run("missing parameters", func(t *testing.T) {
		code := getJSON(t, st.ts.URL+"/snapshot", nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("malformed token", func(t *testing.T) {
		code := getJSON(t, st.ts.URL+"/snapshot?token=-1", nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		code := getJSON(t, st.ts.URL+"/snapshot?symbol=NOPE", nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("no data yet", func(t *testing.T) {
		code := getJSON(t, st.ts.URL+"/snapshot?token=408065", nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	st.eng.HandleRaw([]byte(`{"instrument_token": 408065, "last_price": "1520.55", "tradingsymbol": "RELIANCE"}`))

	t.Run("by token", func(t *testing.T) {
		var snap model.Snapshot
		code := getJSON(t, st.ts.URL+"/snapshot?token=408065", &snap)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, uint32(408065), snap.Token)
		assert.True(t, snap.Tick.Price.Equal(decimal.RequireFromString("1520.55")))
		require.NotNil(t, snap.Candle)
	})

	t.Run("by symbol", func(t *testing.T) {
		var snap model.Snapshot
		code := getJSON(t, st.ts.URL+"/snapshot?symbol=reliance", &snap)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, uint32(408065), snap.Token)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	st := newTestStack(t)
	st.eng.HandleRaw([]byte(`{"token": 1, "price": 10}`))

	resp, err := http.Get(st.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tickstream_ticks_processed_total 1")
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestWebsocketControlMessages(t *testing.T) {
	st := newTestStack(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(st.ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	readAck := func() controlAck {
		var ack controlAck
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &ack))
		return ack
	}

	send := func(msg string) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	t.Run("invalid action rejected", func(t *testing.T) {
		send(`{"action": "destroy", "tokens": [1]}`)
		ack := readAck()
		assert.False(t, ack.OK)
		assert.NotEmpty(t, ack.Error)
	})

	t.Run("empty selection rejected", func(t *testing.T) {
		send(`{"action": "subscribe"}`)
		ack := readAck()
		assert.NotEmpty(t, ack.Error)
	})

	t.Run("subscribe by token and symbol", func(t *testing.T) {
		send(`{"action": "subscribe", "tokens": [7], "symbols": ["RELIANCE"]}`)
		ack := readAck()
		assert.True(t, ack.OK)
		assert.Equal(t, []uint32{7, 408065}, ack.Subscriptions)
	})

	t.Run("unknown symbols reported", func(t *testing.T) {
		send(`{"action": "subscribe", "symbols": ["NOPE"]}`)
		ack := readAck()
		assert.False(t, ack.OK)
		assert.Equal(t, []string{"NOPE"}, ack.Unknown)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		send(`{"action": "unsubscribe", "tokens": [7]}`)
		ack := readAck()
		assert.True(t, ack.OK)
		assert.Equal(t, []uint32{408065}, ack.Subscriptions)
	})
}

func TestWebsocketReceivesBroadcasts(t *testing.T) {
	st := newTestStack(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(st.ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the consumer to be registered with the fanout.
	require.Eventually(t, func() bool { return st.fan.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	st.eng.HandleRaw([]byte(`{"token": 42, "price": 101}`))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, uint32(42), snap.Token)
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	st := newTestStack(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(st.ts), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return st.fan.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return st.fan.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}
