// Command client is a minimal streaming consumer for manual testing: it
// connects to a running server, subscribes to instruments, and prints every
// snapshot it receives.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type command struct {
	Action  string   `json:"action"`
	Tokens  []uint32 `json:"tokens,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "server websocket URL")
	tokenList := flag.String("tokens", "", "comma-separated instrument tokens")
	symbolList := flag.String("symbols", "", "comma-separated instrument symbols")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	tokens, err := parseTokens(*tokenList)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -tokens")
	}
	symbols := splitList(*symbolList)
	if len(tokens) == 0 && len(symbols) == 0 {
		log.Fatal().Msg("at least one of -tokens or -symbols is required")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("dial failed")
	}
	defer conn.Close()

	sub := command{Action: "subscribe", Tokens: tokens, Symbols: symbols}
	payload, err := json.Marshal(sub)
	if err != nil {
		log.Fatal().Err(err).Msg("marshal subscribe")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Fatal().Err(err).Msg("subscribe failed")
	}
	log.Info().Uints32("tokens", tokens).Strs("symbols", symbols).Msg("subscribed")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Msg("read error")
				return
			}
			log.Info().RawJSON("snapshot", data).Msg("received")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
	case <-sig:
		log.Info().Msg("interrupted, closing")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
}

func parseTokens(s string) ([]uint32, error) {
	var out []uint32
	for _, part := range splitList(s) {
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
