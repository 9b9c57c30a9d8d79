package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 64 << 10
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// consumerSeq disambiguates consumers sharing a remote address.
var consumerSeq atomic.Uint64

// controlMessage is the inbound subscription command from a websocket
// consumer. Symbols are resolved to tokens server-side.
type controlMessage struct {
	Action  string   `json:"action" validate:"required,oneof=subscribe unsubscribe"`
	Tokens  []uint32 `json:"tokens" validate:"omitempty,dive,gt=0"`
	Symbols []string `json:"symbols" validate:"omitempty,dive,required"`
}

// controlAck reports the outcome of a control message back to the consumer.
type controlAck struct {
	OK            bool     `json:"ok"`
	Error         string   `json:"error,omitempty"`
	Unknown       []string `json:"unknown_symbols,omitempty"`
	Subscriptions []uint32 `json:"subscriptions,omitempty"`
}

// wsConsumer adapts one websocket connection to the fanout Consumer
// interface. Broadcast payloads and control acks share the write mutex
// because they originate from different goroutines.
type wsConsumer struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConsumer) ID() string { return c.id }

func (c *wsConsumer) Send(ctx context.Context, payload []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleWS upgrades the request, registers the connection as a broadcast
// consumer, and serves control messages until the consumer disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	consumer := &wsConsumer{
		id:   fmt.Sprintf("%s#%d", r.RemoteAddr, consumerSeq.Add(1)),
		conn: conn,
	}
	conn.SetReadLimit(wsReadLimit)

	s.fan.Register(consumer)
	s.log.Info().Str("consumer", consumer.id).Msg("consumer connected")

	defer func() {
		s.fan.Unregister(consumer.id)
		_ = conn.Close()
		s.log.Info().Str("consumer", consumer.id).Msg("consumer disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Str("consumer", consumer.id).Msg("unexpected websocket closure")
			}
			return
		}
		s.handleControl(consumer, data)
	}
}

// handleControl applies one subscription command and acks the result.
// Malformed commands are rejected without touching the subscription set.
func (s *Server) handleControl(c *wsConsumer, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.ack(c, controlAck{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.validate.Struct(&msg); err != nil {
		s.ack(c, controlAck{Error: "invalid command: " + err.Error()})
		return
	}
	if len(msg.Tokens) == 0 && len(msg.Symbols) == 0 {
		s.ack(c, controlAck{Error: "tokens or symbols required"})
		return
	}

	tokens := append([]uint32(nil), msg.Tokens...)
	var unknown []string
	for _, sym := range msg.Symbols {
		tok, ok := s.res.Resolve(sym)
		if !ok {
			unknown = append(unknown, sym)
			continue
		}
		tokens = append(tokens, tok)
	}

	switch msg.Action {
	case "subscribe":
		s.eng.Subscribe(tokens...)
	case "unsubscribe":
		s.eng.Unsubscribe(tokens...)
	}

	s.ack(c, controlAck{
		OK:            len(unknown) == 0,
		Unknown:       unknown,
		Subscriptions: s.eng.Subscriptions(),
	})
}

func (s *Server) ack(c *wsConsumer, ack controlAck) {
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := c.Send(ctx, payload); err != nil {
		s.log.Warn().Err(err).Str("consumer", c.id).Msg("ack send failed")
	}
}
