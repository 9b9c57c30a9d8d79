package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// defaultPingPeriod defines the interval for websocket ping messages.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout defines the timeout for websocket write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit defines the maximum size of incoming websocket messages.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout defines the maximum time allowed for the websocket handshake.
	defaultHandshakeTimeout = 10 * time.Second
)

// Errors returned by the feed client.
var (
	// ErrClientShuttingDown indicates that the client is shutting down.
	ErrClientShuttingDown = errors.New("client is shutting down")

	// ErrNotConnected indicates a command was sent with no live connection.
	ErrNotConnected = errors.New("not connected")
)

// ClientConfig defines settings for the feed websocket client.
type ClientConfig struct {
	// Endpoint is the upstream websocket URL. Required.
	Endpoint string

	// Handler is called for each incoming frame. Required. Frames are
	// delivered in arrival order from a single goroutine.
	Handler func(frame []byte)

	// OnConnect runs once after the connection and its goroutines are up,
	// before any frame is handled. Used to replay subscriptions.
	OnConnect func(c *Client)

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between websocket ping messages.
	PingPeriod time.Duration

	// SendTimeout is the maximum time allowed for websocket writes.
	SendTimeout time.Duration
}

// command is the upstream control message for managing token subscriptions.
type command struct {
	Action string   `json:"a"`
	Tokens []uint32 `json:"v"`
}

// Client wraps a websocket.Conn with lifecycle and frame handling logic.
//
// One Client represents one connection attempt; on disconnect the owner
// observes DisconnectChan and dials a fresh Client. Writes are serialized
// through an internal mutex so subscription commands and keepalive pings
// never interleave on the wire.
type Client struct {
	conn       atomic.Value // stores *websocket.Conn
	cfg        *ClientConfig
	log        zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	writeMu    sync.Mutex
	disconnect chan struct{}
	errChan    chan error
	once       sync.Once
	wg         sync.WaitGroup
}

// Dial connects to the configured endpoint and starts the client goroutines.
func Dial(ctx context.Context, cfg ClientConfig, log zerolog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("frame handler is required")
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	client := &Client{
		cfg:        &cfg,
		log:        log.With().Str("component", "feed").Str("endpoint", cfg.Endpoint).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
	}

	if err := client.run(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start client: %w", err)
	}

	if cfg.OnConnect != nil {
		cfg.OnConnect(client)
	}

	return client, nil
}

// run establishes the websocket connection and starts the goroutines.
func (c *Client) run() error {
	c.log.Info().Msg("starting feed client")

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}

	c.conn.Store(conn)

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(appData string) error {
		deadline := time.Now().Add(c.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			c.log.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()
	go c.shutdownListener()

	return nil
}

// Subscribe asks the upstream feed to start streaming the given tokens.
func (c *Client) Subscribe(tokens []uint32) error {
	if len(tokens) == 0 {
		return nil
	}
	return c.send(command{Action: "subscribe", Tokens: tokens})
}

// Unsubscribe asks the upstream feed to stop streaming the given tokens.
func (c *Client) Unsubscribe(tokens []uint32) error {
	if len(tokens) == 0 {
		return nil
	}
	return c.send(command{Action: "unsubscribe", Tokens: tokens})
}

func (c *Client) send(cmd command) error {
	connVal := c.conn.Load()
	if connVal == nil {
		return ErrNotConnected
	}
	conn := connVal.(*websocket.Conn)

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	c.log.Debug().Str("action", cmd.Action).Uints32("tokens", cmd.Tokens).Msg("command sent")
	return nil
}

// readLoop continuously reads frames from the websocket connection and hands
// them to the configured handler. Handler panics are recovered so one bad
// frame cannot take the connection down.
func (c *Client) readLoop() {
	conn := c.conn.Load().(*websocket.Conn)
	logger := c.log.With().Str("loop", "read").Logger()

	logger.Info().Msg("starting read loop")
	defer func() {
		logger.Info().Msg("read loop exiting")
		close(c.disconnect)

		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			logger.Info().Msg("context cancelled, exiting read loop")
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info().Err(err).Msg("websocket closed normally")
				} else if websocket.IsUnexpectedCloseError(err) {
					logger.Warn().Err(err).Msg("unexpected websocket closure")
				} else {
					logger.Error().Err(err).Msg("read error")
				}

				select {
				case c.errChan <- err:
				default:
					logger.Warn().Err(err).Msg("error channel full, dropping error")
				}
				return
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Any("recover", r).Msg("panic in frame handler")
					}
				}()
				c.cfg.Handler(data)
			}()
		}
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := c.log.With().Str("loop", "ping").Logger()
	logger.Info().Dur("period", c.cfg.PingPeriod).Msg("starting ping loop")
	defer logger.Info().Msg("ping loop exiting")

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			c.writeMu.Lock()
			err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
			if err == nil {
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.writeMu.Unlock()

			if err != nil {
				logger.Warn().Err(err).Msg("ping error")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// shutdownListener waits for context cancellation and closes the connection.
// It runs outside the WaitGroup: Close waits on the group, and this goroutine
// in turn waits on Close when the cancellation came from Close itself.
func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	c.Close()
}

// Close gracefully shuts down the client. Safe to call multiple times.
func (c *Client) Close() {
	c.once.Do(func() {
		c.log.Info().Msg("initiating graceful shutdown")

		c.cancel()

		if connVal := c.conn.Load(); connVal != nil {
			if conn, ok := connVal.(*websocket.Conn); ok {
				if err := conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				); err != nil {
					c.log.Warn().Err(err).Msg("failed to send close frame")
				}
				if err := conn.Close(); err != nil {
					c.log.Warn().Err(err).Msg("error closing websocket connection")
				}
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			c.log.Info().Msg("all goroutines completed")
		case <-time.After(5 * time.Second):
			c.log.Warn().Msg("timeout waiting for goroutines to complete")
		}
	})
}

// dial establishes the websocket connection.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			c.log.Error().Err(err).Int("statusCode", resp.StatusCode).Msg("connection failed")
		} else {
			c.log.Error().Err(err).Msg("connection failed")
		}
		return nil, err
	}

	c.log.Info().Msg("websocket connection established")
	return conn, nil
}

// DisconnectChan returns a channel closed when the connection is lost.
func (c *Client) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan returns a channel that emits the terminal read error.
func (c *Client) ErrChan() <-chan error {
	return c.errChan
}
