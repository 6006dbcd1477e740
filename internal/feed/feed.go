// Package feed provides the inbound notification channel of a backtest run:
// a websocket connection delivering an ordered, finite sequence of packets
// per run. The feed does not reconnect; a closed connection while a run is
// live is a terminal condition the consumer resolves as connection lost.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"backtest-console/internal/domain"
)

// Config configures feed client behavior.
type Config struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the per-message read deadline; pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout bounds control-frame writes.
	WriteTimeout time.Duration
	// Buffer is the packet channel capacity.
	Buffer int
}

// DefaultConfig returns default feed configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		Buffer:           64,
	}
}

// Client subscribes to a run notification endpoint.
type Client struct {
	endpoint string
	config   Config
	logger   *log.Logger
}

// NewClient creates a feed client for the endpoint.
func NewClient(endpoint string, config *Config, logger *log.Logger) *Client {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{endpoint: endpoint, config: cfg, logger: logger}
}

// Subscribe dials the endpoint and returns the packet channel. The channel
// preserves delivery order and is closed when the connection drops, the
// context is cancelled, or the server closes, whichever happens first. A
// message that does not decode is delivered as a zero packet so the consumer
// can treat it as malformed rather than silently losing it.
func (c *Client) Subscribe(ctx context.Context) (<-chan domain.Packet, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("feed dial %s: %w", c.endpoint, err)
	}

	ch := make(chan domain.Packet, c.config.Buffer)
	done := make(chan struct{})
	var wg sync.WaitGroup

	conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		defer close(ch)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.logger.Printf("feed read: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

			var p domain.Packet
			if err := json.Unmarshal(msg, &p); err != nil {
				c.logger.Printf("feed decode: %v", err)
				p = domain.Packet{} // fails validation downstream
			}

			select {
			case ch <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(c.config.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.Close()
					return
				}
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.config.WriteTimeout))
				conn.Close()
				return
			case <-done:
				conn.Close()
				return
			}
		}
	}()

	return ch, nil
}
