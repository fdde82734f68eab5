// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ClientState is the connection state of a feed client
type ClientState int

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
)

func (cs ClientState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ClientConfig configures reconnection
type ClientConfig struct {
	URL                  string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	HandshakeTimeout     time.Duration
}

// DefaultClientConfig returns the standard backoff for url
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:                  url,
		ReconnectInterval:    500 * time.Millisecond,
		MaxReconnectInterval: 30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}

// Client follows a feed, reconnecting with exponential backoff
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	onSnapshot func(Snapshot)
	onState    func(ClientState)

	mu      sync.RWMutex
	state   ClientState
	backoff time.Duration
}

// NewClient creates a client calling onSnapshot for every snapshot received
func NewClient(cfg ClientConfig, onSnapshot func(Snapshot), logger zerolog.Logger) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultClientConfig("").ReconnectInterval
	}
	if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		cfg.MaxReconnectInterval = cfg.ReconnectInterval
	}
	return &Client{
		cfg:        cfg,
		logger:     logger.With().Str("component", "feed-client").Str("url", cfg.URL).Logger(),
		onSnapshot: onSnapshot,
		backoff:    cfg.ReconnectInterval,
	}
}

// OnState registers fn to be called on every state change
func (c *Client) OnState(fn func(ClientState)) {
	c.onState = fn
}

// State returns the connection state
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug().Stringer("state", s).Msg("Feed connection state updated")
	if c.onState != nil {
		c.onState(s)
	}
}

// Run follows the feed until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Feed connection failed")
			c.wait(ctx)
			continue
		}

		c.read(ctx, conn)
		c.setState(StateDisconnected)
		if ctx.Err() == nil {
			c.logger.Info().Msg("Feed connection lost, will reconnect")
			c.wait(ctx)
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.setState(StateConnecting)
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.backoff = c.cfg.ReconnectInterval
	c.mu.Unlock()
	c.setState(StateConnected)
	return conn, nil
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Feed read error")
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		snap, err := Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping undecodable snapshot")
			continue
		}
		if c.onSnapshot != nil {
			c.onSnapshot(snap)
		}
	}
}

// wait sleeps for the current backoff and doubles it
func (c *Client) wait(ctx context.Context) {
	c.mu.Lock()
	d := c.backoff
	c.backoff = min(c.backoff*2, c.cfg.MaxReconnectInterval)
	c.mu.Unlock()

	c.logger.Debug().Dur("delay", d).Msg("Waiting before reconnect")
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
