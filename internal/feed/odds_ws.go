// Package feed connects the core to its quote transport: a WebSocket client
// for the odds provider and a bus consumer that drives the quote store and
// event-triggered detection.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

const (
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = (pongWait * 9) / 10
	defaultReconnectDelay = 2 * time.Second
	handshakeTimeout      = 15 * time.Second
)

// subscribeCommand is the frame sent to the odds provider after connecting.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Markets []string `json:"markets"`
}

// OddsWSFeed connects to the odds provider's WebSocket, subscribes to the
// configured markets, and republishes every quote frame onto the signal bus
// "quotes" channel. It reconnects with a fixed delay on disconnect.
type OddsWSFeed struct {
	wsURL     string
	markets   []string
	reconnect time.Duration
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewOddsWSFeed creates a feed for the given provider URL and market IDs.
// A non-positive reconnect delay falls back to the default.
func NewOddsWSFeed(wsURL string, markets []string, reconnect time.Duration, bus domain.SignalBus, logger *slog.Logger) *OddsWSFeed {
	if reconnect <= 0 {
		reconnect = defaultReconnectDelay
	}
	return &OddsWSFeed{
		wsURL:     wsURL,
		markets:   markets,
		reconnect: reconnect,
		bus:       bus,
		logger:    logger.With(slog.String("component", "odds_ws_feed")),
	}
}

// Run connects and pumps frames until ctx is cancelled, reconnecting on
// disconnect.
func (f *OddsWSFeed) Run(ctx context.Context) error {
	if len(f.markets) == 0 {
		f.logger.Info("no markets configured, feed exiting")
		return nil
	}
	for {
		if err := f.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("odds ws disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnect):
		}
	}
}

func (f *OddsWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	cmd := subscribeCommand{Type: "subscribe", Markets: f.markets}
	payload, _ := json.Marshal(cmd)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("odds ws subscribed", slog.Int("markets", len(f.markets)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Keep-alive pings until the connection or context dies.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		if err := f.bus.Publish(ctx, "quotes", data); err != nil {
			f.logger.Warn("publish quote frame failed",
				slog.String("error", err.Error()),
			)
		}
	}
}
