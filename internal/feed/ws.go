package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbengine/internal/market"
)

const (
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	writeWait         = 10 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// WSFeed consumes pushed Frame messages from a websocket endpoint. Run
// keeps the connection alive; Fetch returns what arrived since the last
// call.
type WSFeed struct {
	url       string
	subscribe []byte
	buf       *buffer
	logger    *slog.Logger
}

// NewWSFeed creates a websocket feed. subscribe, if non-empty, is sent as a
// text message after every (re)connect.
func NewWSFeed(url string, subscribe []byte, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:       url,
		subscribe: subscribe,
		buf:       newBuffer(),
		logger:    logger.With(slog.String("component", "ws_feed")),
	}
}

// Fetch implements Feed.
func (f *WSFeed) Fetch(context.Context) (market.Update, error) {
	return f.buf.drain(), nil
}

// Run connects and reads frames until ctx is cancelled, reconnecting with
// exponential backoff.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ws feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("ws feed: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	if len(f.subscribe) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, f.subscribe); err != nil {
			return fmt.Errorf("ws feed: subscribe: %w", err)
		}
	}
	f.logger.Info("ws feed connected", slog.String("url", f.url))

	// The reader goroutine owns reads; this goroutine owns writes.
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			var fr Frame
			if err := json.Unmarshal(data, &fr); err != nil {
				f.logger.Debug("ws feed: bad frame", slog.String("error", err.Error()))
				continue
			}
			f.buf.add(fr.Update())
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-errCh:
			return fmt.Errorf("ws feed: read: %w", err)
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ws feed: ping: %w", err)
			}
		}
	}
}
