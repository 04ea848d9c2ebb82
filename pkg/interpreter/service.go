// Package interpreter follows a meter_reader websocket feed.
package interpreter

import (
	"context"
	"net/url"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second

	// Indicator changes arrive at least once per poll cycle.
	readDeadline = 5 * time.Minute
	pingInterval = 30 * time.Second
)

// Listener reconnects with exponential backoff and hands every message to
// the handler.
type Listener struct {
	URL     url.URL
	Handler func(msg *types.Message)
	// retryDelay is overridable for tests
	retryDelay func(attempt int) time.Duration
}

func NewListener(host string, tls bool, handler func(msg *types.Message)) *Listener {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	return &Listener{
		URL:        url.URL{Scheme: scheme, Host: host, Path: "/ws"},
		Handler:    handler,
		retryDelay: backoff,
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * baseRetryDelay
	if d > maxRetryDelay || d <= 0 {
		d = maxRetryDelay
	}
	return d
}

// Run blocks until ctx is done or maxRetries consecutive connection
// attempts failed.
func (l *Listener) Run(ctx context.Context) error {
	retryCount := 0
	var lastErr error
	for {
		if retryCount > 0 {
			delay := l.retryDelay(retryCount - 1)
			log.Info().Dur("delay", delay).Int("attempt", retryCount+1).Int("max", maxRetries).Msg("Retrying connection")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		log.Info().Str("url", l.URL.String()).Msg("Connecting")
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, l.URL.String(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			log.Warn().Err(err).Msg("Connection failed")
			retryCount++
			if retryCount >= maxRetries {
				log.Error().Int("retries", maxRetries).Msg("Max retries reached, giving up")
				return lastErr
			}
			continue
		}

		log.Info().Msg("Connected, accepting meter messages")
		retryCount = 0

		broken := l.handleConnection(ctx, c)
		c.Close()
		if !broken {
			return ctx.Err()
		}
		log.Warn().Msg("Connection lost, will retry")
		retryCount = 1
	}
}

// handleConnection returns true when the connection broke and false on a
// clean shutdown.
func (l *Listener) handleConnection(ctx context.Context, c *websocket.Conn) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readDeadline))
	})

	go func() {
		defer close(done)
		for {
			messageType, payload, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("WebSocket error")
				} else {
					log.Debug().Err(err).Msg("Connection closed")
				}
				return
			}
			c.SetReadDeadline(time.Now().Add(readDeadline))

			if messageType != websocket.TextMessage {
				log.Debug().Int("type", messageType).Msg("Received unexpected message type")
				continue
			}
			msg := types.MessageFromJsonBytes(payload)
			if msg == nil {
				log.Warn().Str("payload", string(payload)).Msg("Failed to parse meter message")
				continue
			}
			l.Handler(msg)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Msg("Failed to send ping")
			}
		case <-ctx.Done():
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Debug().Err(err).Msg("Error sending close message")
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
