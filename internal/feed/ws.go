// Package feed delivers raw channel messages from a websocket relay and
// groups them into batches for the pipeline.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/observability"
)

// Config configures websocket feed behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long the connection may stay silent (no message, no pong).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing control frames.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
	// Buffer is the capacity of the outbound message channel.
	Buffer int
	// Header is sent with the handshake, e.g. an Authorization token.
	Header http.Header

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// DefaultConfig returns default websocket configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		Buffer:            1024,
		Logger:            zerolog.Nop(),
	}
}

// WSSource streams InboundMessage frames from a websocket endpoint.
//
// Each text frame is either one JSON message
// {"text": "...", "channel": "...", "timestamp": "2024-01-02T15:04:05Z"}
// or a JSON array of them. Frames that do not decode are counted and skipped.
type WSSource struct {
	endpoint string
	config   Config
	log      zerolog.Logger
}

// NewWSSource creates a source. Zero config fields take DefaultConfig values.
func NewWSSource(endpoint string, config Config) *WSSource {
	def := DefaultConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = def.ReconnectDelay
	}
	if config.MaxReconnectDelay < config.ReconnectDelay {
		config.MaxReconnectDelay = max(def.MaxReconnectDelay, config.ReconnectDelay)
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.Buffer <= 0 {
		config.Buffer = def.Buffer
	}
	return &WSSource{
		endpoint: endpoint,
		config:   config,
		log:      config.Logger.With().Str("component", "feed").Logger(),
	}
}

// Messages connects and streams messages until ctx is done. The connection
// is re-established with exponential backoff after any failure. The returned
// channel is closed once ctx is done.
func (s *WSSource) Messages(ctx context.Context) <-chan domain.InboundMessage {
	out := make(chan domain.InboundMessage, s.config.Buffer)
	go s.run(ctx, out)
	return out
}

func (s *WSSource) run(ctx context.Context, out chan<- domain.InboundMessage) {
	defer close(out)

	delay := s.config.ReconnectDelay
	for ctx.Err() == nil {
		received, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return
		}

		// Reset delay once a session delivered data
		if received > 0 {
			delay = s.config.ReconnectDelay
		}

		s.config.Metrics.RecordFeedReconnect()
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("feed disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// session runs one connection until it fails or ctx is done.
// Returns the number of messages delivered.
func (s *WSSource) session(ctx context.Context, out chan<- domain.InboundMessage) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, s.config.Header)
	if err != nil {
		return 0, fmt.Errorf("websocket dial: %w", err)
	}
	s.log.Info().Str("endpoint", s.endpoint).Msg("feed connected")

	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.config.WriteTimeout))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	go s.pingLoop(conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	received := 0
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("websocket read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		msgs, err := decodeFrame(frame, time.Now().UTC())
		if err != nil {
			s.config.Metrics.RecordFeedMessage("invalid")
			s.log.Warn().Err(err).Int("bytes", len(frame)).Msg("feed frame skipped")
			continue
		}

		for _, m := range msgs {
			select {
			case out <- m:
				received++
				s.config.Metrics.RecordFeedMessage("ok")
			case <-ctx.Done():
				return received, ctx.Err()
			}
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
// WriteControl is safe to call concurrently with ReadMessage.
func (s *WSSource) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				// Connection might be dead, the reader will see it
				return
			}
		}
	}
}

// decodeFrame parses one frame into messages. Messages without a timestamp
// are stamped with now; messages with empty text are dropped.
func decodeFrame(frame []byte, now time.Time) ([]domain.InboundMessage, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var msgs []domain.InboundMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("decode message batch: %w", err)
		}
	} else {
		var m domain.InboundMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = []domain.InboundMessage{m}
	}

	kept := msgs[:0]
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		kept = append(kept, m)
	}
	return kept, nil
}
