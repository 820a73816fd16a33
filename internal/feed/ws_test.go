package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memecoin-signal-lab/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.Buffer = 16
	return cfg
}

func receive(t *testing.T, ch <-chan domain.InboundMessage, n int) []domain.InboundMessage {
	t.Helper()
	var got []domain.InboundMessage
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case m, ok := <-ch:
			require.True(t, ok, "channel closed after %d messages", len(got))
			got = append(got, m)
		case <-timeout:
			t.Fatalf("received %d of %d messages", len(got), n)
		}
	}
	return got
}

func TestWSSource_DecodesFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		frames := []string{
			`{"text":"🚀 $BONK gem","channel":"CryptoGems","timestamp":"2026-01-02T15:04:05Z"}`,
			`not json`,
			`[{"text":"first","channel":"a"},{"text":"  ","channel":"b"},{"text":"second","channel":"c"}]`,
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}

		// Keep connection open
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewWSSource(wsURL(server), testConfig()).Messages(ctx)
	got := receive(t, ch, 3)

	assert.Equal(t, "🚀 $BONK gem", got[0].Text)
	assert.Equal(t, "CryptoGems", got[0].Channel)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), got[0].Timestamp)
	assert.Equal(t, "first", got[1].Text)
	assert.False(t, got[1].Timestamp.IsZero(), "missing timestamps are stamped on receipt")
	assert.Equal(t, "second", got[2].Text)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes after cancel")
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestWSSource_Reconnects(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		n := connections.Add(1)
		_ = c.WriteJSON(domain.InboundMessage{Text: "hello", Channel: "conn"})
		if n == 1 {
			// Drop the first connection abruptly
			c.Close()
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := receive(t, NewWSSource(wsURL(server), testConfig()).Messages(ctx), 2)
	assert.Len(t, got, 2)
	assert.GreaterOrEqual(t, connections.Load(), int32(2))
}

func TestWSSource_RetriesFailedDial(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteJSON(domain.InboundMessage{Text: "finally", Channel: "x"})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := receive(t, NewWSSource(wsURL(server), testConfig()).Messages(ctx), 1)
	assert.Equal(t, "finally", got[0].Text)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestDecodeFrame(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := decodeFrame([]byte("   "), now)
	assert.Error(t, err)

	_, err = decodeFrame([]byte(`[{"text": 1}]`), now)
	assert.Error(t, err)

	msgs, err := decodeFrame([]byte(`{"text":"","channel":"c"}`), now)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = decodeFrame([]byte(`{"text":"gm","channel":"c"}`), now)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, now, msgs[0].Timestamp)
}

func TestNewWSSource_Defaults(t *testing.T) {
	s := NewWSSource("ws://localhost", Config{})
	def := DefaultConfig()
	assert.Equal(t, def.ReconnectDelay, s.config.ReconnectDelay)
	assert.Equal(t, def.MaxReconnectDelay, s.config.MaxReconnectDelay)
	assert.Equal(t, def.Buffer, s.config.Buffer)
}
