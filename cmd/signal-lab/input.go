package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"memecoin-signal-lab/internal/domain"
)

const maxLineBytes = 1 << 20

// openInput returns the named file, or stdin for "" and "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// readMessages reads one message per line. A line starting with '{' is a
// JSON InboundMessage; any other non-empty line is message text from channel.
func readMessages(r io.Reader, channel string, now time.Time) ([]domain.InboundMessage, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var msgs []domain.InboundMessage
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if raw[0] != '{' {
			msgs = append(msgs, domain.InboundMessage{Text: string(raw), Channel: channel, Timestamp: now})
			continue
		}

		var m domain.InboundMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if m.Channel == "" {
			m.Channel = channel
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		m.Text = strings.TrimSpace(m.Text)
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return msgs, nil
}
