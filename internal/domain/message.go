package domain

import "time"

// InboundMessage is one raw channel message as delivered by a feed.
// JSON shape: {"text": "...", "channel": "...", "timestamp": "2024-01-02T15:04:05Z"}.
type InboundMessage struct {
	Text      string    `json:"text"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}
