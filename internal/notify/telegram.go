package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"memecoin-signal-lab/internal/domain"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// Telegram sends alerts through the Bot API sendMessage method.
type Telegram struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
	log     zerolog.Logger
}

// NewTelegram creates a Telegram notifier. An empty apiBase uses DefaultTelegramAPI.
func NewTelegram(apiBase, token, chatID string, client *http.Client, logger zerolog.Logger) *Telegram {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Telegram{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		chatID:  chatID,
		client:  client,
		log:     logger.With().Str("component", "telegram").Logger(),
	}
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Notify sends the alert and reports whether the Bot API returned ok.
func (t *Telegram) Notify(ctx context.Context, coin *domain.EnrichedCoin) bool {
	body, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  FormatAlert(coin),
		DisableWebPagePreview: true,
	})
	if err != nil {
		t.log.Error().Err(err).Msg("marshal telegram message")
		return false
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.log.Error().Err(err).Msg("build telegram request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the token; log only the address.
		t.log.Warn().Str("address", coin.ContractAddress).Msg("telegram request failed")
		return false
	}
	defer resp.Body.Close()

	var out telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		t.log.Warn().Err(err).Int("status", resp.StatusCode).Msg("decode telegram response")
		return false
	}
	if !out.OK {
		t.log.Warn().Int("code", out.ErrorCode).Str("description", out.Description).Msg("telegram rejected alert")
		return false
	}
	return true
}

var _ Notifier = (*Telegram)(nil)
