package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"memecoin-signal-lab/internal/domain"
)

// Discord posts alerts to a Discord webhook as an embed.
type Discord struct {
	webhookURL string
	username   string
	client     *http.Client
	log        zerolog.Logger
}

// NewDiscord creates a Discord notifier. A nil client uses a 10s timeout.
func NewDiscord(webhookURL, username string, client *http.Client, logger zerolog.Logger) *Discord {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discord{
		webhookURL: webhookURL,
		username:   username,
		client:     client,
		log:        logger.With().Str("component", "discord").Logger(),
	}
}

// discordPayload represents Discord webhook message structure
type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordFooter      `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Notify posts the alert and reports whether Discord accepted it.
func (d *Discord) Notify(ctx context.Context, coin *domain.EnrichedCoin) bool {
	body, err := json.Marshal(discordPayload{
		Username: d.username,
		Embeds:   []discordEmbed{d.embed(coin)},
	})
	if err != nil {
		d.log.Error().Err(err).Msg("marshal discord payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		d.log.Error().Err(err).Msg("build discord request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn().Err(err).Str("address", coin.ContractAddress).Msg("discord webhook failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.log.Warn().Int("status", resp.StatusCode).Str("address", coin.ContractAddress).Msg("discord webhook rejected alert")
		return false
	}

	d.log.Debug().Str("address", coin.ContractAddress).Int("status", resp.StatusCode).Msg("discord alert sent")
	return true
}

func (d *Discord) embed(coin *domain.EnrichedCoin) discordEmbed {
	e := discordEmbed{
		Title:       Title(coin),
		Description: fmt.Sprintf("`%s`", coin.ContractAddress),
		Color:       confidenceColor(coin.RunnerConfidence),
		Fields: []discordEmbedField{
			{Name: "Price", Value: "$" + FormatPrice(coin.CurrentPrice), Inline: true},
			{Name: "24h", Value: signedPct(coin.PriceChange24h), Inline: true},
			{Name: "Market Cap", Value: FormatUSD(coin.MarketCap), Inline: true},
			{Name: "Volume 24h", Value: FormatUSD(coin.Volume24h), Inline: true},
			{Name: "Liquidity", Value: FormatUSD(coin.LiquidityUSD), Inline: true},
			{Name: "Holders", Value: fmt.Sprintf("%d", coin.HolderCount), Inline: true},
			{Name: "Rug Risk", Value: fmt.Sprintf("%.2f", coin.RugRiskScore), Inline: true},
			{Name: "Social", Value: fmt.Sprintf("%.2f", coin.SocialScore), Inline: true},
			{Name: "RSI", Value: fmt.Sprintf("%.1f", coin.RSI), Inline: true},
		},
	}
	if coin.Source != "" {
		e.Footer = &discordFooter{Text: "via " + coin.Source}
	}
	if !coin.EnrichmentTimestamp.IsZero() {
		e.Timestamp = coin.EnrichmentTimestamp.UTC().Format(time.RFC3339)
	}
	return e
}

// confidenceColor maps runner confidence to an embed color.
func confidenceColor(confidence float64) int {
	switch {
	case confidence >= 75:
		return 0x2ECC71 // green
	case confidence >= 50:
		return 0xF1C40F // amber
	default:
		return 0xE74C3C // red
	}
}

var _ Notifier = (*Discord)(nil)
