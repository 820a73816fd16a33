// Package notify formats enriched coins into alerts and delivers them.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/observability"
)

// Notifier delivers one coin alert. Notify reports whether it was delivered.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, coin *domain.EnrichedCoin) bool
}

// Noop accepts every alert without sending anything.
type Noop struct{}

func (Noop) Name() string { return "noop" }
func (Noop) Notify(context.Context, *domain.EnrichedCoin) bool { return true }

// Multi fans an alert out to every notifier.
type Multi struct {
	Notifiers []Notifier
	Metrics   *observability.Metrics
}

// Name returns "multi".
func (m *Multi) Name() string { return "multi" }

// Notify sends to all notifiers and reports true only if every one succeeded.
func (m *Multi) Notify(ctx context.Context, coin *domain.EnrichedCoin) bool {
	ok := true
	for _, n := range m.Notifiers {
		sent := n.Notify(ctx, coin)
		m.Metrics.RecordAlert(n.Name(), sent)
		ok = ok && sent
	}
	return ok
}

// Threshold forwards only coins whose runner confidence reaches Min.
type Threshold struct {
	Min   float64
	Inner Notifier
}

// NewThreshold wraps inner with a minimum runner confidence.
func NewThreshold(min float64, inner Notifier) *Threshold {
	return &Threshold{Min: min, Inner: inner}
}

// Name returns the wrapped notifier's name.
func (t *Threshold) Name() string { return t.Inner.Name() }

// Eligible reports whether coin clears the threshold.
func (t *Threshold) Eligible(coin *domain.EnrichedCoin) bool {
	return coin != nil && coin.RunnerConfidence >= t.Min
}

// Notify returns false without sending when coin is below the threshold.
func (t *Threshold) Notify(ctx context.Context, coin *domain.EnrichedCoin) bool {
	if !t.Eligible(coin) {
		return false
	}
	return t.Inner.Notify(ctx, coin)
}

// Title returns the one-line alert headline.
func Title(coin *domain.EnrichedCoin) string {
	name := coin.Symbol
	if name == "" {
		name = shortAddress(coin.ContractAddress)
	}
	if coin.Name != "" && !strings.EqualFold(coin.Name, coin.Symbol) {
		name = fmt.Sprintf("%s (%s)", name, coin.Name)
	}
	return fmt.Sprintf("🚀 %s runner confidence %.1f/100", name, coin.RunnerConfidence)
}

// FormatAlert renders coin as a plain-text alert.
func FormatAlert(coin *domain.EnrichedCoin) string {
	var b strings.Builder
	b.WriteString(Title(coin))
	b.WriteString("\n")
	fmt.Fprintf(&b, "CA: %s\n", coin.ContractAddress)
	fmt.Fprintf(&b, "Price: $%s (24h %s, 7d %s)\n",
		FormatPrice(coin.CurrentPrice), signedPct(coin.PriceChange24h), signedPct(coin.PriceChange7d))
	fmt.Fprintf(&b, "MCap: %s | Vol 24h: %s | Liq: %s\n",
		FormatUSD(coin.MarketCap), FormatUSD(coin.Volume24h), FormatUSD(coin.LiquidityUSD))
	fmt.Fprintf(&b, "Risk: rug %.2f | honeypot %.2f | verified %s | top10 %.1f%% | holders %d\n",
		coin.RugRiskScore, coin.HoneypotRisk, yesNo(coin.ContractVerified), coin.Top10HolderPercent, coin.HolderCount)
	fmt.Fprintf(&b, "Social: score %.2f | sentiment %.2f | TG %d | X %d\n",
		coin.SocialScore, coin.SentimentScore, coin.TelegramMentions, coin.TwitterMentions)
	fmt.Fprintf(&b, "RSI %.1f | MACD %s", coin.RSI, decimal.NewFromFloat(coin.MACD).Round(8).String())
	if coin.Source != "" {
		fmt.Fprintf(&b, "\nSource: %s", coin.Source)
	}
	return b.String()
}

// FormatPrice renders a price without exponent notation, keeping the
// significant digits of sub-cent prices.
func FormatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return d.StringFixed(4)
	}
	return d.Round(12).String()
}

// FormatUSD renders a dollar amount with K/M/B shorthand.
func FormatUSD(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("$%.2fK", v/1e3)
	}
	return fmt.Sprintf("$%.2f", v)
}

func signedPct(v float64) string {
	return fmt.Sprintf("%+.1f%%", v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func shortAddress(a string) string {
	if len(a) <= 10 {
		return a
	}
	return a[:4] + "…" + a[len(a)-4:]
}
