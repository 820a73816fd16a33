package enrichment

import (
	"context"
	"net/http"
	"strings"
	"time"

	"memecoin-signal-lab/internal/domain"
)

// DefaultRugCheckURL is the public RugCheck API base.
const DefaultRugCheckURL = "https://api.rugcheck.xyz"

// honeypotRisks are RugCheck risk names that indicate a holder may be unable to sell.
var honeypotRisks = []string{"freeze authority", "honeypot", "transfer fee", "permanent delegate", "non-transferable"}

// RugCheck supplies rug risk, honeypot risk, holder count and creator balance.
type RugCheck struct {
	baseURL string
	http    *httpJSON
	now     func() time.Time
}

// NewRugCheck creates the holder/contract risk enricher.
func NewRugCheck(baseURL, apiKey string, client *http.Client) *RugCheck {
	if baseURL == "" {
		baseURL = DefaultRugCheckURL
	}
	return &RugCheck{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPJSON(SourceRugCheck, client, map[string]string{"X-API-KEY": apiKey}),
		now:     time.Now,
	}
}

// Name returns the source name.
func (r *RugCheck) Name() string { return SourceRugCheck }

type rugReport struct {
	ScoreNormalised *float64 `json:"score_normalised"`
	Risks           []struct {
		Name  string `json:"name"`
		Level string `json:"level"`
	} `json:"risks"`
	TotalHolders   *int64   `json:"totalHolders"`
	CreatorBalance *float64 `json:"creatorBalance"`
	Rugged         bool     `json:"rugged"`
}

// Fetch queries /v1/tokens/{address}/report.
func (r *RugCheck) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	var report rugReport
	if err := r.http.get(ctx, r.baseURL+"/v1/tokens/"+address+"/report", &report); err != nil {
		return nil, err
	}

	out := &domain.PartialEnrichment{
		Source:         SourceRugCheck,
		FetchedAt:      r.now().UTC(),
		HolderCount:    report.TotalHolders,
		CreatorBalance: report.CreatorBalance,
	}

	switch {
	case report.Rugged:
		out.RugRiskScore = ptr(1.0)
	case report.ScoreNormalised != nil:
		out.RugRiskScore = ptr(clamp01(*report.ScoreNormalised / 100))
	}

	// The report always lists risks; an empty list is a measured zero.
	honeypot := 0.0
	for _, risk := range report.Risks {
		if !isHoneypotRisk(risk.Name) {
			continue
		}
		switch strings.ToLower(risk.Level) {
		case "danger":
			honeypot = 1
		case "warn":
			if honeypot < 0.5 {
				honeypot = 0.5
			}
		}
	}
	out.HoneypotRisk = ptr(honeypot)

	return out, nil
}

func isHoneypotRisk(name string) bool {
	n := strings.ToLower(name)
	for _, r := range honeypotRisks {
		if strings.Contains(n, r) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
