package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func jsonServer(t *testing.T, wantPath string, status int, body interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantPath != "" {
			assert.Equal(t, wantPath, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestDexScreener_PicksMostLiquidBasePair(t *testing.T) {
	server := jsonServer(t, "/latest/dex/tokens/"+bonk, http.StatusOK, map[string]interface{}{
		"pairs": []map[string]interface{}{
			{
				"chainId":     "solana",
				"baseToken":   map[string]string{"address": bonk},
				"priceUsd":    "0.0000120",
				"priceChange": map[string]float64{"h24": 3.5},
				"volume":      map[string]float64{"h24": 1000},
				"liquidity":   map[string]float64{"usd": 5000},
				"fdv":         1e6,
			},
			{
				"chainId":     "solana",
				"baseToken":   map[string]string{"address": bonk},
				"priceUsd":    "0.0000123",
				"priceChange": map[string]float64{"h24": -12.5},
				"volume":      map[string]float64{"h24": 250000},
				"liquidity":   map[string]float64{"usd": 900000},
				"fdv":         5.1e7,
				"marketCap":   5e7,
			},
			{
				"chainId":   "ethereum",
				"baseToken": map[string]string{"address": bonk},
				"priceUsd":  "9",
				"liquidity": map[string]float64{"usd": 1e9},
			},
		},
	})
	defer server.Close()

	e, err := NewDexScreener(server.URL, nil).Fetch(context.Background(), bonk)
	require.NoError(t, err)

	assert.Equal(t, SourceDexScreener, e.Source)
	assert.InDelta(t, 0.0000123, *e.CurrentPrice, 1e-12)
	assert.Equal(t, -12.5, *e.PriceChange24h)
	assert.Equal(t, 250000.0, *e.Volume24h)
	assert.Equal(t, 900000.0, *e.LiquidityUSD)
	assert.Equal(t, 5e7, *e.MarketCap)
	assert.Nil(t, e.Symbol, "symbol belongs to the on-chain source")
	assert.Nil(t, e.RugRiskScore)
}

func TestDexScreener_NoPairsIsEmpty(t *testing.T) {
	server := jsonServer(t, "", http.StatusOK, map[string]interface{}{"pairs": nil})
	defer server.Close()

	e, err := NewDexScreener(server.URL, nil).Fetch(context.Background(), bonk)
	require.NoError(t, err)
	assert.True(t, e.Empty())
}

func TestHTTPJSON_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "429 with retry-after",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"Retry-After": "12"},
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 12*time.Second, rl.RetryAfter)
				assert.True(t, IsRetryable(err))
			},
		},
		{
			name:    "429 with reset delta",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"X-RateLimit-Reset": "4"},
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 4*time.Second, rl.RetryAfter)
			},
		},
		{
			name:   "429 without hint",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Zero(t, rl.RetryAfter)
			},
		},
		{
			name:   "503 retryable",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				var se *SourceError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, KindStatus, se.Kind)
				assert.True(t, se.Retryable)
			},
		},
		{
			name:   "400 not retryable",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name:   "404 not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var se *SourceError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, KindNotFound, se.Kind)
				assert.False(t, se.Retryable)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   "<html>",
			check: func(t *testing.T, err error) {
				var se *SourceError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, KindMalformed, se.Kind)
				assert.False(t, IsRetryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewDexScreener(server.URL, nil).Fetch(context.Background(), bonk)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHTTPJSON_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewDexScreener(url, nil).Fetch(context.Background(), bonk)
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindNetwork, se.Kind)
	assert.True(t, se.Retryable)
}

func TestRetryAfter_EpochReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(90*time.Second).Unix(), 10))
	assert.Equal(t, 90*time.Second, retryAfter(h, now))

	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(-time.Second).Unix(), 10))
	assert.Zero(t, retryAfter(h, now))
}

func TestRugCheck_Report(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		assert.Equal(t, "/v1/tokens/"+bonk+"/report", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"score_normalised": 35,
			"risks": []map[string]string{
				{"name": "Low Liquidity", "level": "warn"},
				{"name": "Freeze Authority still enabled", "level": "danger"},
			},
			"totalHolders":   1234,
			"creatorBalance": 5000.5,
		})
	}))
	defer server.Close()

	e, err := NewRugCheck(server.URL, "secret", nil).Fetch(context.Background(), bonk)
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.InDelta(t, 0.35, *e.RugRiskScore, 1e-9)
	assert.Equal(t, 1.0, *e.HoneypotRisk)
	assert.Equal(t, int64(1234), *e.HolderCount)
	assert.Equal(t, 5000.5, *e.CreatorBalance)
	assert.Nil(t, e.CurrentPrice)
}

func TestRugCheck_RuggedAndClean(t *testing.T) {
	server := jsonServer(t, "", http.StatusOK, map[string]interface{}{
		"score_normalised": 5,
		"rugged":           true,
		"risks":            []map[string]string{},
	})
	defer server.Close()

	e, err := NewRugCheck(server.URL, "", nil).Fetch(context.Background(), bonk)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *e.RugRiskScore)
	assert.Equal(t, 0.0, *e.HoneypotRisk)
	assert.Nil(t, e.HolderCount)
}

func TestSocial_Fetch(t *testing.T) {
	var gotAuth, gotAddr string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAddr = r.URL.Query().Get("address")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"social_score":      1.7,
			"sentiment_score":   0.62,
			"telegram_mentions": 41,
			"twitter_mentions":  0,
		})
	}))
	defer server.Close()

	e, err := NewSocial(server.URL+"/v1/buzz?chain=solana", "k", nil).Fetch(context.Background(), bonk)
	require.NoError(t, err)

	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, bonk, gotAddr)
	assert.Equal(t, 1.0, *e.SocialScore, "scores are clamped")
	assert.Equal(t, 0.62, *e.SentimentScore)
	assert.Equal(t, int64(41), *e.TelegramMentions)
	require.NotNil(t, e.TwitterMentions, "measured zero must be present")
	assert.Equal(t, int64(0), *e.TwitterMentions)
}

func TestSocial_NegativeMentionsMalformed(t *testing.T) {
	server := jsonServer(t, "", http.StatusOK, map[string]interface{}{"telegram_mentions": -1})
	defer server.Close()

	_, err := NewSocial(server.URL, "", nil).Fetch(context.Background(), bonk)
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindMalformed, se.Kind)
}

func TestSocial_InvalidEndpoint(t *testing.T) {
	_, err := NewSocial("", "", nil).Fetch(context.Background(), bonk)
	assert.Error(t, err)
	assert.False(t, IsRetryable(err))
}
