package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/parser"
	"memecoin-signal-lab/internal/pipeline"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReadMessages(t *testing.T) {
	input := strings.Join([]string{
		`$BONK CA: ` + bonk,
		``,
		`{"text":"  second  ","channel":"CryptoGems","timestamp":"2026-02-28T10:00:00Z"}`,
		`{"text":"no channel"}`,
	}, "\n")

	msgs, err := readMessages(strings.NewReader(input), "stdin", now)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, domain.InboundMessage{Text: "$BONK CA: " + bonk, Channel: "stdin", Timestamp: now}, msgs[0])
	assert.Equal(t, "second", msgs[1].Text)
	assert.Equal(t, "CryptoGems", msgs[1].Channel)
	assert.Equal(t, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), msgs[1].Timestamp.UTC())
	assert.Equal(t, "stdin", msgs[2].Channel)
	assert.Equal(t, now, msgs[2].Timestamp)
}

func TestReadMessages_BadJSON(t *testing.T) {
	_, err := readMessages(strings.NewReader("ok\n{not json"), "stdin", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseAll(t *testing.T) {
	msgs := []domain.InboundMessage{
		{Text: "🚀 $BONK CA: " + bonk + " MC: $1.2M", Channel: "gems", Timestamp: now},
		{Text: "   ", Channel: "gems", Timestamp: now},
	}
	signals, errs := parseAll(parser.New(), msgs)
	require.Len(t, signals, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, bonk, signals[0].ContractAddress())
	assert.Contains(t, errs[0], "message 1")
}

func TestPrintSignals_JSON(t *testing.T) {
	sig := &domain.RawSignal{
		Channel:         "gems",
		Text:            "$BONK",
		Fields:          map[string]string{domain.FieldSymbol: "BONK"},
		ParseConfidence: 0.25,
	}
	var buf bytes.Buffer
	require.NoError(t, printSignals(&buf, "json", []*domain.RawSignal{sig}, []string{"message 1: empty"}))

	var out struct {
		Signals []domain.RawSignal `json:"signals"`
		Errors  []string           `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Signals, 1)
	assert.Equal(t, "BONK", out.Signals[0].Fields[domain.FieldSymbol])
	assert.Equal(t, []string{"message 1: empty"}, out.Errors)
}

func TestPrintSignals_Table(t *testing.T) {
	sig := &domain.RawSignal{Channel: "gems", Fields: map[string]string{domain.FieldSymbol: "BONK"}, ParseConfidence: 0.25}
	var buf bytes.Buffer
	require.NoError(t, printSignals(&buf, "table", []*domain.RawSignal{sig}, nil))
	out := buf.String()
	assert.Contains(t, out, "CHANNEL")
	assert.Contains(t, out, "BONK")
	assert.Contains(t, out, "0.25")
}

func TestPrintResult_Table(t *testing.T) {
	res := &pipeline.Result{
		Stats: domain.PipelineStats{
			RunID: "run-1", Total: 2, Processed: 2, Successful: 1, Degraded: 1,
			SourceFailures: map[string]int{"social": 1, "rugcheck": 2},
		},
		Outcomes: []domain.ItemOutcome{
			{ItemID: bonk, ContractAddress: bonk, Status: domain.OutcomeDegraded, RunnerConfidence: 61.5, FailedSources: []string{"social"}},
			{ItemID: "message-1", Status: domain.OutcomeDropped, Err: "no contract address"},
		},
		Coins: []*domain.EnrichedCoin{{ContractAddress: bonk, Symbol: "BONK", CurrentPrice: 0.000015, MarketCap: 1_200_000}},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "table", res))
	out := buf.String()
	assert.Contains(t, out, "Run run-1: 2 items")
	assert.Contains(t, out, "source failures: rugcheck=2, social=1")
	assert.Contains(t, out, "$0.000015")
	assert.Contains(t, out, "$1.20M")
	assert.Contains(t, out, "failed: social")
	assert.Contains(t, out, "no contract address")
}

func TestPrintResult_JSON(t *testing.T) {
	res := &pipeline.Result{Stats: domain.PipelineStats{RunID: "run-2"}, Cancelled: true}
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "JSON", res))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, true, out["cancelled"])
	assert.Equal(t, "run-2", out["stats"].(map[string]any)["run_id"])
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"parse", "ingest", "enrich", "pending", "listen", "serve"} {
		assert.True(t, names[want], want)
	}
}
