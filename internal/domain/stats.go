package domain

import "time"

// OutcomeStatus classifies how one batch item ended.
type OutcomeStatus string

const (
	OutcomeEnriched OutcomeStatus = "enriched" // every source answered
	OutcomeDegraded OutcomeStatus = "degraded" // persisted, at least one source failed
	OutcomeDropped  OutcomeStatus = "dropped"  // parse or validation failure, never persisted
	OutcomeSkipped  OutcomeStatus = "skipped"  // not started because the batch was cancelled
)

// ItemOutcome is the per-item result of a pipeline run.
type ItemOutcome struct {
	ItemID           string        `json:"item_id"`
	ContractAddress  string        `json:"contract_address,omitempty"`
	Status           OutcomeStatus `json:"status"`
	RunnerConfidence float64       `json:"runner_confidence"`
	FailedSources    []string      `json:"failed_sources,omitempty"`
	Err              string        `json:"error,omitempty"`
}

// PipelineStats holds run-scoped counters. Mutated by the pipeline only.
type PipelineStats struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`

	Total      int `json:"total"`      // items submitted
	Processed  int `json:"processed"`  // items that reached a terminal outcome other than skipped
	Successful int `json:"successful"` // coin records persisted
	Failed     int `json:"failed"`     // per-source failures across all items
	Degraded   int `json:"degraded"`   // persisted items with at least one source failure
	Dropped    int `json:"dropped"`    // parse/validation drops
	Skipped    int `json:"skipped"`    // not started after cancellation

	SourceFailures map[string]int `json:"source_failures"`
}

// RecordSourceFailure counts one failed source call for an item.
func (s *PipelineStats) RecordSourceFailure(source string) {
	if s.SourceFailures == nil {
		s.SourceFailures = make(map[string]int)
	}
	s.SourceFailures[source]++
	s.Failed++
}
