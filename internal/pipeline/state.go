package pipeline

// State is the batch-level phase of a pipeline run.
type State string

// Run states. A run moves idle → parsing → enriching → aggregating →
// persisting → complete, or to error from any state on a fatal storage failure.
// Address entry points start at enriching. Items overlap, so while workers
// run the state is the furthest phase any item has reached.
const (
	StateIdle        State = "idle"
	StateParsing     State = "parsing"
	StateEnriching   State = "enriching"
	StateAggregating State = "aggregating"
	StatePersisting  State = "persisting"
	StateComplete    State = "complete"
	StateError       State = "error"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

var stateRank = map[State]int{
	StateIdle:        0,
	StateParsing:     1,
	StateEnriching:   2,
	StateAggregating: 3,
	StatePersisting:  4,
	StateComplete:    5,
	StateError:       6,
}

func (s State) rank() int {
	return stateRank[s]
}
