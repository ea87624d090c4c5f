package engine

// State is a phase of one retrieval.
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateMerging
	StateEscalating
	StateReranking
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateMerging:
		return "merging"
	case StateEscalating:
		return "escalating"
	case StateReranking:
		return "reranking"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// StateHook observes state transitions. It is called synchronously from the
// request goroutine.
type StateHook func(retrievalID string, state State)
