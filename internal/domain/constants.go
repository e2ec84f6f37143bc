package domain

// State is the lifecycle state of a transcription job.
type State string

// Job state constants
const (
	StateSubmitted  State = "SUBMITTED"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StatePublished  State = "PUBLISHED"
)

// UnknownSpeaker labels utterances the provider did not attribute to a speaker.
const UnknownSpeaker = "unknown"

// allowedFrom maps a target state to the states it may be entered from.
var allowedFrom = map[State][]State{
	StateProcessing: {StateSubmitted},
	StateCompleted:  {StateSubmitted, StateProcessing},
	StateFailed:     {StateSubmitted, StateProcessing},
	StatePublished:  {StateCompleted},
}

// AllowedFrom returns the states from which a job may move to "to".
func AllowedFrom(to State) []State {
	return allowedFrom[to]
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further provider-driven transition may occur.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StatePublished:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateSubmitted, StateProcessing, StateCompleted, StateFailed, StatePublished:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}
