package session

// State is the phase of the current build.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateRunning
	StateFinished
	StateAborted
	StateFatalError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	case StateFatalError:
		return "fatal-error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further step will run in this state.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateAborted || s == StateFatalError
}
