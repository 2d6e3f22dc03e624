package tasks

// State of a task. The strings are the values the status endpoint returns.
type State int

const (
	StateUnknown State = iota
	StateUnstarted
	StateRunning
	StateCancelled
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "not started yet"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateDone:
		return "done"
	default:
		return "id unknown"
	}
}

func (s State) Terminal() bool { return s == StateCancelled || s == StateDone }

// ArtifactRef points at the archive a finished build produced.
type ArtifactRef struct {
	Name string
	URL  string
}

type Status struct {
	ID       string
	State    State
	Artifact ArtifactRef
	// Err is set when the task finished Done with a failed build.
	Err error
}

type RemoveResult int

const (
	RemoveRemoved RemoveResult = iota
	RemoveNotFoundOrNotDone
	RemoveError
)

func (r RemoveResult) String() string {
	switch r {
	case RemoveRemoved:
		return "removed"
	case RemoveNotFoundOrNotDone:
		return "id not found or not done"
	default:
		return "error"
	}
}
