package taskqueue

import (
	"strings"
	"time"
)

// Task names understood by the pipeline.
const (
	TaskSplit       = "split"
	TaskProcessClip = "process_clip"
	TaskStitch      = "stitch"
)

// State is a task's delivery state.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateDead    State = "dead"
)

var allStates = []State{StatePending, StateRunning, StateDone, StateDead}

// AllStates returns every task state.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a user supplied string into a State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return state, true
		}
	}
	return "", false
}

// Task is one queued unit of work.
type Task struct {
	ID             int64
	Name           string
	JobID          string
	ClipIndex      int
	Generation     int
	State          State
	Attempts       int
	MaxAttempts    int
	AvailableAt    time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stats summarises task counts per state.
type Stats map[State]int
