package job

import (
	"errors"
	"time"
)

type Kind string

const (
	KindFetch Kind = "fetch"
	KindMerge Kind = "merge"
)

type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// MergeKey fills the isbn slot of merge jobs so at most one is active.
const MergeKey = "collections"

// ErrNoJob is returned by Claim when nothing is pending.
var ErrNoJob = errors.New("no pending job")

type Job struct {
	ID          string     `json:"id"`
	ISBN        string     `json:"isbn"`
	Kind        Kind       `json:"kind"`
	State       State      `json:"state"`
	Attempts    int        `json:"attempts"`
	WorkerID    string     `json:"worker_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

func (k Kind) Valid() bool {
	return k == KindFetch || k == KindMerge
}

func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateDone, StateFailed:
		return true
	}
	return false
}

func (s State) Active() bool {
	return s == StatePending || s == StateRunning
}
