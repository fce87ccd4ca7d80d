// Package evaluator coordinates remote execution of opaque jobs over
// a fixed pool of workers, bounding how many are outstanding at once
// and converting remote faults into per-job errors.
package evaluator

import "github.com/google/uuid"

// Status tracks a job through submitted -> dispatched -> finished.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// A RunFunc is the work a job performs on a remote worker.
type RunFunc func(config interface{}) (interface{}, error)

// A Job pairs an input configuration with the work to perform and a
// slot for the outcome. The Executor is the only mutator of Result,
// Err and Status; ownership returns to the caller when Execute
// returns.
type Job struct {
	ID     string
	Config interface{}
	Run    RunFunc

	Result interface{}
	Err    error
	Status Status
}

// NewJob creates a pending job with a fresh ID.
func NewJob(config interface{}, run RunFunc) *Job {
	return &Job{
		ID:     uuid.NewString(),
		Config: config,
		Run:    run,
		Status: StatusPending,
	}
}
