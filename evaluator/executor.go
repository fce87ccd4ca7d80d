package evaluator

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// A RemoteError reports that a job's callable failed on the remote
// side. The formatted remote trace is carried along; the failure
// aborts only the job that was awaiting this result.
type RemoteError struct {
	JobID string
	Trace string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote execution failed for job %s", e.JobID)
}

// An Executor dispatches jobs to a remote worker pool, bounding the
// number concurrently outstanding. A submission blocks until a slot
// is free.
type Executor struct {
	// Pool executes dispatched jobs.
	Pool Pool

	// MaxOutstanding caps concurrently dispatched jobs. Zero means
	// the pool's worker count.
	MaxOutstanding int

	// AbortOnClose makes Close tear the pool down immediately
	// instead of draining it. Callers choose explicitly; the default
	// is the graceful drain.
	AbortOnClose bool

	// Logf receives remote traces before they are re-raised. Nil
	// means log.Printf.
	Logf func(format string, args ...interface{})

	semOnce sync.Once
	sem     chan struct{}
}

func (e *Executor) semaphore() chan struct{} {
	e.semOnce.Do(func() {
		n := e.MaxOutstanding
		if n <= 0 {
			n = e.Pool.NumWorkers()
		}
		e.sem = make(chan struct{}, n)
	})
	return e.sem
}

func (e *Executor) logf(format string, args ...interface{}) {
	if e.Logf != nil {
		e.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Execute dispatches the job once a worker slot frees up and blocks
// until its outcome is recorded. The slot is released unconditionally,
// on success and on remote failure alike.
//
// A remote fault is logged and re-raised as a *RemoteError that
// aborts this job only; sibling jobs still outstanding are untouched.
func (e *Executor) Execute(ctx context.Context, job *Job) error {
	sem := e.semaphore()
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	job.Status = StatusRunning
	out := e.Pool.Run(job)
	if out.Code != 0 {
		job.Status = StatusFailed
		err := &RemoteError{JobID: job.ID, Trace: out.Trace}
		job.Err = err
		e.logf("job %s failed on remote worker:\n%s", job.ID, out.Trace)
		return err
	}
	job.Result = out.Value
	job.Status = StatusDone
	return nil
}

// Close shuts the pool down: a graceful drain by default, a hard
// abort of the whole worker group when AbortOnClose is set.
func (e *Executor) Close() {
	if e.AbortOnClose {
		e.Pool.Abort()
		return
	}
	e.Pool.Close()
}
