package evaluator

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// An Outcome is the tagged result shipped back from a remote worker.
// Remote faults travel as data (code 1 plus the formatted trace)
// rather than as native faults, so one job's failure cannot corrupt
// the transport for its siblings.
type Outcome struct {
	Code  int
	Value interface{}
	Trace string
}

// Capture runs the job's callable and converts any error or panic
// into a tagged Outcome instead of letting it propagate. This is the
// remote side of the fault boundary.
func Capture(job *Job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Code:  1,
				Trace: fmt.Sprintf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()
	result, err := job.Run(job.Config)
	if err != nil {
		return Outcome{Code: 1, Trace: err.Error()}
	}
	return Outcome{Value: result}
}

// A Pool executes job callables on a fixed set of remote workers.
//
// Run may be called concurrently from at most as many goroutines as
// the pool has workers; the Executor's admission gate guarantees
// this. Run must not be called after Close or Abort.
type Pool interface {
	// Run executes the job on a free worker and reports the tagged
	// outcome.
	Run(job *Job) Outcome

	// NumWorkers reports the pool's fixed worker count.
	NumWorkers() int

	// Close drains the pool: in-flight jobs finish, then the workers
	// shut down.
	Close()

	// Abort tears the pool down immediately, abandoning in-flight
	// jobs with no partial-result recovery.
	Abort()
}

type poolTask struct {
	job   *Job
	reply chan Outcome
}

// A WorkerPool runs jobs on a fixed set of long-lived worker
// goroutines, standing in for the remote ranks of an already running
// process group.
type WorkerPool struct {
	tasks chan poolTask
	kill  chan struct{}
	wg    sync.WaitGroup
	n     int

	closeOnce sync.Once
	abortOnce sync.Once
}

// NewWorkerPool starts n workers.
func NewWorkerPool(n int) *WorkerPool {
	p := &WorkerPool{
		tasks: make(chan poolTask),
		kill:  make(chan struct{}),
		n:     n,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.kill:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task.reply <- Capture(task.job)
		}
	}
}

// NumWorkers reports the pool's worker count.
func (p *WorkerPool) NumWorkers() int {
	return p.n
}

// Run hands the job to a free worker and blocks for its outcome. An
// abort while the job is queued or in flight surfaces as a failed
// outcome.
func (p *WorkerPool) Run(job *Job) Outcome {
	reply := make(chan Outcome, 1)
	select {
	case p.tasks <- poolTask{job: job, reply: reply}:
	case <-p.kill:
		return Outcome{Code: 1, Trace: "worker pool aborted"}
	}
	select {
	case out := <-reply:
		return out
	case <-p.kill:
		return Outcome{Code: 1, Trace: "worker pool aborted"}
	}
}

// Close drains the pool and waits for the workers to exit.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

// Abort terminates every worker immediately. In-flight jobs are
// abandoned.
func (p *WorkerPool) Abort() {
	p.abortOnce.Do(func() {
		close(p.kill)
	})
}
