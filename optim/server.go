package optim

import (
	"fmt"
	"math"

	"github.com/aperezdieguez/deephyper/fabric"
)

// Default Adam moment decay rates and denominator fudge term.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// A Server owns the canonical parameter vector and the Adam moment
// estimates, and applies worker gradients strictly one at a time, in
// whatever order they arrive.
//
// Gradients are always computed against a parameter snapshot that may
// already be stale by the time they arrive. They are applied anyway:
// stale-gradient descent is the protocol, not a defect, and the server
// performs no staleness check.
type Server struct {
	// Group is the server's view of the process group. Every other
	// rank is a worker.
	Group *fabric.Group

	// Adam constants. Zero values fall back to the defaults.
	Beta1   float64
	Beta2   float64
	Epsilon float64

	params []float64
	m      []float64
	v      []float64
	step   int
}

// Init seeds the canonical parameter vector and zeroes the moment
// state and step counter.
func (s *Server) Init(params []float64) {
	if s.Beta1 == 0 {
		s.Beta1 = DefaultBeta1
	}
	if s.Beta2 == 0 {
		s.Beta2 = DefaultBeta2
	}
	if s.Epsilon == 0 {
		s.Epsilon = DefaultEpsilon
	}
	s.params = append([]float64(nil), params...)
	s.m = make([]float64, len(params))
	s.v = make([]float64, len(params))
	s.step = 0
}

// Sync broadcasts the canonical parameters to every worker and blocks
// until all of them have acknowledged receipt. This is the one-time
// startup barrier that establishes a common baseline.
func (s *Server) Sync() {
	s.Group.Bcast(&ParamMessage{Params: append([]float64(nil), s.params...)})
	s.Group.Barrier(s.Group.Rank())
}

// Steps returns the number of gradients applied so far. It increases
// by exactly one per applied gradient.
func (s *Server) Steps() int {
	return s.step
}

// Params returns a copy of the canonical parameter vector.
func (s *Server) Params() []float64 {
	return append([]float64(nil), s.params...)
}

// MasterUpdate blocks until a message arrives from any worker. A
// gradient is applied to the canonical parameters and the updated
// vector is sent back to the originating rank only; other workers
// keep their stale replicas until their own gradients arrive.
//
// The source rank is returned for observability, along with whether
// the worker announced completion instead of sending a gradient.
//
// A malformed gradient is fatal: the server aborts the whole group,
// since no progress is possible without it.
func (s *Server) MasterUpdate() (src int, done bool, err error) {
	payload, src := s.Group.Recv()
	switch msg := payload.(type) {
	case *DoneMessage:
		return src, true, nil
	case *GradientMessage:
		if err := s.apply(msg); err != nil {
			err = fmt.Errorf("gradient from rank %d: %w", src, err)
			s.Group.Abort(err)
			return src, false, err
		}
		s.Group.Send(src, &ParamMessage{Params: append([]float64(nil), s.params...)})
		return src, false, nil
	default:
		err := fmt.Errorf("unexpected message %T from rank %d", payload, src)
		s.Group.Abort(err)
		return src, false, err
	}
}

// Serve runs the receive loop until every worker has announced
// completion, processing one gradient at a time.
func (s *Server) Serve() error {
	remaining := s.Group.Size() - 1
	for remaining > 0 {
		_, done, err := s.MasterUpdate()
		if err != nil {
			return err
		}
		if done {
			remaining--
		}
	}
	return nil
}

// apply performs one Adam update with the message's step size:
// exponential moving averages of the gradient and squared gradient,
// bias-corrected by the step count.
func (s *Server) apply(msg *GradientMessage) error {
	if len(msg.Grad) != len(s.params) {
		return fmt.Errorf("%w: got %d values, have %d parameters",
			ErrDimension, len(msg.Grad), len(s.params))
	}
	s.step++
	t := float64(s.step)
	mCorr := 1 / (1 - math.Pow(s.Beta1, t))
	vCorr := 1 / (1 - math.Pow(s.Beta2, t))
	for i, g := range msg.Grad {
		s.m[i] = s.Beta1*s.m[i] + (1-s.Beta1)*g
		s.v[i] = s.Beta2*s.v[i] + (1-s.Beta2)*g*g
		s.params[i] -= msg.StepSize * (s.m[i] * mCorr) / (math.Sqrt(s.v[i]*vCorr) + s.Epsilon)
	}
	return nil
}
