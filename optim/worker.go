package optim

import (
	"fmt"

	"github.com/aperezdieguez/deephyper/fabric"
)

// A Worker holds a rank-local replica of the parameter vector and
// trades gradients for updates with the server.
//
// A worker's calls are strictly ordered: Update does not return until
// the server's reply to this gradient has arrived, so at most one
// round-trip per worker is ever in flight.
type Worker struct {
	// Group is the worker's view of the process group.
	Group *fabric.Group

	// Server is the rank running the parameter server.
	Server int

	params []float64
}

// Sync blocks for the server's initial parameter broadcast, installs
// it as the local replica, and joins the acknowledgement barrier.
func (w *Worker) Sync() error {
	payload, src := w.Group.Recv()
	msg, ok := payload.(*ParamMessage)
	if !ok || src != w.Server {
		err := fmt.Errorf("rank %d: expected initial parameters from rank %d, got %T from rank %d",
			w.Group.Rank(), w.Server, payload, src)
		w.Group.Abort(err)
		return err
	}
	w.params = append([]float64(nil), msg.Params...)
	w.Group.Barrier(w.Server)
	return nil
}

// Update sends the gradient and step size to the server and blocks
// until the updated parameter vector arrives, overwriting the local
// replica in place. It returns the replying rank for observability.
func (w *Worker) Update(grad []float64, stepSize float64) (int, error) {
	w.Group.Send(w.Server, &GradientMessage{Grad: grad, StepSize: stepSize})
	payload, src := w.Group.Recv()
	msg, ok := payload.(*ParamMessage)
	if !ok {
		err := fmt.Errorf("rank %d: expected parameters, got %T from rank %d",
			w.Group.Rank(), payload, src)
		w.Group.Abort(err)
		return src, err
	}
	if len(msg.Params) != len(w.params) {
		err := fmt.Errorf("rank %d: parameter reply: %w: got %d values, have %d",
			w.Group.Rank(), ErrDimension, len(msg.Params), len(w.params))
		w.Group.Abort(err)
		return src, err
	}
	copy(w.params, msg.Params)
	return src, nil
}

// Done announces that this worker will send no further gradients.
func (w *Worker) Done() {
	w.Group.Send(w.Server, &DoneMessage{})
}

// Params returns the local replica. The slice is overwritten in place
// by Update.
func (w *Worker) Params() []float64 {
	return w.params
}
