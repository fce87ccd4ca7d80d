// Package optim implements the asynchronous gradient-aggregation
// protocol: a parameter server owning the canonical parameter vector
// and worker clients that trade gradients for updated parameters.
package optim

import "errors"

// ErrDimension indicates a gradient or parameter message whose length
// does not match the parameter vector. This is a communication fault:
// the receiving rank terminates the whole group.
var ErrDimension = errors.New("dimension mismatch")

// A GradientMessage carries one worker gradient to the server along
// with the effective step size for its update. It is consumed exactly
// once and then discarded.
type GradientMessage struct {
	Grad     []float64
	StepSize float64
}

// Size tabulates the approximate number of bytes required to encode
// this message.
func (g *GradientMessage) Size() int {
	return 8 * (len(g.Grad) + 1)
}

// A ParamMessage carries a parameter vector: the initial broadcast at
// startup, or the point-to-point reply after a gradient is applied.
type ParamMessage struct {
	Params []float64
}

func (p *ParamMessage) Size() int {
	return 8 * len(p.Params)
}

// A DoneMessage announces that a worker has finished and will send no
// further gradients. The server's loop exits once every worker has
// announced.
type DoneMessage struct{}

func (*DoneMessage) Size() int { return 1 }
