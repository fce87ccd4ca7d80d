// Package agent runs the asynchronous optimization loop: rollout
// collection, advantage estimation and minibatch gradient updates on
// worker ranks, the parameter server on the root rank.
package agent

import (
	"fmt"
	"strconv"
)

// A ConfigurationError is a fatal, rank-local error raised before any
// rollout begins.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Step-size annealing schedules.
const (
	ScheduleConstant = "constant"
	ScheduleLinear   = "linear"
)

// Config is the plain parameter set supplied by the external caller.
type Config struct {
	// Horizon is the number of environment steps per trajectory
	// segment.
	Horizon int

	// StepSize is the base Adam step size; the effective step size
	// is StepSize scaled by the schedule's multiplier.
	StepSize float64

	// OptimEpochs is the number of passes over each segment.
	// OptimBatchSize is the minibatch size; zero means the whole
	// segment.
	OptimEpochs    int
	OptimBatchSize int

	// ClipParam is passed through to the loss collaborator, which
	// anneals it by the schedule multiplier.
	ClipParam float64

	// Advantage estimation.
	Gamma  float64
	Lambda float64

	// AdamEpsilon overrides the server's denominator fudge term.
	// Zero keeps the server default.
	AdamEpsilon float64

	// Schedule is the step-size annealing kind: ScheduleConstant
	// (also the empty string) or ScheduleLinear.
	Schedule string

	// Termination condition: exactly one must be positive.
	MaxIters     int
	MaxTimesteps int
	MaxEpisodes  int
	MaxSeconds   float64
}

// Validate checks the parameter set. Exactly one termination
// condition must be set and the schedule kind must be known.
func (c *Config) Validate() error {
	set := 0
	for _, on := range []bool{
		c.MaxIters > 0,
		c.MaxTimesteps > 0,
		c.MaxEpisodes > 0,
		c.MaxSeconds > 0,
	} {
		if on {
			set++
		}
	}
	if set != 1 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("exactly one termination condition permitted, got %d", set),
		}
	}
	switch c.Schedule {
	case "", ScheduleConstant:
	case ScheduleLinear:
		if c.MaxTimesteps <= 0 {
			return &ConfigurationError{
				Reason: "linear schedule requires the max-timesteps termination condition",
			}
		}
	default:
		return &ConfigurationError{Reason: "unknown schedule " + strconv.Quote(c.Schedule)}
	}
	if c.Horizon <= 0 {
		return &ConfigurationError{Reason: "horizon must be positive"}
	}
	return nil
}

// LRMult returns the step-size multiplier for the current progress.
func (c *Config) LRMult(timestepsSoFar int) float64 {
	if c.Schedule == ScheduleLinear {
		m := 1 - float64(timestepsSoFar)/float64(c.MaxTimesteps)
		if m < 0 {
			return 0
		}
		return m
	}
	return 1
}
