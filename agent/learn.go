package agent

import (
	"math"

	"github.com/aperezdieguez/deephyper/fabric"
	"github.com/aperezdieguez/deephyper/optim"
	"github.com/aperezdieguez/deephyper/rollout"
)

// episodeBufferSize bounds the rolling episode statistics.
const episodeBufferSize = 100

// A LossGrad is the external model collaborator: given the current
// parameter replica and one minibatch it returns the loss components
// and a flat gradient vector.
type LossGrad func(params []float64, batch Batch, lrMult float64) (losses []float64, grad []float64)

// A Learner runs the asynchronous optimization on one rank of the
// group. The Root rank owns the parameter server; every other rank
// collects rollouts and trades gradients for parameter updates.
type Learner struct {
	Group  *fabric.Group
	Config Config

	// Root is the rank running the parameter server.
	Root int

	// Worker-rank collaborators. The root rank ignores them.
	Policy   rollout.Policy
	Env      rollout.Env
	LossGrad LossGrad

	// InitParams seeds the canonical parameter vector on the root.
	InitParams []float64

	// Recorder receives timing records. Nil discards them.
	Recorder Recorder
}

// Run validates the configuration and runs this rank's role until the
// termination condition is met on every worker.
func (l *Learner) Run() error {
	if err := l.Config.Validate(); err != nil {
		return err
	}
	rec := l.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}
	if l.Group.Rank() == l.Root {
		return l.runServer(rec)
	}
	return l.runWorker(rec)
}

func (l *Learner) runServer(rec Recorder) error {
	h := l.Group.Handle
	rank := l.Group.Rank()

	srv := &optim.Server{Group: l.Group, Epsilon: l.Config.AdamEpsilon}
	srv.Init(l.InitParams)

	start := h.Time()
	srv.Sync()
	end := h.Time()
	rec.Record(Record{Type: "adam.sync", Rank: rank, Duration: end - start, Start: start, End: end})

	remaining := l.Group.Size() - 1
	for remaining > 0 {
		start = h.Time()
		src, done, err := srv.MasterUpdate()
		if err != nil {
			return err
		}
		if done {
			remaining--
			continue
		}
		end = h.Time()
		rec.Record(Record{
			Type:     "adam.master_update",
			Rank:     rank,
			Duration: end - start,
			Start:    start,
			End:      end,
			Extra:    map[string]interface{}{"rank_worker_source": src},
		})
	}
	return nil
}

func (l *Learner) runWorker(rec Recorder) error {
	h := l.Group.Handle
	rank := l.Group.Rank()

	w := &optim.Worker{Group: l.Group, Server: l.Root}
	start := h.Time()
	if err := w.Sync(); err != nil {
		return err
	}
	end := h.Time()
	rec.Record(Record{Type: "adam.sync", Rank: rank, Duration: end - start, Start: start, End: end})

	collector := rollout.NewCollector(l.Policy, l.Env, l.Config.Horizon, rank, true)

	var episodesSoFar, timestepsSoFar, itersSoFar int
	tStart := h.Time()
	var lenBuffer []int
	var rewBuffer []float64

	for !l.finished(itersSoFar, timestepsSoFar, episodesSoFar, h.Time()-tStart) {
		lrMult := l.Config.LRMult(timestepsSoFar)

		segStart := h.Time()
		seg := collector.Next()
		segEnd := h.Time()
		rec.Record(Record{
			Type:     "batch_computation",
			Rank:     rank,
			Duration: segEnd - segStart,
			Start:    segStart,
			End:      segEnd,
		})

		rollout.AddVTargAndAdv(seg, l.Config.Gamma, l.Config.Lambda)

		// Standardized advantage estimate. A degenerate segment whose
		// advantages have zero spread yields NaNs here; that is left
		// to propagate rather than special-cased.
		atarg := standardize(seg.Adv)

		d := NewDataset(Batch{
			Obs:   seg.Obs,
			Acs:   seg.Acs,
			Atarg: atarg,
			VTarg: seg.TDLamRet,
		}, true)

		for epoch := 0; epoch < l.Config.OptimEpochs; epoch++ {
			err := d.IterateOnce(l.Config.OptimBatchSize, func(b Batch) error {
				_, grad := l.LossGrad(w.Params(), b, lrMult)
				upStart := h.Time()
				src, err := w.Update(grad, l.Config.StepSize*lrMult)
				if err != nil {
					return err
				}
				upEnd := h.Time()
				rec.Record(Record{
					Type:     "adam.worker_update",
					Rank:     rank,
					Duration: upEnd - upStart,
					Start:    upStart,
					End:      upEnd,
					Extra:    map[string]interface{}{"rank_server_source": src},
				})
				return nil
			})
			if err != nil {
				return err
			}
		}

		episodesSoFar += len(seg.EpLens)
		for _, n := range seg.EpLens {
			timestepsSoFar += n
		}
		itersSoFar++
		lenBuffer = appendBounded(lenBuffer, seg.EpLens)
		rewBuffer = appendBounded(rewBuffer, seg.EpRets)

		rec.Record(Record{
			Type:     "segment",
			Rank:     rank,
			Duration: segEnd - segStart,
			Start:    segStart,
			End:      segEnd,
			Extra: map[string]interface{}{
				"iters_so_far":     itersSoFar,
				"episodes_so_far":  episodesSoFar,
				"timesteps_so_far": timestepsSoFar,
				"ep_len_mean":      meanInts(lenBuffer),
				"ep_rew_mean":      mean(rewBuffer),
			},
		})
	}

	w.Done()
	return nil
}

func (l *Learner) finished(iters, timesteps, episodes int, elapsed float64) bool {
	c := &l.Config
	switch {
	case c.MaxTimesteps > 0:
		return timesteps >= c.MaxTimesteps
	case c.MaxEpisodes > 0:
		return episodes >= c.MaxEpisodes
	case c.MaxIters > 0:
		return iters >= c.MaxIters
	default:
		return elapsed >= c.MaxSeconds
	}
}

func standardize(xs []float64) []float64 {
	mu := mean(xs)
	var variance float64
	for _, x := range xs {
		variance += (x - mu) * (x - mu)
	}
	variance /= float64(len(xs))
	std := math.Sqrt(variance)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - mu) / std
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanInts(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func appendBounded[T any](buf []T, vals []T) []T {
	buf = append(buf, vals...)
	if extra := len(buf) - episodeBufferSize; extra > 0 {
		buf = append(buf[:0], buf[extra:]...)
	}
	return buf
}
