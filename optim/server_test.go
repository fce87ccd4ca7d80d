package optim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aperezdieguez/deephyper/fabric"
)

// Every applied gradient bumps the step counter by exactly one, no
// matter which worker it came from or in what order it arrived.
func TestStepCounterMatchesAppliedGradients(t *testing.T) {
	for _, size := range []int{2, 3, 5} {
		const perWorker = 4
		const dim = 6

		loop := fabric.NewEventLoop()
		var server *Server
		errs := make(chan error, size)

		fabric.SpawnGroup(loop, fabric.RandomNetwork{}, size, func(g *fabric.Group) {
			if g.Rank() == 0 {
				srv := &Server{Group: g}
				srv.Init(make([]float64, dim))
				server = srv
				srv.Sync()
				errs <- srv.Serve()
				return
			}
			w := &Worker{Group: g, Server: 0}
			if err := w.Sync(); err != nil {
				errs <- err
				return
			}
			for i := 0; i < perWorker; i++ {
				grad := make([]float64, dim)
				for j := range grad {
					grad[j] = rand.NormFloat64()
				}
				if _, err := w.Update(grad, 1e-3); err != nil {
					errs <- err
					return
				}
			}
			w.Done()
			errs <- nil
		})

		require.NoError(t, loop.Run())
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, (size-1)*perWorker, server.Steps())
	}
}

// Startup sync and gradient round-trips must work no matter which rank
// hosts the server. Message delivery order is randomized, so each
// configuration is repeated to cover orderings where the parameter
// broadcast and barrier traffic interleave.
func TestNonZeroServerRank(t *testing.T) {
	const dim = 5
	const perWorker = 3

	for _, size := range []int{2, 3, 4} {
		for root := 0; root < size; root++ {
			for trial := 0; trial < 20; trial++ {
				loop := fabric.NewEventLoop()
				var server *Server
				errs := make(chan error, size)

				fabric.SpawnGroup(loop, fabric.RandomNetwork{MaxLatency: 3}, size, func(g *fabric.Group) {
					if g.Rank() == root {
						srv := &Server{Group: g}
						srv.Init(make([]float64, dim))
						server = srv
						srv.Sync()
						errs <- srv.Serve()
						return
					}
					w := &Worker{Group: g, Server: root}
					if err := w.Sync(); err != nil {
						errs <- err
						return
					}
					for i := 0; i < perWorker; i++ {
						grad := make([]float64, dim)
						for j := range grad {
							grad[j] = rand.NormFloat64()
						}
						if _, err := w.Update(grad, 1e-3); err != nil {
							errs <- err
							return
						}
					}
					w.Done()
					errs <- nil
				})

				require.NoError(t, loop.Run(), "size %d root %d", size, root)
				close(errs)
				for err := range errs {
					require.NoError(t, err, "size %d root %d", size, root)
				}
				require.Equal(t, (size-1)*perWorker, server.Steps())
			}
		}
	}
}

// A deterministic gradient sequence must reproduce a reference Adam
// computation.
func TestAdamMatchesReference(t *testing.T) {
	init := []float64{0.5, -1, 2, 0}
	grads := [][]float64{
		{1, -2, 0.5, 0},
		{-0.5, 1, 1, 3},
		{0.25, 0.25, -4, 1},
	}
	stepSizes := []float64{1e-2, 5e-3, 1e-2}

	ref := append([]float64(nil), init...)
	m := make([]float64, len(init))
	v := make([]float64, len(init))
	for k, g := range grads {
		step := float64(k + 1)
		for i := range ref {
			m[i] = DefaultBeta1*m[i] + (1-DefaultBeta1)*g[i]
			v[i] = DefaultBeta2*v[i] + (1-DefaultBeta2)*g[i]*g[i]
			mhat := m[i] / (1 - math.Pow(DefaultBeta1, step))
			vhat := v[i] / (1 - math.Pow(DefaultBeta2, step))
			ref[i] -= stepSizes[k] * mhat / (math.Sqrt(vhat) + DefaultEpsilon)
		}
	}

	loop := fabric.NewEventLoop()
	var server *Server
	var replica []float64
	errs := make(chan error, 2)

	fabric.SpawnGroup(loop, fabric.RandomNetwork{}, 2, func(g *fabric.Group) {
		if g.Rank() == 0 {
			srv := &Server{Group: g}
			srv.Init(init)
			server = srv
			srv.Sync()
			errs <- srv.Serve()
			return
		}
		w := &Worker{Group: g, Server: 0}
		if err := w.Sync(); err != nil {
			errs <- err
			return
		}
		for k, grad := range grads {
			if _, err := w.Update(grad, stepSizes[k]); err != nil {
				errs <- err
				return
			}
		}
		replica = append([]float64(nil), w.Params()...)
		w.Done()
		errs <- nil
	})

	require.NoError(t, loop.Run())
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, len(grads), server.Steps())
	got := server.Params()
	for i := range ref {
		require.InDelta(t, ref[i], got[i], 1e-12, "parameter %d", i)
	}

	// The worker's replica after its last round-trip is the canonical
	// vector, bit for bit.
	require.Equal(t, got, replica)
}

// After Update returns, the worker's replica equals the canonical
// vector as of the moment the server processed that gradient.
func TestRoundTripReplica(t *testing.T) {
	const dim = 8

	loop := fabric.NewEventLoop()
	var server *Server
	var replica []float64
	errs := make(chan error, 2)

	fabric.SpawnGroup(loop, fabric.RandomNetwork{}, 2, func(g *fabric.Group) {
		if g.Rank() == 0 {
			srv := &Server{Group: g}
			srv.Init(make([]float64, dim))
			server = srv
			srv.Sync()
			errs <- srv.Serve()
			return
		}
		w := &Worker{Group: g, Server: 0}
		if err := w.Sync(); err != nil {
			errs <- err
			return
		}
		for i := 0; i < 10; i++ {
			grad := make([]float64, dim)
			for j := range grad {
				grad[j] = rand.NormFloat64()
			}
			if _, err := w.Update(grad, 3e-4); err != nil {
				errs <- err
				return
			}
		}
		replica = append([]float64(nil), w.Params()...)
		w.Done()
		errs <- nil
	})

	require.NoError(t, loop.Run())
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, server.Params(), replica)
}

// A gradient of the wrong dimensionality kills the server, which
// terminates the whole group.
func TestMalformedGradientAbortsGroup(t *testing.T) {
	loop := fabric.NewEventLoop()
	errs := make(chan error, 1)

	fabric.SpawnGroup(loop, fabric.RandomNetwork{}, 2, func(g *fabric.Group) {
		if g.Rank() == 0 {
			srv := &Server{Group: g}
			srv.Init(make([]float64, 4))
			srv.Sync()
			errs <- srv.Serve()
			return
		}
		w := &Worker{Group: g, Server: 0}
		if err := w.Sync(); err != nil {
			return
		}
		g.Send(0, &GradientMessage{Grad: make([]float64, 7), StepSize: 1e-3})
		// The reply never comes; the abort tears this rank down.
		g.Recv()
	})

	err := loop.Run()
	require.ErrorIs(t, err, ErrDimension)
	require.ErrorIs(t, <-errs, ErrDimension)
}
