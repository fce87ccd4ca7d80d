package rollout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptEnv runs fixed-length episodes with a provisional reward of 1
// per step. The authoritative reward of episode k resolves
// asynchronously as 10*k and replaces the final timestep's reward.
type scriptEnv struct {
	epLen    int
	resets   int
	steps    int
	stepInEp int
	episodes int
	pending  []FinalReward
}

func (e *scriptEnv) Reset() []float64 {
	e.resets++
	e.stepInEp = 0
	return []float64{float64(e.resets)}
}

func (e *scriptEnv) Step(action, slot, rank int) ([]float64, float64, bool) {
	e.steps++
	e.stepInEp++
	done := e.stepInEp == e.epLen
	if done {
		e.episodes++
		e.pending = append(e.pending, FinalReward{
			Slot:   slot,
			Reward: 10 * float64(e.episodes),
		})
	}
	return []float64{float64(e.resets), float64(e.stepInEp)}, 1, done
}

func (e *scriptEnv) RewardsReady() []FinalReward {
	out := e.pending
	e.pending = nil
	return out
}

// countPolicy returns a distinct action per call so tests can tell
// exactly which Act call produced each recorded timestep.
type countPolicy struct {
	calls int
}

func (p *countPolicy) Act(stochastic bool, obs []float64) (int, float64) {
	p.calls++
	return p.calls - 1, 0.5
}

func TestCollectorSegments(t *testing.T) {
	env := &scriptEnv{epLen: 3}
	policy := &countPolicy{}
	c := NewCollector(policy, env, 6, 1, true)

	seg := c.Next()
	require.Equal(t, 6, env.steps)
	require.Equal(t, []bool{true, false, false, true, false, false}, seg.News)
	require.Equal(t, []int{3, 3}, seg.EpLens)
	// Final-timestep rewards revised retroactively: provisional 1s at
	// slots 2 and 5 replaced by the authoritative 10 and 20.
	require.Equal(t, []float64{1, 1, 10, 1, 1, 20}, seg.Rews)
	require.Equal(t, []float64{12, 22}, seg.EpRets)
	// The last recorded step was terminal, so the bootstrap value for
	// the following timestep is zeroed.
	require.Zero(t, seg.NextVPred)
	// One Act per recorded step plus the boundary call.
	require.Equal(t, 7, policy.calls)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5}, seg.Acs)

	// The collector resumes, never restarting from episode zero: the
	// boundary Act call's action becomes the next segment's first
	// recorded action.
	seg2 := c.Next()
	require.Equal(t, 12, env.steps)
	require.Equal(t, 13, policy.calls)
	require.Equal(t, []int{6, 7, 8, 9, 10, 11}, seg2.Acs)
	require.Equal(t, 5, seg2.PrevAcs[0])
	require.Equal(t, []int{3, 3}, seg2.EpLens)
	require.Equal(t, []float64{32, 42}, seg2.EpRets)
}

// An episode that straddles a segment boundary contributes its
// statistics to the segment it finishes in, with its return clamped
// to the rewards recorded in that segment.
func TestCollectorStraddlingEpisode(t *testing.T) {
	env := &scriptEnv{epLen: 3}
	policy := &countPolicy{}
	c := NewCollector(policy, env, 4, 0, true)

	seg := c.Next()
	require.Equal(t, []int{3}, seg.EpLens)
	require.Equal(t, []float64{12}, seg.EpRets)
	require.Equal(t, []bool{true, false, false, true}, seg.News)

	// The second episode began at slot 3 of the first segment and
	// finishes at slot 1 of this one.
	seg2 := c.Next()
	require.Equal(t, []int{3}, seg2.EpLens)
	require.Equal(t, []bool{false, false, true, false}, seg2.News)
	require.Equal(t, []float64{1, 20, 1, 1}, seg2.Rews)
	require.Equal(t, []float64{21}, seg2.EpRets)
}

// The per-timestep arrays are reused between calls; Copy must detach
// a segment from the ring.
func TestSegmentCopy(t *testing.T) {
	env := &scriptEnv{epLen: 3}
	c := NewCollector(&countPolicy{}, env, 6, 0, true)

	seg := c.Next()
	snapshot := seg.Copy()
	require.Equal(t, seg.Rews, snapshot.Rews)
	require.Equal(t, seg.Obs, snapshot.Obs)

	c.Next()
	// The original segment's backing arrays were overwritten; the
	// copy still holds the first segment's data.
	require.Equal(t, []float64{1, 1, 10, 1, 1, 20}, snapshot.Rews)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5}, snapshot.Acs)

	snapshot.Obs[0][0] = -1
	require.NotEqual(t, snapshot.Obs[0][0], seg.Obs[0][0])
}
