// Package rollout assembles fixed-horizon trajectory segments from an
// external environment and computes the advantage estimates consumed
// by the optimizer.
package rollout

// An Env is the external environment collaborator. It is stateful and
// opaque: the collector only resets it, steps it, and drains the
// asynchronously resolved episode rewards.
type Env interface {
	// Reset starts a new episode and returns the first observation.
	Reset() []float64

	// Step advances the environment by one action. The slot index is
	// the timestep's position in the current segment and keys any
	// asynchronously resolved reward for the episode ending there.
	Step(action int, slot int, rank int) (obs []float64, reward float64, done bool)

	// RewardsReady returns episode rewards that have resolved since
	// the last call, keyed by the slot of each episode's final
	// timestep.
	//
	// At a segment boundary the collector polls this in a tight loop
	// until every episode completed during the segment has resolved.
	// The calling goroutine makes no other progress while it waits,
	// so these rewards must resolve on their own, without any further
	// action from the caller.
	RewardsReady() []FinalReward
}

// A FinalReward is an asynchronously resolved episode reward. It
// replaces the provisional reward recorded at the episode's final
// timestep.
type FinalReward struct {
	Slot   int
	Reward float64
}

// A Policy maps observations to actions and value predictions.
type Policy interface {
	Act(stochastic bool, obs []float64) (action int, vpred float64)
}

// A Segment is one horizon's worth of experience. The per-timestep
// slices alias the collector's ring arrays and are overwritten by the
// next call to Next: a consumer that aggregates several segments must
// Copy each one first.
type Segment struct {
	Obs     [][]float64
	Acs     []int
	PrevAcs []int
	Rews    []float64
	VPreds  []float64

	// News[t] reports whether timestep t was the first of a new
	// episode.
	News []bool

	// NextVPred is the value prediction for the first timestep after
	// the segment, zeroed when that timestep starts a new episode.
	NextVPred float64

	// Returns and lengths of the episodes that finished inside this
	// segment, including episodes that started in an earlier one.
	EpRets []float64
	EpLens []int

	// Filled in by AddVTargAndAdv.
	Adv      []float64
	TDLamRet []float64
}

// Copy returns a deep copy of the segment.
func (s *Segment) Copy() *Segment {
	out := &Segment{
		Obs:       make([][]float64, len(s.Obs)),
		Acs:       append([]int(nil), s.Acs...),
		PrevAcs:   append([]int(nil), s.PrevAcs...),
		Rews:      append([]float64(nil), s.Rews...),
		VPreds:    append([]float64(nil), s.VPreds...),
		News:      append([]bool(nil), s.News...),
		NextVPred: s.NextVPred,
		EpRets:    append([]float64(nil), s.EpRets...),
		EpLens:    append([]int(nil), s.EpLens...),
		Adv:       append([]float64(nil), s.Adv...),
		TDLamRet:  append([]float64(nil), s.TDLamRet...),
	}
	for i, ob := range s.Obs {
		out.Obs[i] = append([]float64(nil), ob...)
	}
	return out
}

// A Collector produces an endless sequence of fixed-horizon segments,
// resuming each call exactly where the previous one left off. It
// never restarts from episode zero: episodes straddle segment
// boundaries and contribute their statistics to the segment they
// finish in.
type Collector struct {
	policy     Policy
	env        Env
	horizon    int
	rank       int
	stochastic bool

	t        int
	ob       []float64
	isNew    bool
	curEpLen int

	obs     [][]float64
	acs     []int
	prevAcs []int
	rews    []float64
	vpreds  []float64
	news    []bool

	epRets []float64
	epLens []int

	// slotEpisode maps the final-timestep slot of each episode that
	// ended in the current segment to its index in epRets/epLens.
	slotEpisode  map[int]int
	pendingEvals int

	// Action, previous action and value prediction computed just
	// before a segment was emitted; consumed by the first recorded
	// step of the next call.
	ac          int
	prevAc      int
	vpred       float64
	pendingStep bool
}

// NewCollector resets the environment once and prepares the ring
// arrays.
func NewCollector(policy Policy, env Env, horizon, rank int, stochastic bool) *Collector {
	return &Collector{
		policy:      policy,
		env:         env,
		horizon:     horizon,
		rank:        rank,
		stochastic:  stochastic,
		ob:          env.Reset(),
		isNew:       true,
		obs:         make([][]float64, horizon),
		acs:         make([]int, horizon),
		prevAcs:     make([]int, horizon),
		rews:        make([]float64, horizon),
		vpreds:      make([]float64, horizon),
		news:        make([]bool, horizon),
		slotEpisode: map[int]int{},
	}
}

// Next steps the environment until the next horizon boundary and
// returns the assembled segment.
func (c *Collector) Next() *Segment {
	for {
		if !c.pendingStep {
			c.prevAc = c.ac
			c.ac, c.vpred = c.policy.Act(c.stochastic, c.ob)
			if c.t > 0 && c.t%c.horizon == 0 {
				// The value prediction for the upcoming timestep is
				// needed before emitting timesteps [0, horizon):
				// it bootstraps the segment's terminal value.
				c.pendingStep = true
				return c.finalize()
			}
		}
		c.pendingStep = false

		i := c.t % c.horizon
		c.obs[i] = c.ob
		c.vpreds[i] = c.vpred
		c.news[i] = c.isNew
		c.acs[i] = c.ac
		c.prevAcs[i] = c.prevAc

		ob, rew, done := c.env.Step(c.ac, i, c.rank)
		c.rews[i] = rew
		c.ob = ob
		c.isNew = done

		c.curEpLen++
		if done {
			c.pendingEvals++
			c.slotEpisode[i] = len(c.epRets)
			c.epRets = append(c.epRets, 0)
			c.epLens = append(c.epLens, c.curEpLen)
			c.curEpLen = 0
			c.ob = c.env.Reset()
		}
		c.t++
	}
}

// finalize resolves the segment's pending episode rewards and builds
// the Segment. Episodes whose authoritative reward only becomes
// available after completion have the reward of their final recorded
// timestep revised retroactively before the segment is emitted.
func (c *Collector) finalize() *Segment {
	for c.pendingEvals > 0 {
		for _, fr := range c.env.RewardsReady() {
			ep, ok := c.slotEpisode[fr.Slot]
			if !ok {
				continue
			}
			c.epRets[ep] = c.reviseFinalReward(fr.Slot, fr.Reward, c.epLens[ep])
			c.pendingEvals--
		}
	}
	c.slotEpisode = map[int]int{}

	nextVPred := c.vpred
	if c.isNew {
		nextVPred = 0
	}
	seg := &Segment{
		Obs:       c.obs,
		Acs:       c.acs,
		PrevAcs:   c.prevAcs,
		Rews:      c.rews,
		VPreds:    c.vpreds,
		News:      c.news,
		NextVPred: nextVPred,
		EpRets:    c.epRets,
		EpLens:    c.epLens,
	}
	c.epRets = nil
	c.epLens = nil
	return seg
}

// reviseFinalReward overwrites the episode's final recorded reward
// with the authoritative value and recomputes the episode return from
// its recorded timesteps, clamped to the segment start for episodes
// that began in an earlier segment.
func (c *Collector) reviseFinalReward(slot int, reward float64, epLen int) float64 {
	c.rews[slot] = reward
	start := slot - epLen + 1
	if start < 0 {
		start = 0
	}
	var total float64
	for i := start; i <= slot; i++ {
		total += c.rews[i]
	}
	return total
}
