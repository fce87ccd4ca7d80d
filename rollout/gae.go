package rollout

// AddVTargAndAdv computes GAE(lambda) advantages and TD(lambda) value
// targets for one segment, backward through time:
//
//	delta_t = rew_t + gamma*V(s_{t+1})*nonterminal_t - V(s_t)
//	adv_t   = delta_t + gamma*lambda*nonterminal_t*adv_{t+1}
//
// The bootstrap value for the final step is the segment's NextVPred,
// which the collector already zeroes when the final step was itself a
// terminal transition.
func AddVTargAndAdv(seg *Segment, gamma, lam float64) {
	T := len(seg.Rews)
	seg.Adv = make([]float64, T)
	seg.TDLamRet = make([]float64, T)
	lastGAELam := 0.0
	for t := T - 1; t >= 0; t-- {
		nonterminal := 1.0
		nextVPred := seg.NextVPred
		if t < T-1 {
			if seg.News[t+1] {
				nonterminal = 0
			}
			nextVPred = seg.VPreds[t+1]
		}
		delta := seg.Rews[t] + gamma*nextVPred*nonterminal - seg.VPreds[t]
		lastGAELam = delta + gamma*lam*nonterminal*lastGAELam
		seg.Adv[t] = lastGAELam
	}
	for t := range seg.Adv {
		seg.TDLamRet[t] = seg.Adv[t] + seg.VPreds[t]
	}
}
