package rollout

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ComputeReturns fills the returns table of the Storage from its
// rewards, value predictions, and masks, seeded at the trailing slot
// with bootstrapValue. The buffer must be full.
//
// With useGAE false, the returns are plain discounted N-step returns:
//
//	return[t] = reward[t] + γ·mask[t+1]·return[t+1]
//
// With useGAE true, generalized advantage estimation smooths the
// advantage with an exponentially weighted sum of TD errors, and the
// return stored at a slot is advantage[t] + value[t]:
//
//	δ[t] = reward[t] + γ·mask[t+1]·value[t+1] − value[t]
//	advantage[t] = δ[t] + γ·λ·mask[t+1]·advantage[t+1]
//
// With properTimeLimits true, a slot whose successor carries a valid
// mask of 0 was cut off by an artificial time limit rather than a true
// terminal. Such a cutoff must not propagate a reward discontinuity:
// in GAE mode the accumulated advantage is zeroed at the boundary, and
// in N-step mode the stored value estimate replaces the bootstrapped
// return, so bootstrapping rather than reward determines the target
// past the cutoff. Continuation masks and valid masks are treated as
// independent signals throughout.
//
// ComputeReturns is deterministic and mutates nothing but the returns
// table.
func (s *Storage) ComputeReturns(bootstrapValue *mat.VecDense, gamma,
	lambda float64, useGAE, properTimeLimits bool) error {
	if !s.Full() {
		return fmt.Errorf("computeReturns: buffer holds %v of %v "+
			"transitions", s.step, s.numSteps)
	}
	if bootstrapValue.Len() != s.numLanes {
		return fmt.Errorf("computeReturns: bootstrap value batch size "+
			"mismatch \n\twant(%v)\n\thave(%v)", s.numLanes,
			bootstrapValue.Len())
	}
	if gamma <= 0.0 || gamma >= 1.0 {
		return fmt.Errorf("computeReturns: discount must be in (0, 1) "+
			"\n\thave(%v)", gamma)
	}

	n := s.numLanes

	if useGAE {
		// Seed the trailing value slot with the bootstrap value, then
		// run the GAE recursion backwards per lane.
		copy(s.values[s.numSteps*n:(s.numSteps+1)*n],
			bootstrapValue.RawVector().Data)

		for lane := 0; lane < n; lane++ {
			gae := 0.0
			for t := s.numSteps - 1; t >= 0; t-- {
				i := t*n + lane
				next := (t+1)*n + lane

				delta := s.rewards[i] + gamma*s.values[next]*s.masks[next] -
					s.values[i]
				gae = delta + gamma*lambda*s.masks[next]*gae
				if properTimeLimits {
					gae *= s.validMask[next]
				}
				s.returns[i] = gae + s.values[i]
			}
		}
		return nil
	}

	// N-step discounted returns, seeded at the trailing slot.
	copy(s.returns[s.numSteps*n:(s.numSteps+1)*n],
		bootstrapValue.RawVector().Data)

	for lane := 0; lane < n; lane++ {
		for t := s.numSteps - 1; t >= 0; t-- {
			i := t*n + lane
			next := (t+1)*n + lane

			ret := s.returns[next]*gamma*s.masks[next] + s.rewards[i]
			if properTimeLimits {
				// Past an artificial cutoff the stored value estimate
				// is the target, not the next episode's rewards.
				v := s.validMask[next]
				ret = ret*v + (1.0-v)*s.values[i]
			}
			s.returns[i] = ret
		}
	}
	return nil
}
