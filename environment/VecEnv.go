package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// EpisodeResult summarizes one completed episode of one lane.
type EpisodeResult struct {
	Lane   int
	Return float64
	Length int
}

// StepResult bundles the outcome of stepping every lane once. The
// observation rows of lanes whose episode ended hold the first
// observation of the next episode, with the corresponding mask set to
// 0 so that value estimation does not bootstrap across the boundary.
type StepResult struct {
	Obs     *mat.Dense    // numLanes×obsSize next observations
	Rewards *mat.VecDense // rewards of the transitions just taken

	// Masks are 0 where this step ended an episode and 1 elsewhere.
	Masks *mat.VecDense

	// ValidMasks distinguish the two endings: 0 where an episode was
	// cut off by a time limit, 1 at true terminals and mid steps.
	ValidMasks *mat.VecDense

	// Episodes holds the stats of episodes completed by this step, in
	// lane order. Usually empty.
	Episodes []EpisodeResult
}

// VecEnv steps a fixed set of environment instances in lockstep, one
// lane per instance, and resets each lane's episode as it ends so
// that every step returns a full batch. Per-lane episode returns and
// lengths are accumulated across resets and reported on completion.
type VecEnv struct {
	envs       []Environment
	obsSize    int
	numActions int

	returns []float64
	lengths []int
}

// NewVecEnv returns a VecEnv stepping the given environment instances.
// All instances must share observation and action specifications. The
// instances must not be shared with other callers.
func NewVecEnv(envs []Environment) (*VecEnv, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("newVecEnv: need at least 1 environment")
	}

	obsSize := envs[0].ObservationSpec().Shape.Len()
	numActions := int(envs[0].ActionSpec().UpperBound.AtVec(0)) + 1
	for i, e := range envs[1:] {
		if e.ObservationSpec().Shape.Len() != obsSize {
			return nil, fmt.Errorf("newVecEnv: environment %v observation "+
				"size mismatch \n\twant(%v)\n\thave(%v)", i+1, obsSize,
				e.ObservationSpec().Shape.Len())
		}
		actions := int(e.ActionSpec().UpperBound.AtVec(0)) + 1
		if actions != numActions {
			return nil, fmt.Errorf("newVecEnv: environment %v action "+
				"count mismatch \n\twant(%v)\n\thave(%v)", i+1, numActions,
				actions)
		}
	}

	return &VecEnv{
		envs:       envs,
		obsSize:    obsSize,
		numActions: numActions,
		returns:    make([]float64, len(envs)),
		lengths:    make([]int, len(envs)),
	}, nil
}

// NumLanes returns the number of environment instances stepped per call.
func (v *VecEnv) NumLanes() int { return len(v.envs) }

// ObsSize returns the number of features per observation.
func (v *VecEnv) ObsSize() int { return v.obsSize }

// NumActions returns the number of discrete actions.
func (v *VecEnv) NumActions() int { return v.numActions }

// Reset starts a fresh episode in every lane and returns the batch of
// first observations.
func (v *VecEnv) Reset() *mat.Dense {
	obs := mat.NewDense(len(v.envs), v.obsSize, nil)
	for lane, e := range v.envs {
		step := e.Reset()
		obs.SetRow(lane, rawVec(step.Observation))
		v.returns[lane] = 0
		v.lengths[lane] = 0
	}
	return obs
}

// Step takes one action per lane, actions being a numLanes×1 matrix of
// discrete action indices, and advances every lane one timestep.
func (v *VecEnv) Step(actions *mat.Dense) (*StepResult, error) {
	r, c := actions.Dims()
	if r != len(v.envs) || c != 1 {
		return nil, fmt.Errorf("step: action batch dimension mismatch "+
			"\n\twant(%v×1)\n\thave(%v×%v)", len(v.envs), r, c)
	}

	result := &StepResult{
		Obs:        mat.NewDense(len(v.envs), v.obsSize, nil),
		Rewards:    mat.NewVecDense(len(v.envs), nil),
		Masks:      mat.NewVecDense(len(v.envs), nil),
		ValidMasks: mat.NewVecDense(len(v.envs), nil),
	}

	for lane, e := range v.envs {
		step, err := e.Step(int(actions.At(lane, 0)))
		if err != nil {
			return nil, fmt.Errorf("step: lane %v: %v", lane, err)
		}

		result.Rewards.SetVec(lane, step.Reward)
		v.returns[lane] += step.Reward
		v.lengths[lane]++

		if !step.Last() {
			result.Obs.SetRow(lane, rawVec(step.Observation))
			result.Masks.SetVec(lane, 1.0)
			result.ValidMasks.SetVec(lane, 1.0)
			continue
		}

		result.Episodes = append(result.Episodes, EpisodeResult{
			Lane:   lane,
			Return: v.returns[lane],
			Length: v.lengths[lane],
		})
		if step.TerminatedEarly() {
			result.ValidMasks.SetVec(lane, 0.0)
		} else {
			result.ValidMasks.SetVec(lane, 1.0)
		}

		first := e.Reset()
		result.Obs.SetRow(lane, rawVec(first.Observation))
		v.returns[lane] = 0
		v.lengths[lane] = 0
	}
	return result, nil
}

// rawVec flattens a vector into a slice without copying when possible.
func rawVec(v mat.Vector) []float64 {
	if dense, ok := v.(*mat.VecDense); ok && dense.RawVector().Inc == 1 {
		return dense.RawVector().Data
	}
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return data
}
