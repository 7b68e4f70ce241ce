// Package rollout implements fixed-horizon rollout storage for
// synchronous policy-gradient algorithms. A Storage holds T timesteps
// of experience across N parallel environment lanes, together with the
// extra bootstrap slot needed to estimate the value of the state
// following the rollout horizon.
//
// This implementation is adapted from:
//
// https://github.com/ikostrikov/pytorch-a2c-ppo-acktr-gail
package rollout

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Storage is a rollout buffer of T transition slots across N lanes,
// plus one trailing slot. The trailing slot holds only the observation,
// recurrent hidden state, and continuation masks needed to bootstrap
// the value of the state past the horizon. Rewards, actions, and log
// probabilities are cycle-local and have no trailing slot.
//
// Rollouts are a continuous stream per lane: slot 0 of each new cycle
// is the trailing slot of the previous cycle, installed by
// AfterUpdate. The stream is only ever broken by the continuation
// masks that record episode boundaries.
//
// All data is stored in flat float64 backing slices in step-major
// order, so that the T×N batch consumed by an update pass is a single
// contiguous view.
type Storage struct {
	numSteps   int // T, the rollout horizon
	numLanes   int // N, parallel environment lanes
	obsSize    int
	hiddenSize int
	actionSize int

	step int // Next free transition slot

	// (T+1)*N slots
	obs       []float64
	hidden    []float64
	values    []float64
	masks     []float64
	validMask []float64
	returns   []float64

	// T*N slots
	actions  []float64
	logProbs []float64
	rewards  []float64
}

// New returns an empty Storage for numSteps transition slots across
// numLanes parallel environment lanes. Memoryless policies should use
// hiddenSize 1; the hidden states are then carried as zeroes.
func New(numSteps, numLanes, obsSize, hiddenSize, actionSize int) (*Storage,
	error) {
	if numSteps < 1 {
		return nil, fmt.Errorf("new: rollout horizon must be ≥ 1")
	}
	if numLanes < 1 {
		return nil, fmt.Errorf("new: must have at least one lane")
	}
	if obsSize < 1 || hiddenSize < 1 || actionSize < 1 {
		return nil, fmt.Errorf("new: observation, hidden state, and action "+
			"sizes must be ≥ 1 \n\thave(%v, %v, %v)", obsSize, hiddenSize,
			actionSize)
	}

	s := &Storage{
		numSteps:   numSteps,
		numLanes:   numLanes,
		obsSize:    obsSize,
		hiddenSize: hiddenSize,
		actionSize: actionSize,

		obs:       make([]float64, (numSteps+1)*numLanes*obsSize),
		hidden:    make([]float64, (numSteps+1)*numLanes*hiddenSize),
		values:    make([]float64, (numSteps+1)*numLanes),
		masks:     make([]float64, (numSteps+1)*numLanes),
		validMask: make([]float64, (numSteps+1)*numLanes),
		returns:   make([]float64, (numSteps+1)*numLanes),

		actions:  make([]float64, numSteps*numLanes*actionSize),
		logProbs: make([]float64, numSteps*numLanes),
		rewards:  make([]float64, numSteps*numLanes),
	}

	// A fresh buffer starts with no terminated or truncated episodes
	for i := range s.masks {
		s.masks[i] = 1.0
		s.validMask[i] = 1.0
	}

	return s, nil
}

// NumSteps returns the rollout horizon T.
func (s *Storage) NumSteps() int { return s.numSteps }

// NumLanes returns the number of parallel environment lanes N.
func (s *Storage) NumLanes() int { return s.numLanes }

// ObsSize returns the size of a single observation vector.
func (s *Storage) ObsSize() int { return s.obsSize }

// HiddenSize returns the size of a single recurrent hidden state.
func (s *Storage) HiddenSize() int { return s.hiddenSize }

// ActionSize returns the number of action dimensions.
func (s *Storage) ActionSize() int { return s.actionSize }

// Full returns whether all T transition slots have been filled since
// the last AfterUpdate.
func (s *Storage) Full() bool { return s.step == s.numSteps }

// Reset seeds slot 0 of the buffer with the initial observations and
// hidden states of each lane. It is used once at training start; all
// later cycles are seeded by AfterUpdate instead.
func (s *Storage) Reset(obs, hidden *mat.Dense) error {
	if err := s.checkDims("reset", obs, s.obsSize); err != nil {
		return err
	}
	if err := s.checkDims("reset", hidden, s.hiddenSize); err != nil {
		return err
	}

	s.step = 0
	copyRows(s.obs[:s.numLanes*s.obsSize], obs)
	copyRows(s.hidden[:s.numLanes*s.hiddenSize], hidden)
	for i := 0; i < s.numLanes; i++ {
		s.masks[i] = 1.0
		s.validMask[i] = 1.0
	}
	return nil
}

// Insert appends one timestep of experience across all lanes at the
// next free transition slot. The observation, hidden state, and masks
// describe the state resulting from the transition and land in slot
// t+1; the action, log probability, predicted value, and reward
// describe the transition itself and land in slot t.
//
// Insert fails if the buffer already holds T filled transition slots.
func (s *Storage) Insert(obs, hidden, action *mat.Dense, logProb, value,
	reward, mask, validMask *mat.VecDense) error {
	if s.Full() {
		return fmt.Errorf("insert: buffer already holds %v transitions",
			s.numSteps)
	}
	if err := s.checkDims("insert", obs, s.obsSize); err != nil {
		return err
	}
	if err := s.checkDims("insert", hidden, s.hiddenSize); err != nil {
		return err
	}
	if err := s.checkDims("insert", action, s.actionSize); err != nil {
		return err
	}
	for _, v := range []*mat.VecDense{logProb, value, reward, mask,
		validMask} {
		if v.Len() != s.numLanes {
			return fmt.Errorf("insert: vector batch size mismatch "+
				"\n\twant(%v)\n\thave(%v)", s.numLanes, v.Len())
		}
	}

	t, n := s.step, s.numLanes

	copyRows(s.obs[(t+1)*n*s.obsSize:(t+2)*n*s.obsSize], obs)
	copyRows(s.hidden[(t+1)*n*s.hiddenSize:(t+2)*n*s.hiddenSize], hidden)
	copyRows(s.actions[t*n*s.actionSize:(t+1)*n*s.actionSize], action)

	copy(s.logProbs[t*n:(t+1)*n], logProb.RawVector().Data)
	copy(s.values[t*n:(t+1)*n], value.RawVector().Data)
	copy(s.rewards[t*n:(t+1)*n], reward.RawVector().Data)
	copy(s.masks[(t+1)*n:(t+2)*n], mask.RawVector().Data)
	copy(s.validMask[(t+1)*n:(t+2)*n], validMask.RawVector().Data)

	s.step++
	return nil
}

// AfterUpdate carries the trailing slot forward into slot 0 and
// rewinds the buffer so that the next cycle continues the per-lane
// streams where this one left off. Cycle-local data (rewards, actions,
// log probabilities) is left in place to be overwritten by the next
// cycle's inserts.
func (s *Storage) AfterUpdate() {
	t, n := s.numSteps, s.numLanes

	copy(s.obs[:n*s.obsSize], s.obs[t*n*s.obsSize:(t+1)*n*s.obsSize])
	copy(s.hidden[:n*s.hiddenSize],
		s.hidden[t*n*s.hiddenSize:(t+1)*n*s.hiddenSize])
	copy(s.masks[:n], s.masks[t*n:(t+1)*n])
	copy(s.validMask[:n], s.validMask[t*n:(t+1)*n])

	s.step = 0
}

// Obs returns the observation batch at a slot as an N×obsSize matrix
// view into the buffer. Mutating the view mutates the buffer.
func (s *Storage) Obs(step int) *mat.Dense {
	n := s.numLanes
	return mat.NewDense(n, s.obsSize,
		s.obs[step*n*s.obsSize:(step+1)*n*s.obsSize])
}

// Hidden returns the recurrent hidden state batch at a slot as an
// N×hiddenSize matrix view into the buffer.
func (s *Storage) Hidden(step int) *mat.Dense {
	n := s.numLanes
	return mat.NewDense(n, s.hiddenSize,
		s.hidden[step*n*s.hiddenSize:(step+1)*n*s.hiddenSize])
}

// Actions returns the action batch at a transition slot as an
// N×actionSize matrix view into the buffer.
func (s *Storage) Actions(step int) *mat.Dense {
	n := s.numLanes
	return mat.NewDense(n, s.actionSize,
		s.actions[step*n*s.actionSize:(step+1)*n*s.actionSize])
}

// Masks returns the continuation mask batch at a slot. A mask of 0
// records that the lane's episode terminated on entry to the slot.
func (s *Storage) Masks(step int) *mat.VecDense {
	n := s.numLanes
	return mat.NewVecDense(n, s.masks[step*n:(step+1)*n])
}

// ValidMasks returns the valid-mask batch at a slot. A valid mask of 0
// records that the lane's episode was cut off by an artificial time
// limit, rather than ending on a true terminal state.
func (s *Storage) ValidMasks(step int) *mat.VecDense {
	n := s.numLanes
	return mat.NewVecDense(n, s.validMask[step*n:(step+1)*n])
}

// Rewards returns the reward batch at a transition slot as a vector
// view into the buffer. Reward shaping may overwrite it in place
// before returns are computed.
func (s *Storage) Rewards(step int) *mat.VecDense {
	n := s.numLanes
	return mat.NewVecDense(n, s.rewards[step*n:(step+1)*n])
}

// Values returns the predicted value batch at a slot.
func (s *Storage) Values(step int) *mat.VecDense {
	n := s.numLanes
	return mat.NewVecDense(n, s.values[step*n:(step+1)*n])
}

// Returns returns the computed return batch at a slot. It is only
// meaningful after ComputeReturns has run for the cycle.
func (s *Storage) Returns(step int) *mat.VecDense {
	n := s.numLanes
	return mat.NewVecDense(n, s.returns[step*n:(step+1)*n])
}

// ObsBatch returns the T×N flattened observations of the filled
// transition slots in step-major order.
func (s *Storage) ObsBatch() []float64 {
	return s.obs[:s.numSteps*s.numLanes*s.obsSize]
}

// ActionsBatch returns the T×N flattened actions in step-major order.
func (s *Storage) ActionsBatch() []float64 { return s.actions }

// LogProbsBatch returns the T×N flattened log probabilities of the
// actions under the policy that collected them.
func (s *Storage) LogProbsBatch() []float64 { return s.logProbs }

// ValuesBatch returns the T×N flattened value predictions made while
// collecting the rollout.
func (s *Storage) ValuesBatch() []float64 {
	return s.values[:s.numSteps*s.numLanes]
}

// ReturnsBatch returns the T×N flattened computed returns.
func (s *Storage) ReturnsBatch() []float64 {
	return s.returns[:s.numSteps*s.numLanes]
}

// MasksBatch returns the T×N flattened continuation masks aligned with
// the transition slots (slots 0..T-1).
func (s *Storage) MasksBatch() []float64 {
	return s.masks[:s.numSteps*s.numLanes]
}

// Advantages returns a freshly allocated T×N advantage table, computed
// as the difference between the returns table and the value
// predictions. The result aliases no buffer memory, so downstream
// normalization cannot corrupt the rollout.
func (s *Storage) Advantages() []float64 {
	adv := make([]float64, s.numSteps*s.numLanes)
	floats.SubTo(adv, s.ReturnsBatch(), s.ValuesBatch())
	return adv
}

// checkDims validates an N×size batch matrix.
func (s *Storage) checkDims(op string, m *mat.Dense, size int) error {
	r, c := m.Dims()
	if r != s.numLanes || c != size {
		return fmt.Errorf("%v: batch dimension mismatch "+
			"\n\twant(%v×%v)\n\thave(%v×%v)", op, s.numLanes, size, r, c)
	}
	return nil
}

// copyRows copies a dense batch matrix into a flat destination slice.
func copyRows(dst []float64, m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		copy(dst[i*c:(i+1)*c], m.RawRowView(i))
	}
}
