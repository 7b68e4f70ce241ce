package rollout

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// MiniBatch is one flattened batch of transitions handed to an update
// pass, together with the advantage estimates aligned with it. For
// feed-forward policies the rows are individually shuffled timesteps.
// For recurrent policies the rows are time-major lane sequences:
// Hidden holds only the hidden state entering the first timestep of
// each sequence, and Masks let the model cut the hidden state at
// episode boundaries while replaying.
type MiniBatch struct {
	Size     int // Number of transition rows
	NumLanes int // Sequences per batch; equal to Size for feed-forward

	Obs        []float64 // Size×obsSize
	Hidden     []float64 // NumLanes×hiddenSize
	Actions    []float64 // Size×actionSize
	LogProbs   []float64 // Log probabilities under the acting policy
	Values     []float64 // Value predictions made while acting
	Returns    []float64
	Masks      []float64
	Advantages []float64
}

// FullBatch gathers every filled transition slot into a single
// MiniBatch in step-major order, paired with the given advantage
// table. Synchronous single-pass algorithms consume the rollout this
// way, with no shuffling, so that recurrent hidden states can be
// replayed sequentially per lane from the slot-0 hidden state.
func (s *Storage) FullBatch(advantages []float64) (*MiniBatch, error) {
	if !s.Full() {
		return nil, fmt.Errorf("fullBatch: buffer holds %v of %v "+
			"transitions", s.step, s.numSteps)
	}
	total := s.numSteps * s.numLanes
	if len(advantages) != total {
		return nil, fmt.Errorf("fullBatch: advantage table size mismatch "+
			"\n\twant(%v)\n\thave(%v)", total, len(advantages))
	}

	return &MiniBatch{
		Size:       total,
		NumLanes:   s.numLanes,
		Obs:        s.ObsBatch(),
		Hidden:     s.hidden[:s.numLanes*s.hiddenSize],
		Actions:    s.ActionsBatch(),
		LogProbs:   s.LogProbsBatch(),
		Values:     s.ValuesBatch(),
		Returns:    s.ReturnsBatch(),
		Masks:      s.MasksBatch(),
		Advantages: advantages,
	}, nil
}

// FeedForwardBatches partitions the T×N flattened transitions into
// numMiniBatch minibatches using a fresh random permutation drawn from
// rng. Every transition appears in exactly one minibatch. The buffer
// must be full and must hold at least numMiniBatch transitions.
func (s *Storage) FeedForwardBatches(rng *rand.Rand, advantages []float64,
	numMiniBatch int) ([]*MiniBatch, error) {
	if !s.Full() {
		return nil, fmt.Errorf("feedForwardBatches: buffer holds %v of %v "+
			"transitions", s.step, s.numSteps)
	}
	total := s.numSteps * s.numLanes
	if numMiniBatch < 1 || total < numMiniBatch {
		return nil, fmt.Errorf("feedForwardBatches: cannot split %v "+
			"transitions (%v steps × %v lanes) into %v minibatches", total,
			s.numSteps, s.numLanes, numMiniBatch)
	}
	if len(advantages) != total {
		return nil, fmt.Errorf("feedForwardBatches: advantage table size "+
			"mismatch \n\twant(%v)\n\thave(%v)", total, len(advantages))
	}

	perm := rng.Perm(total)
	size := total / numMiniBatch

	batches := make([]*MiniBatch, 0, numMiniBatch)
	for b := 0; b < numMiniBatch; b++ {
		indices := perm[b*size : (b+1)*size]
		// Any remainder transitions join the final minibatch
		if b == numMiniBatch-1 {
			indices = perm[b*size:]
		}

		batch := &MiniBatch{
			Size:       len(indices),
			NumLanes:   len(indices),
			Obs:        make([]float64, 0, len(indices)*s.obsSize),
			Hidden:     make([]float64, 0, len(indices)*s.hiddenSize),
			Actions:    make([]float64, 0, len(indices)*s.actionSize),
			LogProbs:   make([]float64, 0, len(indices)),
			Values:     make([]float64, 0, len(indices)),
			Returns:    make([]float64, 0, len(indices)),
			Masks:      make([]float64, 0, len(indices)),
			Advantages: make([]float64, 0, len(indices)),
		}
		for _, i := range indices {
			batch.Obs = append(batch.Obs,
				s.obs[i*s.obsSize:(i+1)*s.obsSize]...)
			batch.Hidden = append(batch.Hidden,
				s.hidden[i*s.hiddenSize:(i+1)*s.hiddenSize]...)
			batch.Actions = append(batch.Actions,
				s.actions[i*s.actionSize:(i+1)*s.actionSize]...)
			batch.LogProbs = append(batch.LogProbs, s.logProbs[i])
			batch.Values = append(batch.Values, s.values[i])
			batch.Returns = append(batch.Returns, s.returns[i])
			batch.Masks = append(batch.Masks, s.masks[i])
			batch.Advantages = append(batch.Advantages, advantages[i])
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// RecurrentBatches partitions the rollout into numMiniBatch
// minibatches of whole lanes, shuffled at lane granularity so that
// each lane's T transitions stay contiguous and in order. Rows within
// a minibatch are time-major: all lanes' transitions for step 0, then
// step 1, and so on, matching the order in which a recurrent model
// replays its hidden state. Hidden holds the slot-0 hidden state of
// each lane in the batch.
//
// numMiniBatch must evenly divide the lane count, since a partial lane
// cannot be replayed.
func (s *Storage) RecurrentBatches(rng *rand.Rand, advantages []float64,
	numMiniBatch int) ([]*MiniBatch, error) {
	if !s.Full() {
		return nil, fmt.Errorf("recurrentBatches: buffer holds %v of %v "+
			"transitions", s.step, s.numSteps)
	}
	if numMiniBatch < 1 || s.numLanes%numMiniBatch != 0 {
		return nil, fmt.Errorf("recurrentBatches: minibatch count %v does "+
			"not evenly partition %v lanes", numMiniBatch, s.numLanes)
	}
	total := s.numSteps * s.numLanes
	if len(advantages) != total {
		return nil, fmt.Errorf("recurrentBatches: advantage table size "+
			"mismatch \n\twant(%v)\n\thave(%v)", total, len(advantages))
	}

	perm := rng.Perm(s.numLanes)
	lanesPerBatch := s.numLanes / numMiniBatch

	batches := make([]*MiniBatch, 0, numMiniBatch)
	for b := 0; b < numMiniBatch; b++ {
		lanes := perm[b*lanesPerBatch : (b+1)*lanesPerBatch]
		size := s.numSteps * len(lanes)

		batch := &MiniBatch{
			Size:       size,
			NumLanes:   len(lanes),
			Obs:        make([]float64, 0, size*s.obsSize),
			Hidden:     make([]float64, 0, len(lanes)*s.hiddenSize),
			Actions:    make([]float64, 0, size*s.actionSize),
			LogProbs:   make([]float64, 0, size),
			Values:     make([]float64, 0, size),
			Returns:    make([]float64, 0, size),
			Masks:      make([]float64, 0, size),
			Advantages: make([]float64, 0, size),
		}
		for _, lane := range lanes {
			batch.Hidden = append(batch.Hidden,
				s.hidden[lane*s.hiddenSize:(lane+1)*s.hiddenSize]...)
		}
		for t := 0; t < s.numSteps; t++ {
			for _, lane := range lanes {
				i := t*s.numLanes + lane
				batch.Obs = append(batch.Obs,
					s.obs[i*s.obsSize:(i+1)*s.obsSize]...)
				batch.Actions = append(batch.Actions,
					s.actions[i*s.actionSize:(i+1)*s.actionSize]...)
				batch.LogProbs = append(batch.LogProbs, s.logProbs[i])
				batch.Values = append(batch.Values, s.values[i])
				batch.Returns = append(batch.Returns, s.returns[i])
				batch.Masks = append(batch.Masks, s.masks[i])
				batch.Advantages = append(batch.Advantages, advantages[i])
			}
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
