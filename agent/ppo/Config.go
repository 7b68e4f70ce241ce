package ppo

import "fmt"

// Config implements a configuration of the PPO update engine. The
// zero value is not usable; start from DefaultConfig.
type Config struct {
	LR      float64 // Adam learning rate
	AdamEps float64

	ClipParam    float64 // Surrogate clipping radius ε
	Epochs       int     // Optimization epochs per rollout
	NumMiniBatch int     // Minibatches per epoch

	ValueLossCoef float64 // Weight on the value head loss
	EntropyCoef   float64 // Weight on the entropy bonus
	MaxGradNorm   float64 // Global gradient norm clip, ≤ 0 disables

	// ClipValueLoss applies the same clipping radius to value head
	// updates, pessimistically bounding how far a single rollout can
	// move the value predictions.
	ClipValueLoss bool

	// NormalizeAdvantages standardizes the advantage table to zero
	// mean and unit variance before each update.
	NormalizeAdvantages bool

	// Recurrent samples lane-contiguous sequences instead of shuffled
	// timesteps, preserving the temporal order recurrent models need.
	Recurrent bool
}

// DefaultConfig returns a PPO configuration with the hyperparameters
// of Schulman et al. (2017).
func DefaultConfig() Config {
	return Config{
		LR:                  7e-4,
		AdamEps:             1e-5,
		ClipParam:           0.2,
		Epochs:              4,
		NumMiniBatch:        32,
		ValueLossCoef:       0.5,
		EntropyCoef:         0.01,
		MaxGradNorm:         0.5,
		ClipValueLoss:       true,
		NormalizeAdvantages: true,
	}
}

// Validate returns an error describing why the configuration cannot
// construct an engine, or nil if it can.
func (c Config) Validate() error {
	if c.LR <= 0 {
		return fmt.Errorf("validate: learning rate must be positive "+
			"\n\twas (%v)", c.LR)
	}
	if c.AdamEps <= 0 {
		return fmt.Errorf("validate: adam epsilon must be positive "+
			"\n\twas (%v)", c.AdamEps)
	}
	if c.ClipParam <= 0 || c.ClipParam >= 1 {
		return fmt.Errorf("validate: clip parameter must be in (0, 1) "+
			"\n\twas (%v)", c.ClipParam)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("validate: need at least 1 epoch \n\thave(%v)",
			c.Epochs)
	}
	if c.NumMiniBatch < 1 {
		return fmt.Errorf("validate: need at least 1 minibatch "+
			"\n\thave(%v)", c.NumMiniBatch)
	}
	if c.ValueLossCoef < 0 {
		return fmt.Errorf("validate: value loss coefficient cannot be "+
			"negative \n\twas (%v)", c.ValueLossCoef)
	}
	if c.EntropyCoef < 0 {
		return fmt.Errorf("validate: entropy coefficient cannot be "+
			"negative \n\twas (%v)", c.EntropyCoef)
	}
	return nil
}
