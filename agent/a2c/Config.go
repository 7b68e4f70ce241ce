package a2c

import "fmt"

// Config implements a configuration of the A2C update engine. The
// zero value is not usable; start from DefaultConfig or
// DefaultACKTRConfig.
type Config struct {
	LR            float64 // Learning rate
	ValueLossCoef float64 // Weight on the value head loss
	EntropyCoef   float64 // Weight on the entropy bonus
	MaxGradNorm   float64 // Global gradient norm clip, ≤ 0 disables

	// RMSProp hyperparameters, ignored when ACKTR is set
	RMSPropAlpha float64 // Squared gradient moving average decay
	RMSPropEps   float64

	// ACKTR selects natural gradient updates through a Fisher diagonal
	// preconditioner instead of RMSProp.
	ACKTR       bool
	FisherDecay float64 // Fisher moving average decay
	Damping     float64 // Tikhonov damping on the Fisher diagonal
	KL          float64 // KL trust region radius per update
}

// DefaultConfig returns an A2C configuration with the
// hyperparameters of Mnih et al. (2016).
func DefaultConfig() Config {
	return Config{
		LR:            7e-4,
		ValueLossCoef: 0.5,
		EntropyCoef:   0.01,
		MaxGradNorm:   0.5,
		RMSPropAlpha:  0.99,
		RMSPropEps:    1e-5,
	}
}

// DefaultACKTRConfig returns an ACKTR configuration with the
// hyperparameters of Wu et al. (2017).
func DefaultACKTRConfig() Config {
	return Config{
		LR:            0.25,
		ValueLossCoef: 0.5,
		EntropyCoef:   0.01,
		ACKTR:         true,
		FisherDecay:   0.99,
		Damping:       0.01,
		KL:            0.001,
	}
}

// Validate returns an error describing why the configuration cannot
// construct an engine, or nil if it can.
func (c Config) Validate() error {
	if c.LR <= 0 {
		return fmt.Errorf("validate: learning rate must be positive "+
			"\n\twas (%v)", c.LR)
	}
	if c.ValueLossCoef < 0 {
		return fmt.Errorf("validate: value loss coefficient cannot be "+
			"negative \n\twas (%v)", c.ValueLossCoef)
	}
	if c.EntropyCoef < 0 {
		return fmt.Errorf("validate: entropy coefficient cannot be "+
			"negative \n\twas (%v)", c.EntropyCoef)
	}

	if c.ACKTR {
		if c.FisherDecay <= 0 || c.FisherDecay >= 1 {
			return fmt.Errorf("validate: fisher decay must be in (0, 1) "+
				"\n\twas (%v)", c.FisherDecay)
		}
		if c.Damping <= 0 {
			return fmt.Errorf("validate: damping must be positive "+
				"\n\twas (%v)", c.Damping)
		}
		if c.KL <= 0 {
			return fmt.Errorf("validate: kl trust region must be positive "+
				"\n\twas (%v)", c.KL)
		}
		return nil
	}

	if c.RMSPropAlpha <= 0 || c.RMSPropAlpha >= 1 {
		return fmt.Errorf("validate: rmsprop alpha must be in (0, 1) "+
			"\n\twas (%v)", c.RMSPropAlpha)
	}
	if c.RMSPropEps <= 0 {
		return fmt.Errorf("validate: rmsprop epsilon must be positive "+
			"\n\twas (%v)", c.RMSPropEps)
	}
	return nil
}
