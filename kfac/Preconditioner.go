// Package kfac implements a Kronecker-factored-style natural gradient
// preconditioner using a running diagonal approximation to the Fisher
// information matrix. Gradients are rescaled by the inverse square
// root of the Fisher diagonal before each optimizer step, yielding
// approximately curvature-aware updates at a fraction of the cost of
// maintaining the full Kronecker factors.
//
// The approximation follows the trust-region scheme of ACKTR:
//
//	https://arxiv.org/abs/1708.05144
package kfac

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// Preconditioner maintains per-parameter Fisher diagonal estimates
// and preconditions gradients in place. It is not safe for concurrent
// use.
type Preconditioner struct {
	decay   float64 // exponential moving average rate for the Fisher
	damping float64 // Tikhonov damping added to the Fisher diagonal
	kl      float64 // trust region radius on the KL divergence

	fisher [][]float64 // running squared-gradient estimates
	steps  int
}

// New returns a Preconditioner with the given Fisher moving average
// decay, damping term, and KL trust region radius.
func New(decay, damping, kl float64) (*Preconditioner, error) {
	if decay <= 0 || decay >= 1 {
		return nil, fmt.Errorf("new: decay must be in (0, 1) \n\twas "+
			"(%v)", decay)
	}
	if damping <= 0 {
		return nil, fmt.Errorf("new: damping must be positive \n\twas "+
			"(%v)", damping)
	}
	if kl <= 0 {
		return nil, fmt.Errorf("new: kl trust region must be positive "+
			"\n\twas (%v)", kl)
	}

	return &Preconditioner{
		decay:   decay,
		damping: damping,
		kl:      kl,
	}, nil
}

// Observe folds the current gradients of model into the running
// Fisher diagonal estimate. It should be called once per backward
// pass, before Precondition.
func (p *Preconditioner) Observe(model []G.ValueGrad) error {
	if p.fisher == nil {
		p.fisher = make([][]float64, len(model))
		for i, vg := range model {
			grad, err := vg.Grad()
			if err != nil {
				return fmt.Errorf("observe: no gradient for learnable "+
					"%v: %v", i, err)
			}
			data, ok := grad.Data().([]float64)
			if !ok {
				return fmt.Errorf("observe: learnable %v has gradient "+
					"type %T \n\twant([]float64)", i, grad.Data())
			}
			p.fisher[i] = make([]float64, len(data))
		}
	}
	if len(p.fisher) != len(model) {
		return fmt.Errorf("observe: model has %v learnables \n\twant(%v)",
			len(model), len(p.fisher))
	}

	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("observe: no gradient for learnable %v: %v",
				i, err)
		}
		data := grad.Data().([]float64)
		if len(data) != len(p.fisher[i]) {
			return fmt.Errorf("observe: learnable %v has %v elements "+
				"\n\twant(%v)", i, len(data), len(p.fisher[i]))
		}

		fisher := p.fisher[i]
		for j, g := range data {
			fisher[j] = p.decay*fisher[j] + (1-p.decay)*g*g
		}
	}
	p.steps++
	return nil
}

// Precondition rescales the gradients of model in place by the
// inverse square root of the damped Fisher diagonal, then shrinks the
// resulting update so that its estimated KL divergence stays within
// the trust region. Observe must have been called at least once.
func (p *Preconditioner) Precondition(model []G.ValueGrad) error {
	if p.fisher == nil {
		return fmt.Errorf("precondition: no Fisher estimate, call " +
			"Observe first")
	}
	if len(p.fisher) != len(model) {
		return fmt.Errorf("precondition: model has %v learnables "+
			"\n\twant(%v)", len(model), len(p.fisher))
	}

	// Debias the moving average in the same way Adam debiases its
	// moment estimates.
	correction := 1.0 - math.Pow(p.decay, float64(p.steps))

	gradData := make([][]float64, len(model))
	quadratic := 0.0
	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("precondition: no gradient for learnable "+
				"%v: %v", i, err)
		}
		data := grad.Data().([]float64)
		if len(data) != len(p.fisher[i]) {
			return fmt.Errorf("precondition: learnable %v has %v "+
				"elements \n\twant(%v)", i, len(data), len(p.fisher[i]))
		}

		fisher := p.fisher[i]
		for j := range data {
			f := fisher[j]/correction + p.damping
			data[j] /= math.Sqrt(f)
			quadratic += data[j] * data[j] * f
		}
		gradData[i] = data
	}

	if math.IsNaN(quadratic) || math.IsInf(quadratic, 0) {
		return fmt.Errorf("precondition: preconditioned gradient is " +
			"not finite")
	}

	// Scale the step into the KL trust region: η = min(1, sqrt(2δ/gᵀFg))
	if quadratic > 0 {
		eta := math.Min(1.0, math.Sqrt(2.0*p.kl/quadratic))
		if eta < 1.0 {
			for _, data := range gradData {
				floats.Scale(eta, data)
			}
		}
	}
	return nil
}
