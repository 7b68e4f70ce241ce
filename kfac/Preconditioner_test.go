package kfac

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fakeGrad implements G.ValueGrad with fixed value and gradient
// tensors so the preconditioner can be tested without building a
// computation graph.
type fakeGrad struct {
	value G.Value
	grad  G.Value
}

func newFakeGrad(value, grad []float64) *fakeGrad {
	return &fakeGrad{
		value: tensor.New(
			tensor.WithShape(len(value)),
			tensor.WithBacking(value),
		),
		grad: tensor.New(
			tensor.WithShape(len(grad)),
			tensor.WithBacking(grad),
		),
	}
}

func (f *fakeGrad) Value() G.Value         { return f.value }
func (f *fakeGrad) Grad() (G.Value, error) { return f.grad, nil }

func TestPreconditionRequiresObserve(t *testing.T) {
	p, err := New(0.95, 0.001, 0.001)
	if err != nil {
		t.Fatal(err)
	}

	model := []G.ValueGrad{newFakeGrad([]float64{0}, []float64{1})}
	if err := p.Precondition(model); err == nil {
		t.Error("expected error when preconditioning before Observe")
	}
}

func TestObserveAccumulatesFisher(t *testing.T) {
	const decay float64 = 0.9
	p, err := New(decay, 0.001, 0.001)
	if err != nil {
		t.Fatal(err)
	}

	grad := []float64{2.0, -3.0}
	model := []G.ValueGrad{newFakeGrad([]float64{0, 0}, grad)}

	if err := p.Observe(model); err != nil {
		t.Fatal(err)
	}
	if err := p.Observe(model); err != nil {
		t.Fatal(err)
	}

	for j, g := range grad {
		first := (1 - decay) * g * g
		expected := decay*first + (1-decay)*g*g
		if math.Abs(p.fisher[0][j]-expected) > 1e-12 {
			t.Errorf("fisher[%v] = %v, expected %v", j, p.fisher[0][j],
				expected)
		}
	}
}

func TestPreconditionScalesByInverseRootFisher(t *testing.T) {
	// With a huge KL radius the trust region never binds, so each
	// gradient element should be divided by the square root of its
	// debiased Fisher entry plus damping.
	const (
		decay   float64 = 0.9
		damping float64 = 0.01
	)
	p, err := New(decay, damping, 1e6)
	if err != nil {
		t.Fatal(err)
	}

	grad := []float64{2.0, -3.0}
	backing := make([]float64, len(grad))
	copy(backing, grad)
	model := []G.ValueGrad{newFakeGrad([]float64{0, 0}, backing)}

	if err := p.Observe(model); err != nil {
		t.Fatal(err)
	}
	if err := p.Precondition(model); err != nil {
		t.Fatal(err)
	}

	for j, g := range grad {
		// Debiasing a single observation recovers g² exactly.
		expected := g / math.Sqrt(g*g+damping)
		if math.Abs(backing[j]-expected) > 1e-12 {
			t.Errorf("grad[%v] = %v, expected %v", j, backing[j], expected)
		}
	}
}

func TestPreconditionRespectsTrustRegion(t *testing.T) {
	const kl float64 = 1e-6
	p, err := New(0.9, 0.01, kl)
	if err != nil {
		t.Fatal(err)
	}

	backing := []float64{5.0, -7.0, 2.0}
	model := []G.ValueGrad{newFakeGrad(make([]float64, 3), backing)}

	if err := p.Observe(model); err != nil {
		t.Fatal(err)
	}
	if err := p.Precondition(model); err != nil {
		t.Fatal(err)
	}

	// Recompute gᵀFg for the preconditioned gradient and check that it
	// satisfies the trust region constraint ½ gᵀFg ≤ δ.
	quadratic := 0.0
	for j, g := range backing {
		f := p.fisher[0][j]/(1-math.Pow(0.9, 1)) + 0.01
		quadratic += g * g * f
	}
	if quadratic/2 > kl*(1+1e-9) {
		t.Errorf("trust region violated: ½gᵀFg = %v > %v", quadratic/2, kl)
	}
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	if _, err := New(0.0, 0.01, 0.001); err == nil {
		t.Error("expected error for decay of 0")
	}
	if _, err := New(1.0, 0.01, 0.001); err == nil {
		t.Error("expected error for decay of 1")
	}
	if _, err := New(0.9, 0.0, 0.001); err == nil {
		t.Error("expected error for damping of 0")
	}
	if _, err := New(0.9, 0.01, 0.0); err == nil {
		t.Error("expected error for kl radius of 0")
	}
}
