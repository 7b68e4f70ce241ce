package agent

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fixedGrad implements G.ValueGrad with a fixed gradient tensor so
// clipping can be tested without building a computation graph.
type fixedGrad struct {
	value G.Value
	grad  G.Value
}

func newFixedGrad(grad []float64) *fixedGrad {
	return &fixedGrad{
		value: tensor.New(
			tensor.WithShape(len(grad)),
			tensor.WithBacking(make([]float64, len(grad))),
		),
		grad: tensor.New(
			tensor.WithShape(len(grad)),
			tensor.WithBacking(grad),
		),
	}
}

func (f *fixedGrad) Value() G.Value         { return f.value }
func (f *fixedGrad) Grad() (G.Value, error) { return f.grad, nil }

// gradNorm recomputes the global L2 norm of a model's gradients.
func gradNorm(t *testing.T, model []G.ValueGrad) float64 {
	total := 0.0
	for _, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			t.Fatalf("could not get gradient: %v", err)
		}
		for _, g := range grad.Data().([]float64) {
			total += g * g
		}
	}
	return math.Sqrt(total)
}

func TestClipGradNormScalesLargeGradients(t *testing.T) {
	const (
		maxNorm   float64 = 1.0
		tolerance float64 = 1e-6
	)

	// Global norm sqrt(3² + 4²) = 5 across two learnables
	model := []G.ValueGrad{
		newFixedGrad([]float64{3.0}),
		newFixedGrad([]float64{4.0}),
	}

	norm, err := ClipGradNorm(model, maxNorm)
	if err != nil {
		t.Fatalf("could not clip gradients: %v", err)
	}
	if norm != 5.0 {
		t.Errorf("pre-clip norm \n\twant(%v)\n\thave(%v)", 5.0, norm)
	}

	if after := gradNorm(t, model); after > maxNorm {
		t.Errorf("post-clip norm %v exceeds the bound %v", after, maxNorm)
	} else if math.Abs(after-maxNorm) > tolerance {
		t.Errorf("post-clip norm %v far below the bound %v", after, maxNorm)
	}
}

func TestClipGradNormLeavesSmallGradients(t *testing.T) {
	grads := []float64{3.0, 4.0}
	model := []G.ValueGrad{newFixedGrad(grads)}

	norm, err := ClipGradNorm(model, 10.0)
	if err != nil {
		t.Fatalf("could not clip gradients: %v", err)
	}
	if norm != 5.0 {
		t.Errorf("pre-clip norm \n\twant(%v)\n\thave(%v)", 5.0, norm)
	}
	if grads[0] != 3.0 || grads[1] != 4.0 {
		t.Errorf("gradients within the bound were rescaled to %v", grads)
	}
}

func TestClipGradNormDisabled(t *testing.T) {
	grads := []float64{3.0, 4.0}
	model := []G.ValueGrad{newFixedGrad(grads)}

	norm, err := ClipGradNorm(model, 0)
	if err != nil {
		t.Fatalf("could not compute norm: %v", err)
	}
	if norm != 5.0 {
		t.Errorf("reported norm \n\twant(%v)\n\thave(%v)", 5.0, norm)
	}
	if grads[0] != 3.0 || grads[1] != 4.0 {
		t.Errorf("gradients were rescaled with clipping disabled: %v",
			grads)
	}
}

func TestClipGradNormRejectsNonFiniteGradients(t *testing.T) {
	model := []G.ValueGrad{newFixedGrad([]float64{math.Inf(1)})}
	if _, err := ClipGradNorm(model, 1.0); err == nil {
		t.Error("accepted an infinite gradient norm")
	}

	model = []G.ValueGrad{newFixedGrad([]float64{math.NaN()})}
	if _, err := ClipGradNorm(model, 1.0); err == nil {
		t.Error("accepted a NaN gradient norm")
	}
}
