package agent

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// ClipGradNorm rescales the gradients of a model in place so that
// their global L2 norm is at most maxNorm, returning the norm before
// clipping. A maxNorm ≤ 0 disables clipping but still reports the
// norm.
//
// The model's gradients must already be populated by a backward pass.
func ClipGradNorm(model []G.ValueGrad, maxNorm float64) (float64, error) {
	gradData := make([][]float64, 0, len(model))
	total := 0.0
	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return 0, fmt.Errorf("clipGradNorm: no gradient for learnable "+
				"%v: %v", i, err)
		}
		data, ok := grad.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("clipGradNorm: learnable %v has gradient "+
				"type %T \n\twant([]float64)", i, grad.Data())
		}
		gradData = append(gradData, data)
		total += floats.Dot(data, data)
	}

	norm := math.Sqrt(total)
	if !math.IsInf(norm, 0) && !math.IsNaN(norm) {
		if maxNorm > 0 && norm > maxNorm {
			scale := maxNorm / (norm + 1e-6)
			for _, data := range gradData {
				floats.Scale(scale, data)
			}
		}
		return norm, nil
	}
	return norm, fmt.Errorf("clipGradNorm: gradient norm is not finite")
}
