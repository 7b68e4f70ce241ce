package op

import (
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// newInputVec returns a graph input vector holding the given values.
func newInputVec(g *G.ExprGraph, name string, values []float64) *G.Node {
	return G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(len(values)),
		G.WithName(name),
		G.WithValue(tensor.New(
			tensor.WithShape(len(values)),
			tensor.WithBacking(values),
		)),
	)
}

// run evaluates the given node and returns its value.
func run(t *testing.T, g *G.ExprGraph, node *G.Node) []float64 {
	var val G.Value
	G.Read(node, &val)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run graph: %v", err)
	}

	out, ok := val.Data().([]float64)
	if !ok {
		t.Fatalf("node backed by %T, not []float64", val.Data())
	}
	return out
}

func TestClip(t *testing.T) {
	const min, max float64 = -1.0, 1.0

	// The bounds themselves must clip to themselves, not fall through
	// the masks to 0
	values := []float64{-2.0, -1.0, -0.5, 0.0, 0.5, 1.0, 2.0}
	expected := []float64{-1.0, -1.0, -0.5, 0.0, 0.5, 1.0, 1.0}

	g := G.NewGraph()
	clipped, err := Clip(newInputVec(g, "values", values), min, max)
	if err != nil {
		t.Fatalf("could not clip: %v", err)
	}

	for i, have := range run(t, g, clipped) {
		if have != expected[i] {
			t.Errorf("clip(%v) \n\twant(%v)\n\thave(%v)", values[i],
				expected[i], have)
		}
	}
}

func TestMin(t *testing.T) {
	a := []float64{1.0, 2.0, 3.0}
	b := []float64{3.0, 2.0, 1.0}
	expected := []float64{1.0, 2.0, 1.0}

	g := G.NewGraph()
	min, err := Min(newInputVec(g, "a", a), newInputVec(g, "b", b))
	if err != nil {
		t.Fatalf("could not take minimum: %v", err)
	}

	for i, have := range run(t, g, min) {
		if have != expected[i] {
			t.Errorf("min(%v, %v) \n\twant(%v)\n\thave(%v)", a[i], b[i],
				expected[i], have)
		}
	}
}

func TestMax(t *testing.T) {
	a := []float64{1.0, 2.0, 3.0}
	b := []float64{3.0, 2.0, 1.0}
	expected := []float64{3.0, 2.0, 3.0}

	g := G.NewGraph()
	max, err := Max(newInputVec(g, "a", a), newInputVec(g, "b", b))
	if err != nil {
		t.Fatalf("could not take maximum: %v", err)
	}

	for i, have := range run(t, g, max) {
		if have != expected[i] {
			t.Errorf("max(%v, %v) \n\twant(%v)\n\thave(%v)", a[i], b[i],
				expected[i], have)
		}
	}
}
