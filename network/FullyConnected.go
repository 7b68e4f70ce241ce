package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer is a single layer of a neural network.
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feed forward neural
// network.
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer returns a new fully connected layer of in×out weights on
// graph g. The name prefix keeps node names unique when several
// networks share one graph.
func newFCLayer(g *G.ExprGraph, in, out int, bias bool, act *Activation,
	init G.InitWFn, name string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(fmt.Sprintf("%vWeights", name)),
		G.WithInit(init),
	)

	var biasNode *G.Node
	if bias {
		biasNode = G.NewVector(
			g,
			tensor.Float64,
			G.WithShape(out),
			G.WithName(fmt.Sprintf("%vBias", name)),
			G.WithInit(G.Zeroes()),
		)
	}

	return &fcLayer{
		weights: weights,
		bias:    biasNode,
		act:     act,
	}
}

// fwd adds the forward pass of the fcLayer to the computational graph.
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation() == nil || f.Activation().IsNil() ||
		f.Activation().IsIdentity() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// Activation returns the layer's activation function.
func (f *fcLayer) Activation() *Activation {
	return f.act
}

// Bias returns the layer's bias node, which is nil for layers without
// bias units.
func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

// Weights returns the layer's weight node.
func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// makeLayers stacks fully connected layers with the given hidden
// sizes, followed by a final linear layer of outputs units with a bias
// unit and no activation.
func makeLayers(g *G.ExprGraph, features, outputs int, hiddenSizes []int,
	biases []bool, activations []*Activation, init G.InitWFn,
	prefix string) ([]Layer, error) {
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("makeLayers: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("makeLayers: invalid number of biases"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(biases))
	}

	sizes := append([]int{features}, hiddenSizes...)
	sizes = append(sizes, outputs)
	biases = append(append([]bool{}, biases...), true)
	activations = append(append([]*Activation{}, activations...), Identity())

	layers := make([]Layer, 0, len(sizes)-1)
	for i := 0; i < len(sizes)-1; i++ {
		name := fmt.Sprintf("%vL%d", prefix, i)
		layers = append(layers, newFCLayer(g, sizes[i], sizes[i+1], biases[i],
			activations[i], init, name))
	}
	return layers, nil
}
