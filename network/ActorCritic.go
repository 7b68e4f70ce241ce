// Package network implements the gorgonia neural networks that back
// policy-gradient agents: a categorical policy head and a state-value
// head over independent fully connected trunks, built on a single
// computational graph so that update engines can attach loss nodes and
// differentiate through both heads at once.
package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/samuelfneumann/gopg/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ActorCritic is a two-headed feed forward network for discrete action
// spaces. The policy trunk predicts one logit per action and the value
// trunk predicts a scalar state value. The trunks share no weights.
//
// Besides the raw heads, the graph carries the derived nodes that
// policy-gradient losses are built from: the log probability of
// externally supplied actions (via the one-hot action input node), and
// the entropy of the action distribution at each input state. The
// gradient therefore never flows through action selection itself.
//
// An ActorCritic is constructed for a fixed batch size. Agents keep
// one copy at the acting batch size and clone training copies at the
// update batch size, syncing weights between them with Set.
type ActorCritic struct {
	g          *G.ExprGraph
	obsSize    int
	numActions int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	policyLayers []Layer
	valueLayers  []Layer

	input       *G.Node // batch×obsSize observations
	actionInput *G.Node // batch×numActions one-hot actions

	logits    *G.Node
	logitsVal G.Value

	logProb    *G.Node // batch log π(a|s) of the action input
	logProbVal G.Value

	entropy    *G.Node // batch policy entropies
	entropyVal G.Value

	value    *G.Node // batch state values
	valueVal G.Value

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewActorCritic returns a new ActorCritic on graph g for batchSize
// observations of obsSize features and numActions discrete actions.
// Both trunks use the given hidden layer sizes, bias flags, and
// activations; a final linear layer per head is added automatically.
func NewActorCritic(g *G.ExprGraph, obsSize, numActions, batchSize int,
	hiddenSizes []int, biases []bool, activations []*Activation,
	init G.InitWFn) (*ActorCritic, error) {
	if obsSize < 1 {
		return nil, fmt.Errorf("newActorCritic: observation size must be "+
			"≥ 1 \n\thave(%v)", obsSize)
	}
	if numActions < 2 {
		return nil, fmt.Errorf("newActorCritic: need at least 2 actions "+
			"\n\thave(%v)", numActions)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newActorCritic: batch size must be ≥ 1 "+
			"\n\thave(%v)", batchSize)
	}

	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, obsSize),
		G.WithName("Observations"),
		G.WithInit(G.Zeroes()),
	)
	actionInput := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, numActions),
		G.WithName("ActionIndices"),
		G.WithInit(G.Zeroes()),
	)

	policyLayers, err := makeLayers(g, obsSize, numActions, hiddenSizes,
		biases, activations, init, "Policy")
	if err != nil {
		return nil, fmt.Errorf("newActorCritic: could not create policy "+
			"trunk: %v", err)
	}
	valueLayers, err := makeLayers(g, obsSize, 1, hiddenSizes, biases,
		activations, init, "Value")
	if err != nil {
		return nil, fmt.Errorf("newActorCritic: could not create value "+
			"trunk: %v", err)
	}

	net := &ActorCritic{
		g:          g,
		obsSize:    obsSize,
		numActions: numActions,
		batchSize:  batchSize,

		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,

		policyLayers: policyLayers,
		valueLayers:  valueLayers,

		input:       input,
		actionInput: actionInput,
	}

	if err := net.fwd(); err != nil {
		return nil, fmt.Errorf("newActorCritic: could not compute forward "+
			"pass: %v", err)
	}
	return net, nil
}

// fwd builds the forward pass and the derived log probability,
// entropy, and value nodes.
func (a *ActorCritic) fwd() error {
	var err error

	logits := a.input
	for i, l := range a.policyLayers {
		if logits, err = l.fwd(logits); err != nil {
			return fmt.Errorf("fwd: policy layer %v: %v", i, err)
		}
	}
	a.logits = logits

	value := a.input
	for i, l := range a.valueLayers {
		if value, err = l.fwd(value); err != nil {
			return fmt.Errorf("fwd: value layer %v: %v", i, err)
		}
	}
	a.value = G.Must(G.Reshape(value, tensor.Shape{a.batchSize}))

	// Log probability of the one-hot input actions via the LogSumExp
	// trick for numerical stability
	lse := op.LogSumExp(logits, 1)
	inputLogits := G.Must(G.HadamardProd(a.actionInput, logits))
	inputLogits = G.Must(G.Sum(inputLogits, 1))
	a.logProb = G.Must(G.Sub(inputLogits, lse))

	// Entropy of the categorical distribution at each state
	logProbs := G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
	probs := G.Must(G.Exp(logProbs))
	entropy := G.Must(G.HadamardProd(probs, logProbs))
	entropy = G.Must(G.Sum(entropy, 1))
	a.entropy = G.Must(G.Neg(entropy))

	G.Read(a.logits, &a.logitsVal)
	G.Read(a.logProb, &a.logProbVal)
	G.Read(a.entropy, &a.entropyVal)
	G.Read(a.value, &a.valueVal)

	return nil
}

// Graph returns the computational graph the network was built on.
func (a *ActorCritic) Graph() *G.ExprGraph { return a.g }

// ObsSize returns the number of features per observation.
func (a *ActorCritic) ObsSize() int { return a.obsSize }

// NumActions returns the number of discrete actions.
func (a *ActorCritic) NumActions() int { return a.numActions }

// BatchSize returns the batch size the network was built for.
func (a *ActorCritic) BatchSize() int { return a.batchSize }

// LogProbNode returns the node holding the per-sample log probability
// of the actions supplied through SetActions.
func (a *ActorCritic) LogProbNode() *G.Node { return a.logProb }

// EntropyNode returns the node holding the per-sample policy entropy.
func (a *ActorCritic) EntropyNode() *G.Node { return a.entropy }

// ValueNode returns the node holding the per-sample state value.
func (a *ActorCritic) ValueNode() *G.Node { return a.value }

// Logits returns the value of the policy head logits after a forward
// pass has run.
func (a *ActorCritic) Logits() G.Value { return a.logitsVal }

// LogProbVal returns the value of the LogProbNode after a forward pass
// has run.
func (a *ActorCritic) LogProbVal() G.Value { return a.logProbVal }

// EntropyVal returns the value of the EntropyNode after a forward pass
// has run.
func (a *ActorCritic) EntropyVal() G.Value { return a.entropyVal }

// ValueVal returns the value of the ValueNode after a forward pass has
// run.
func (a *ActorCritic) ValueVal() G.Value { return a.valueVal }

// SetInput sets the observation batch for the next forward pass. The
// input is row major: batchSize rows of obsSize features.
func (a *ActorCritic) SetInput(obs []float64) error {
	if len(obs) != a.obsSize*a.batchSize {
		return fmt.Errorf("setInput: invalid number of inputs \n\twant(%v)"+
			"\n\thave(%v)", a.obsSize*a.batchSize, len(obs))
	}
	obsTensor := tensor.NewDense(
		tensor.Float64,
		[]int{a.batchSize, a.obsSize},
		tensor.WithBacking(obs),
	)
	return G.Let(a.input, obsTensor)
}

// SetActions sets the action batch whose log probabilities the
// LogProbNode computes on the next forward pass. Actions are given as
// one discrete action index per sample.
func (a *ActorCritic) SetActions(actions []float64) error {
	if len(actions) != a.batchSize {
		return fmt.Errorf("setActions: invalid number of actions "+
			"\n\twant(%v)\n\thave(%v)", a.batchSize, len(actions))
	}

	oneHot := make([]float64, a.batchSize*a.numActions)
	for i, action := range actions {
		index := int(action)
		if index < 0 || index >= a.numActions {
			return fmt.Errorf("setActions: illegal action %v ∉ [0, %v)",
				index, a.numActions)
		}
		oneHot[i*a.numActions+index] = 1.0
	}

	actionTensor := tensor.NewDense(
		tensor.Float64,
		[]int{a.batchSize, a.numActions},
		tensor.WithBacking(oneHot),
	)
	return G.Let(a.actionInput, actionTensor)
}

// Learnables returns the learnable nodes of both trunks.
func (a *ActorCritic) Learnables() G.Nodes {
	// Lazy instantiation
	if a.learnables == nil {
		layers := append(append([]Layer{}, a.policyLayers...),
			a.valueLayers...)
		for _, l := range layers {
			a.learnables = append(a.learnables, l.Weights())
			if bias := l.Bias(); bias != nil {
				a.learnables = append(a.learnables, bias)
			}
		}
	}
	return a.learnables
}

// Model returns the learnable nodes with their gradients, in the form
// solvers consume.
func (a *ActorCritic) Model() []G.ValueGrad {
	// Lazy instantiation
	if a.model == nil {
		for _, node := range a.Learnables() {
			a.model = append(a.model, node)
		}
	}
	return a.model
}

// CloneWithBatch returns a copy of the network with the same weight
// values on a fresh graph, built for a new batch size.
func (a *ActorCritic) CloneWithBatch(batchSize int) (*ActorCritic, error) {
	clone, err := NewActorCritic(G.NewGraph(), a.obsSize, a.numActions,
		batchSize, a.hiddenSizes, a.biases, a.activations, G.Zeroes())
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %v", err)
	}
	if err := clone.Set(a); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %v", err)
	}
	return clone, nil
}

// Set sets the weights of the network to be equal to the weights of
// the source network.
func (dest *ActorCritic) Set(source *ActorCritic) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: source has %v learnables \n\twant(%v)",
			len(sourceNodes), len(nodes))
	}
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface, encoding the
// architecture and weight values.
func (a *ActorCritic) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, field := range []interface{}{a.obsSize, a.numActions,
		a.batchSize, a.hiddenSizes, a.biases, a.activations} {
		if err := enc.Encode(field); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode "+
				"architecture: %v", err)
		}
	}

	for i, learnable := range a.Learnables() {
		data := learnable.Value().Data().([]float64)
		if err := enc.Encode(data); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode learnable "+
				"%v: %v", i, err)
		}
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface.
func (a *ActorCritic) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var obsSize, numActions, batchSize int
	var hiddenSizes []int
	var biases []bool
	var activations []*Activation
	for _, field := range []interface{}{&obsSize, &numActions, &batchSize,
		&hiddenSizes, &biases, &activations} {
		if err := dec.Decode(field); err != nil {
			return fmt.Errorf("gobdecode: could not decode architecture: %v",
				err)
		}
	}

	net, err := NewActorCritic(G.NewGraph(), obsSize, numActions, batchSize,
		hiddenSizes, biases, activations, G.Zeroes())
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct network: %v", err)
	}

	for i, learnable := range net.Learnables() {
		var data []float64
		if err := dec.Decode(&data); err != nil {
			return fmt.Errorf("gobdecode: could not decode learnable %v: %v",
				i, err)
		}
		backing := learnable.Value().Data().([]float64)
		if len(backing) != len(data) {
			return fmt.Errorf("gobdecode: learnable %v holds %v weights "+
				"\n\twant(%v)", i, len(data), len(backing))
		}
		copy(backing, data)
	}

	*a = *net
	return nil
}
