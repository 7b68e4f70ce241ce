// Package policy implements action-selection policies over the
// networks in the network package. Policies own the behaviour copy of
// a network and its virtual machine; update engines clone training
// copies at their own batch sizes and sync weights back through the
// policy after stepping.
package policy

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gopg/network"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Categorical is a softmax policy with a state-value head for discrete
// action spaces, acting on a batch of environment lanes at once.
//
// Categorical is memoryless: the recurrent hidden state and
// continuation masks accepted by Act and Value exist so that the
// calling convention matches recurrent policies, which must thread
// hidden state across contiguous time windows. A Categorical returns
// the hidden state unchanged.
type Categorical struct {
	net *network.ActorCritic // Behaviour copy, batch = numLanes
	vm  G.VM

	numLanes   int
	numActions int
	rng        *rand.Rand

	// Lazily created networks for EvaluateActions at other batch sizes
	evalNets map[int]*evalNet
}

type evalNet struct {
	net *network.ActorCritic
	vm  G.VM
}

// NewCategorical returns a new Categorical policy acting on numLanes
// observations of obsSize features per call, choosing between
// numActions discrete actions. The policy and value trunks are built
// with the given hidden sizes, biases, and activations.
func NewCategorical(obsSize, numActions, numLanes int, hiddenSizes []int,
	biases []bool, activations []*network.Activation, init G.InitWFn,
	seed int64) (*Categorical, error) {
	net, err := network.NewActorCritic(G.NewGraph(), obsSize, numActions,
		numLanes, hiddenSizes, biases, activations, init)
	if err != nil {
		return nil, fmt.Errorf("newCategorical: could not create network: "+
			"%v", err)
	}

	return &Categorical{
		net:        net,
		vm:         G.NewTapeMachine(net.Graph()),
		numLanes:   numLanes,
		numActions: numActions,
		rng:        rand.New(rand.NewSource(uint64(seed))),
		evalNets:   make(map[int]*evalNet),
	}, nil
}

// HiddenSize returns the size of the recurrent hidden state carried
// for each lane. Memoryless policies carry a single zeroed unit.
func (c *Categorical) HiddenSize() int { return 1 }

// Network returns the behaviour network holding the policy's weights.
func (c *Categorical) Network() *network.ActorCritic { return c.net }

// Sync sets the behaviour weights from a training copy of the network.
func (c *Categorical) Sync(train *network.ActorCritic) error {
	for _, e := range c.evalNets {
		if err := e.net.Set(train); err != nil {
			return fmt.Errorf("sync: %v", err)
		}
	}
	return c.net.Set(train)
}

// Act samples one action per lane from the policy at the given
// observations, returning the value estimates, sampled actions, their
// log probabilities, and the next hidden states. No gradient
// information is recorded.
func (c *Categorical) Act(obs, hidden *mat.Dense, masks *mat.VecDense) (
	*mat.VecDense, *mat.Dense, *mat.VecDense, *mat.Dense, error) {
	logits, values, err := c.forward(obs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("act: %v", err)
	}

	actions := mat.NewDense(c.numLanes, 1, nil)
	logProbs := mat.NewVecDense(c.numLanes, nil)
	for lane := 0; lane < c.numLanes; lane++ {
		row := logits[lane*c.numActions : (lane+1)*c.numActions]
		action, logProb := sampleCategorical(row, c.rng)
		actions.Set(lane, 0, float64(action))
		logProbs.SetVec(lane, logProb)
	}

	return mat.NewVecDense(c.numLanes, values), actions, logProbs, hidden,
		nil
}

// Value returns the value estimate at the given observations with
// gradients disabled, used to bootstrap the trailing rollout slot.
func (c *Categorical) Value(obs, hidden *mat.Dense,
	masks *mat.VecDense) (*mat.VecDense, error) {
	_, values, err := c.forward(obs)
	if err != nil {
		return nil, fmt.Errorf("value: %v", err)
	}
	return mat.NewVecDense(c.numLanes, values), nil
}

// EvaluateActions recomputes the value estimates, log probabilities,
// and entropies of previously taken actions under the current weights.
// The batch may be any size; masks and hidden states are accepted for
// signature compatibility with recurrent policies.
func (c *Categorical) EvaluateActions(obs, hidden *mat.Dense,
	masks *mat.VecDense, actions *mat.Dense) (*mat.VecDense, *mat.VecDense,
	*mat.VecDense, error) {
	batch, _ := obs.Dims()

	e, ok := c.evalNets[batch]
	if !ok {
		net, err := c.net.CloneWithBatch(batch)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("evaluateActions: %v", err)
		}
		e = &evalNet{net: net, vm: G.NewTapeMachine(net.Graph())}
		c.evalNets[batch] = e
	}

	obsData := make([]float64, 0, batch*c.net.ObsSize())
	actionData := make([]float64, 0, batch)
	for i := 0; i < batch; i++ {
		obsData = append(obsData, obs.RawRowView(i)...)
		actionData = append(actionData, actions.At(i, 0))
	}

	if err := e.net.SetInput(obsData); err != nil {
		return nil, nil, nil, fmt.Errorf("evaluateActions: %v", err)
	}
	if err := e.net.SetActions(actionData); err != nil {
		return nil, nil, nil, fmt.Errorf("evaluateActions: %v", err)
	}
	if err := e.vm.RunAll(); err != nil {
		return nil, nil, nil, fmt.Errorf("evaluateActions: %v", err)
	}

	values := append([]float64(nil), e.net.ValueVal().Data().([]float64)...)
	logProbs := append([]float64(nil),
		e.net.LogProbVal().Data().([]float64)...)
	entropies := append([]float64(nil),
		e.net.EntropyVal().Data().([]float64)...)
	e.vm.Reset()

	return mat.NewVecDense(batch, values), mat.NewVecDense(batch, logProbs),
		mat.NewVecDense(batch, entropies), nil
}

// forward runs the behaviour network on an observation batch and
// returns copies of the logits and values.
func (c *Categorical) forward(obs *mat.Dense) ([]float64, []float64, error) {
	r, _ := obs.Dims()
	if r != c.numLanes {
		return nil, nil, fmt.Errorf("forward: observation batch size "+
			"mismatch \n\twant(%v)\n\thave(%v)", c.numLanes, r)
	}

	obsData := make([]float64, 0, c.numLanes*c.net.ObsSize())
	for i := 0; i < r; i++ {
		obsData = append(obsData, obs.RawRowView(i)...)
	}
	if err := c.net.SetInput(obsData); err != nil {
		return nil, nil, err
	}
	if err := c.vm.RunAll(); err != nil {
		return nil, nil, err
	}

	logits := append([]float64(nil), c.net.Logits().Data().([]float64)...)
	values := append([]float64(nil), c.net.ValueVal().Data().([]float64)...)
	c.vm.Reset()

	return logits, values, nil
}

// sampleCategorical samples an action index from unnormalized logits
// and returns it with its log probability under the softmax
// distribution.
func sampleCategorical(logits []float64, rng *rand.Rand) (int, float64) {
	// Log-softmax via the LogSumExp trick
	max := logits[0]
	for _, l := range logits {
		if l > max {
			max = l
		}
	}
	var sum float64
	for _, l := range logits {
		sum += math.Exp(l - max)
	}
	lse := max + math.Log(sum)

	u := rng.Float64()
	var cdf float64
	action := len(logits) - 1 // Guard against accumulated rounding
	for i, l := range logits {
		cdf += math.Exp(l - lse)
		if u < cdf {
			action = i
			break
		}
	}
	return action, logits[action] - lse
}
