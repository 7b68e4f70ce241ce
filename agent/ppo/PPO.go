// Package ppo implements the proximal policy optimization update
// engine with a clipped surrogate objective:
//
//	https://arxiv.org/abs/1707.06347
//
// Each update makes several optimization epochs over the rollout,
// partitioned into minibatches, and bounds the policy ratio so that
// repeated passes cannot move the policy far from the one that
// collected the data.
package ppo

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gopg/agent"
	"github.com/samuelfneumann/gopg/network"
	"github.com/samuelfneumann/gopg/policy"
	"github.com/samuelfneumann/gopg/rollout"
	"github.com/samuelfneumann/gopg/solver"
	"github.com/samuelfneumann/gopg/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// PPO updates a categorical policy with Epochs×NumMiniBatch clipped
// gradient steps per rollout. The loss graph is compiled once at the
// minibatch size, so the minibatch count must divide the rollout
// evenly: NumMiniBatch must divide numSteps×numLanes when
// feed-forward and numLanes when recurrent.
type PPO struct {
	config Config

	policy *policy.Categorical
	train  *network.ActorCritic
	vm     G.VM
	sol    *solver.Solver
	rng    *rand.Rand

	advantages  *G.Node
	returns     *G.Node
	oldLogProbs *G.Node
	oldValues   *G.Node

	valueLossVal  G.Value
	policyLossVal G.Value
	entropyVal    G.Value

	numSteps      int
	numLanes      int
	miniBatchSize int
}

// New returns a PPO engine training the weights behind pol from
// rollouts of numSteps timesteps over numLanes environment lanes,
// shuffling minibatches with the given random seed.
func New(c Config, pol *policy.Categorical, numSteps, numLanes int,
	seed uint64) (*PPO, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid configuration: %v", err)
	}
	if numSteps < 1 || numLanes < 1 {
		return nil, fmt.Errorf("new: rollout shape must be positive "+
			"\n\thave(%v×%v)", numSteps, numLanes)
	}

	total := numSteps * numLanes
	if c.Recurrent {
		if numLanes%c.NumMiniBatch != 0 {
			return nil, fmt.Errorf("new: %v minibatches cannot evenly "+
				"split %v lanes", c.NumMiniBatch, numLanes)
		}
	} else if total%c.NumMiniBatch != 0 {
		return nil, fmt.Errorf("new: %v minibatches cannot evenly split "+
			"%v transitions", c.NumMiniBatch, total)
	}
	miniBatchSize := total / c.NumMiniBatch

	train, err := pol.Network().CloneWithBatch(miniBatchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not clone training network: %v",
			err)
	}
	g := train.Graph()

	newInput := func(name string) *G.Node {
		return G.NewVector(
			g,
			tensor.Float64,
			G.WithShape(miniBatchSize),
			G.WithName(name),
			G.WithInit(G.Zeroes()),
		)
	}

	p := &PPO{
		config: c,
		policy: pol,
		train:  train,
		rng:    rand.New(rand.NewSource(seed)),

		advantages:  newInput("Advantages"),
		returns:     newInput("Returns"),
		oldLogProbs: newInput("OldLogProbs"),
		oldValues:   newInput("OldValues"),

		numSteps:      numSteps,
		numLanes:      numLanes,
		miniBatchSize: miniBatchSize,
	}

	// Clipped surrogate: the probability ratio against the policy
	// that collected the rollout, bounded to [1-ε, 1+ε], taking the
	// pessimistic branch per sample.
	ratio := G.Must(G.Exp(G.Must(G.Sub(train.LogProbNode(),
		p.oldLogProbs))))
	surrogate := G.Must(G.HadamardProd(ratio, p.advantages))

	clippedRatio, err := op.Clip(ratio, 1-c.ClipParam, 1+c.ClipParam)
	if err != nil {
		return nil, fmt.Errorf("new: could not clip ratio: %v", err)
	}
	clippedSurrogate := G.Must(G.HadamardProd(clippedRatio, p.advantages))

	minSurrogate, err := op.Min(surrogate, clippedSurrogate)
	if err != nil {
		return nil, fmt.Errorf("new: could not take pessimistic "+
			"surrogate: %v", err)
	}
	policyLoss := G.Must(G.Neg(G.Must(G.Mean(minSurrogate))))

	valueLoss, err := p.valueLoss()
	if err != nil {
		return nil, fmt.Errorf("new: could not build value loss: %v", err)
	}

	entropy := G.Must(G.Mean(train.EntropyNode()))

	loss := G.Must(G.Mul(valueLoss, G.NewConstant(c.ValueLossCoef)))
	loss = G.Must(G.Add(loss, policyLoss))
	entropyBonus := G.Must(G.Mul(entropy, G.NewConstant(c.EntropyCoef)))
	loss = G.Must(G.Sub(loss, entropyBonus))

	G.Read(valueLoss, &p.valueLossVal)
	G.Read(policyLoss, &p.policyLossVal)
	G.Read(entropy, &p.entropyVal)

	if _, err := G.Grad(loss, train.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not compute gradient: %v", err)
	}
	p.vm = G.NewTapeMachine(g, G.BindDualValues(train.Learnables()...))

	p.sol, err = solver.NewAdam(c.LR, c.AdamEps, 0.9, 0.999, 1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create solver: %v", err)
	}

	return p, nil
}

// valueLoss builds the value head loss node, clipping value updates
// around the rollout-time predictions when configured.
func (p *PPO) valueLoss() (*G.Node, error) {
	value := p.train.ValueNode()
	half := G.NewConstant(0.5)

	unclipped := G.Must(G.Sub(value, p.returns))
	unclipped = G.Must(G.Square(unclipped))
	if !p.config.ClipValueLoss {
		return G.Mul(half, G.Must(G.Mean(unclipped)))
	}

	delta, err := op.Clip(G.Must(G.Sub(value, p.oldValues)),
		-p.config.ClipParam, p.config.ClipParam)
	if err != nil {
		return nil, err
	}
	clippedValue := G.Must(G.Add(p.oldValues, delta))
	clipped := G.Must(G.Sub(clippedValue, p.returns))
	clipped = G.Must(G.Square(clipped))

	pessimistic, err := op.Max(unclipped, clipped)
	if err != nil {
		return nil, err
	}
	return G.Mul(half, G.Must(G.Mean(pessimistic)))
}

// Update makes Epochs optimization passes of NumMiniBatch gradient
// steps each over the rollout, then syncs the new weights back into
// the acting policy. The returned losses are averaged over all
// gradient steps. The buffer must be full and its returns table
// already computed.
func (p *PPO) Update(s *rollout.Storage) (float64, float64, float64,
	error) {
	if !s.Full() {
		return 0, 0, 0, fmt.Errorf("update: rollout buffer is not full")
	}
	if s.NumSteps() != p.numSteps || s.NumLanes() != p.numLanes {
		return 0, 0, 0, fmt.Errorf("update: rollout shape mismatch "+
			"\n\twant(%v×%v)\n\thave(%v×%v)", p.numSteps, p.numLanes,
			s.NumSteps(), s.NumLanes())
	}

	adv := s.Advantages()
	if p.config.NormalizeAdvantages {
		mean, std := stat.MeanStdDev(adv, nil)
		for i := range adv {
			adv[i] = (adv[i] - mean) / (std + 1e-8)
		}
	}

	var valueLoss, policyLoss, entropy float64
	steps := 0
	for epoch := 0; epoch < p.config.Epochs; epoch++ {
		var batches []*rollout.MiniBatch
		var err error
		if p.config.Recurrent {
			batches, err = s.RecurrentBatches(p.rng, adv,
				p.config.NumMiniBatch)
		} else {
			batches, err = s.FeedForwardBatches(p.rng, adv,
				p.config.NumMiniBatch)
		}
		if err != nil {
			return 0, 0, 0, fmt.Errorf("update: could not sample "+
				"minibatches: %v", err)
		}

		for _, mb := range batches {
			v, pl, e, err := p.step(mb)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("update: epoch %v: %v", epoch,
					err)
			}
			valueLoss += v
			policyLoss += pl
			entropy += e
			steps++
		}
	}

	if err := p.policy.Sync(p.train); err != nil {
		return 0, 0, 0, fmt.Errorf("update: could not sync policy: %v", err)
	}

	n := float64(steps)
	return valueLoss / n, policyLoss / n, entropy / n, nil
}

// step takes one clipped gradient step on a single minibatch.
func (p *PPO) step(mb *rollout.MiniBatch) (float64, float64, float64,
	error) {
	if mb.Size != p.miniBatchSize {
		return 0, 0, 0, fmt.Errorf("step: minibatch holds %v transitions "+
			"\n\twant(%v)", mb.Size, p.miniBatchSize)
	}

	if err := p.train.SetInput(mb.Obs); err != nil {
		return 0, 0, 0, fmt.Errorf("step: %v", err)
	}
	if err := p.train.SetActions(mb.Actions); err != nil {
		return 0, 0, 0, fmt.Errorf("step: %v", err)
	}
	for _, input := range []struct {
		node *G.Node
		data []float64
	}{
		{p.advantages, mb.Advantages},
		{p.returns, mb.Returns},
		{p.oldLogProbs, mb.LogProbs},
		{p.oldValues, mb.Values},
	} {
		t := tensor.NewDense(
			tensor.Float64,
			[]int{p.miniBatchSize},
			tensor.WithBacking(input.data),
		)
		if err := G.Let(input.node, t); err != nil {
			return 0, 0, 0, fmt.Errorf("step: could not set %v: %v",
				input.node.Name(), err)
		}
	}

	if err := p.vm.RunAll(); err != nil {
		return 0, 0, 0, fmt.Errorf("step: could not run forward and "+
			"backward pass: %v", err)
	}

	valueLoss := p.valueLossVal.Data().(float64)
	policyLoss := p.policyLossVal.Data().(float64)
	entropy := p.entropyVal.Data().(float64)
	for _, l := range []float64{valueLoss, policyLoss, entropy} {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			p.vm.Reset()
			return valueLoss, policyLoss, entropy,
				fmt.Errorf("step: loss is not finite")
		}
	}

	model := p.train.Model()
	if p.config.MaxGradNorm > 0 {
		if _, err := agent.ClipGradNorm(model, p.config.MaxGradNorm); err != nil {
			p.vm.Reset()
			return 0, 0, 0, fmt.Errorf("step: %v", err)
		}
	}
	if err := p.sol.Step(model); err != nil {
		p.vm.Reset()
		return 0, 0, 0, fmt.Errorf("step: could not step solver: %v", err)
	}
	p.vm.Reset()

	return valueLoss, policyLoss, entropy, nil
}

// DecayLR sets the learning rate to remaining times its configured
// value. The solver is rebuilt at the new rate, so the Adam moment
// estimates start fresh.
func (p *PPO) DecayLR(remaining float64) error {
	if remaining <= 0 || remaining > 1 {
		return fmt.Errorf("decayLR: remaining fraction must be in (0, 1] "+
			"\n\twas (%v)", remaining)
	}

	sol, err := solver.NewAdam(p.config.LR*remaining, p.config.AdamEps,
		0.9, 0.999, 1)
	if err != nil {
		return fmt.Errorf("decayLR: could not rebuild solver: %v", err)
	}
	p.sol = sol
	return nil
}

// Network returns the training copy of the network.
func (p *PPO) Network() *network.ActorCritic { return p.train }
