// Package a2c implements the synchronous advantage actor-critic
// update engine, with an optional natural gradient mode equivalent to
// ACKTR with a diagonal Fisher approximation:
//
//	https://arxiv.org/abs/1602.01783
//	https://arxiv.org/abs/1708.05144
//
// The engine consumes one full rollout buffer per update and takes a
// single gradient step over the whole batch.
package a2c

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gopg/agent"
	"github.com/samuelfneumann/gopg/kfac"
	"github.com/samuelfneumann/gopg/network"
	"github.com/samuelfneumann/gopg/policy"
	"github.com/samuelfneumann/gopg/rollout"
	"github.com/samuelfneumann/gopg/solver"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// A2C updates a categorical policy with one full-batch gradient step
// per rollout. The loss is the sum of the policy gradient surrogate
// weighted by unnormalized advantages, the mean squared value error,
// and an entropy bonus.
type A2C struct {
	config Config

	policy *policy.Categorical
	train  *network.ActorCritic
	vm     G.VM

	sol     *solver.Solver
	precond *kfac.Preconditioner

	advantages *G.Node
	returns    *G.Node

	valueLossVal  G.Value
	policyLossVal G.Value
	entropyVal    G.Value

	batchSize int
}

// New returns an A2C engine training the weights behind pol from
// rollouts of numSteps timesteps over numLanes environment lanes. The
// loss graph is built once, on a training copy of the policy network
// at the full rollout batch size.
func New(c Config, pol *policy.Categorical, numSteps,
	numLanes int) (*A2C, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid configuration: %v", err)
	}
	if numSteps < 1 || numLanes < 1 {
		return nil, fmt.Errorf("new: rollout shape must be positive "+
			"\n\thave(%v×%v)", numSteps, numLanes)
	}

	batchSize := numSteps * numLanes
	train, err := pol.Network().CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not clone training network: %v",
			err)
	}
	g := train.Graph()

	advantages := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batchSize),
		G.WithName("Advantages"),
		G.WithInit(G.Zeroes()),
	)
	returns := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batchSize),
		G.WithName("Returns"),
		G.WithInit(G.Zeroes()),
	)

	a := &A2C{
		config:     c,
		policy:     pol,
		train:      train,
		advantages: advantages,
		returns:    returns,
		batchSize:  batchSize,
	}

	// Policy gradient surrogate -E[Â log π(a|s)]. Advantages enter the
	// graph as inputs, so no gradient flows through them.
	policyLoss := G.Must(G.HadamardProd(advantages, train.LogProbNode()))
	policyLoss = G.Must(G.Neg(G.Must(G.Mean(policyLoss))))

	valueLoss := G.Must(G.Sub(returns, train.ValueNode()))
	valueLoss = G.Must(G.Mean(G.Must(G.Square(valueLoss))))

	entropy := G.Must(G.Mean(train.EntropyNode()))

	loss := G.Must(G.Mul(valueLoss, G.NewConstant(c.ValueLossCoef)))
	loss = G.Must(G.Add(loss, policyLoss))
	entropyBonus := G.Must(G.Mul(entropy, G.NewConstant(c.EntropyCoef)))
	loss = G.Must(G.Sub(loss, entropyBonus))

	G.Read(valueLoss, &a.valueLossVal)
	G.Read(policyLoss, &a.policyLossVal)
	G.Read(entropy, &a.entropyVal)

	if _, err := G.Grad(loss, train.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not compute gradient: %v", err)
	}
	a.vm = G.NewTapeMachine(g, G.BindDualValues(train.Learnables()...))

	if c.ACKTR {
		a.precond, err = kfac.New(c.FisherDecay, c.Damping, c.KL)
		if err != nil {
			return nil, fmt.Errorf("new: could not create preconditioner: "+
				"%v", err)
		}
		a.sol, err = solver.NewVanilla(c.LR, 1, -1.0)
	} else {
		a.sol, err = solver.NewRMSProp(c.LR, c.RMSPropEps, 0.001,
			c.RMSPropAlpha, 1, -1.0)
	}
	if err != nil {
		return nil, fmt.Errorf("new: could not create solver: %v", err)
	}

	return a, nil
}

// Update takes one gradient step on the full rollout and syncs the new
// weights back into the acting policy. The buffer must be full and its
// returns table already computed.
func (a *A2C) Update(s *rollout.Storage) (float64, float64, float64,
	error) {
	if !s.Full() {
		return 0, 0, 0, fmt.Errorf("update: rollout buffer is not full")
	}
	if s.NumSteps()*s.NumLanes() != a.batchSize {
		return 0, 0, 0, fmt.Errorf("update: rollout holds %v transitions "+
			"\n\twant(%v)", s.NumSteps()*s.NumLanes(), a.batchSize)
	}

	if err := a.train.SetInput(s.ObsBatch()); err != nil {
		return 0, 0, 0, fmt.Errorf("update: %v", err)
	}
	if err := a.train.SetActions(s.ActionsBatch()); err != nil {
		return 0, 0, 0, fmt.Errorf("update: %v", err)
	}

	adv := tensor.NewDense(
		tensor.Float64,
		[]int{a.batchSize},
		tensor.WithBacking(s.Advantages()),
	)
	if err := G.Let(a.advantages, adv); err != nil {
		return 0, 0, 0, fmt.Errorf("update: could not set advantages: %v",
			err)
	}
	ret := tensor.NewDense(
		tensor.Float64,
		[]int{a.batchSize},
		tensor.WithBacking(s.ReturnsBatch()),
	)
	if err := G.Let(a.returns, ret); err != nil {
		return 0, 0, 0, fmt.Errorf("update: could not set returns: %v", err)
	}

	if err := a.vm.RunAll(); err != nil {
		return 0, 0, 0, fmt.Errorf("update: could not run forward and "+
			"backward pass: %v", err)
	}

	valueLoss := a.valueLossVal.Data().(float64)
	policyLoss := a.policyLossVal.Data().(float64)
	entropy := a.entropyVal.Data().(float64)
	for _, l := range []float64{valueLoss, policyLoss, entropy} {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			a.vm.Reset()
			return valueLoss, policyLoss, entropy,
				fmt.Errorf("update: loss is not finite")
		}
	}

	model := a.train.Model()
	if a.precond != nil {
		if err := a.precond.Observe(model); err != nil {
			a.vm.Reset()
			return 0, 0, 0, fmt.Errorf("update: %v", err)
		}
		if err := a.precond.Precondition(model); err != nil {
			a.vm.Reset()
			return 0, 0, 0, fmt.Errorf("update: %v", err)
		}
	} else if a.config.MaxGradNorm > 0 {
		if _, err := agent.ClipGradNorm(model, a.config.MaxGradNorm); err != nil {
			a.vm.Reset()
			return 0, 0, 0, fmt.Errorf("update: %v", err)
		}
	}

	if err := a.sol.Step(model); err != nil {
		a.vm.Reset()
		return 0, 0, 0, fmt.Errorf("update: could not step solver: %v", err)
	}
	a.vm.Reset()

	if err := a.policy.Sync(a.train); err != nil {
		return 0, 0, 0, fmt.Errorf("update: could not sync policy: %v", err)
	}
	return valueLoss, policyLoss, entropy, nil
}

// DecayLR sets the learning rate to remaining times its configured
// value. The solver is rebuilt at the new rate, so solvers with
// internal state start it fresh.
func (a *A2C) DecayLR(remaining float64) error {
	if remaining <= 0 || remaining > 1 {
		return fmt.Errorf("decayLR: remaining fraction must be in (0, 1] "+
			"\n\twas (%v)", remaining)
	}

	lr := a.config.LR * remaining
	var err error
	if a.config.ACKTR {
		a.sol, err = solver.NewVanilla(lr, 1, -1.0)
	} else {
		a.sol, err = solver.NewRMSProp(lr, a.config.RMSPropEps, 0.001,
			a.config.RMSPropAlpha, 1, -1.0)
	}
	if err != nil {
		return fmt.Errorf("decayLR: could not rebuild solver: %v", err)
	}
	return nil
}

// Network returns the training copy of the network.
func (a *A2C) Network() *network.ActorCritic { return a.train }
