// Package agent defines the capability interfaces shared by the
// policy-gradient update engines and the models they train.
//
// An agent is composed of an ActorCritic, which selects actions and
// predicts state values, and an Updater, which consumes completed
// rollouts to improve the ActorCritic's parameters. The ActorCritic's
// parameters are the only long-lived mutable state an Updater may
// change, and writes happen only at gradient-step boundaries, never
// concurrently with action selection.
package agent

import (
	"github.com/samuelfneumann/gopg/rollout"
	"gonum.org/v1/gonum/mat"
)

// ActorCritic is a policy/value model. Batches hold one row per
// environment lane. Recurrent models thread the hidden state across
// contiguous time windows and cut it where the continuation masks are
// 0; memoryless models return the hidden state unchanged.
type ActorCritic interface {
	// Act returns the value estimates, sampled actions, log
	// probabilities of those actions, and next hidden states at a
	// batch of observations. No gradient information is recorded.
	Act(obs, hidden *mat.Dense, masks *mat.VecDense) (value *mat.VecDense,
		action *mat.Dense, logProb *mat.VecDense, nextHidden *mat.Dense,
		err error)

	// Value returns the value estimates at a batch of observations
	// with gradients disabled.
	Value(obs, hidden *mat.Dense, masks *mat.VecDense) (*mat.VecDense,
		error)

	// EvaluateActions recomputes value estimates, log probabilities,
	// and entropies for previously taken actions under the current
	// parameters.
	EvaluateActions(obs, hidden *mat.Dense, masks *mat.VecDense,
		actions *mat.Dense) (value, logProb, entropy *mat.VecDense,
		err error)

	// HiddenSize returns the per-lane recurrent hidden state size,
	// which is 1 (carried as zeroes) for memoryless models.
	HiddenSize() int
}

// Updater performs one policy improvement step from a full rollout
// buffer whose returns table has already been computed. The returned
// losses and entropy are averaged over however many gradient steps the
// strategy takes.
type Updater interface {
	Update(*rollout.Storage) (valueLoss, policyLoss, entropy float64,
		err error)
}

// Agent is a complete learning agent.
type Agent interface {
	ActorCritic
	Updater
}

// RewardShaper overwrites environment rewards with learned rewards,
// typically from an adversarial imitation discriminator. The trainer
// invokes it on each filled buffer slot before returns are computed.
type RewardShaper interface {
	PredictReward(obs, action *mat.Dense, gamma float64,
		masks *mat.VecDense) (*mat.VecDense, error)
}
