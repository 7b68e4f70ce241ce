// Package experiment implements functionality for running an experiment
package experiment

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/gopg/agent"
	"github.com/samuelfneumann/gopg/environment"
	"github.com/samuelfneumann/gopg/experiment/checkpointer"
	"github.com/samuelfneumann/gopg/experiment/tracker"
	"github.com/samuelfneumann/gopg/rollout"
	"github.com/samuelfneumann/gopg/utils/progressbar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// recentWindow is the number of most recently completed episodes that
// progress reports summarize.
const recentWindow int = 10

// Config represents a configuration of a training run.
type Config struct {
	NumUpdates int // Training cycles to run
	NumSteps   int // Rollout length per cycle

	Gamma            float64 // Discount rate
	Lambda           float64 // GAE weighting, ignored unless UseGAE
	UseGAE           bool
	ProperTimeLimits bool // Distinguish timeouts from terminals

	// LRDecay linearly anneals the update engine's learning rate to 0
	// over the run, when the engine supports rescheduling.
	LRDecay bool

	// LogInterval is the number of cycles between progress reports; 0
	// disables reporting. ProgressBar draws a live bar instead.
	LogInterval int
	ProgressBar bool
}

// Validate returns an error describing why the configuration cannot
// run, or nil if it can.
func (c Config) Validate() error {
	if c.NumUpdates < 1 {
		return fmt.Errorf("validate: need at least 1 update \n\thave(%v)",
			c.NumUpdates)
	}
	if c.NumSteps < 1 {
		return fmt.Errorf("validate: need at least 1 step per update "+
			"\n\thave(%v)", c.NumSteps)
	}
	if c.Gamma <= 0 || c.Gamma >= 1 {
		return fmt.Errorf("validate: discount must be in (0, 1) \n\twas "+
			"(%v)", c.Gamma)
	}
	if c.UseGAE && (c.Lambda < 0 || c.Lambda > 1) {
		return fmt.Errorf("validate: lambda must be in [0, 1] \n\twas "+
			"(%v)", c.Lambda)
	}
	return nil
}

// lrScheduler is implemented by update engines whose learning rate can
// be rescheduled between cycles.
type lrScheduler interface {
	// DecayLR sets the learning rate to remaining times its configured
	// value, remaining in (0, 1]
	DecayLR(remaining float64) error
}

// Trainer drives the collect-estimate-update cycle: act without
// gradients for a fixed number of steps across all environment lanes,
// estimate returns and advantages over the filled rollout, take a
// policy improvement step, and carry the rollout forward into the next
// cycle. The environment streams never reset between cycles.
type Trainer struct {
	config  Config
	policy  agent.ActorCritic
	updater agent.Updater
	envs    *environment.VecEnv
	storage *rollout.Storage
	shaper  agent.RewardShaper

	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer

	recentReturns []float64 // Ring of the last recentWindow returns
	totalEpisodes int
}

// New returns a Trainer running the given update engine over rollouts
// collected from envs with pol.
func New(c Config, pol agent.ActorCritic, up agent.Updater,
	envs *environment.VecEnv) (*Trainer, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid configuration: %v", err)
	}

	storage, err := rollout.New(c.NumSteps, envs.NumLanes(),
		envs.ObsSize(), pol.HiddenSize(), 1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create rollout buffer: %v",
			err)
	}

	return &Trainer{
		config:  c,
		policy:  pol,
		updater: up,
		envs:    envs,
		storage: storage,
	}, nil
}

// Register adds a Tracker to the (possibly already running) training
// run.
func (t *Trainer) Register(tr tracker.Tracker) {
	t.trackers = append(t.trackers, tr)
}

// RegisterCheckpointer adds a Checkpointer invoked after every cycle.
func (t *Trainer) RegisterCheckpointer(c checkpointer.Checkpointer) {
	t.checkpointers = append(t.checkpointers, c)
}

// ShapeRewards replaces environment rewards with rewards predicted by
// s before every return estimation.
func (t *Trainer) ShapeRewards(s agent.RewardShaper) {
	t.shaper = s
}

// Run runs all training cycles, then saves every registered Tracker.
func (t *Trainer) Run() error {
	numLanes := t.envs.NumLanes()

	obs := t.envs.Reset()
	hidden := mat.NewDense(numLanes, t.policy.HiddenSize(), nil)
	masks := mat.NewVecDense(numLanes, nil)
	for lane := 0; lane < numLanes; lane++ {
		masks.SetVec(lane, 1.0)
	}
	if err := t.storage.Reset(obs, hidden); err != nil {
		return fmt.Errorf("run: %v", err)
	}

	var bar *progressbar.ProgressBar
	if t.config.ProgressBar {
		bar = progressbar.NewProgressBar(65, t.config.NumUpdates,
			time.Second)
		bar.Display()
		defer bar.Close()
	}

	timesteps := 0
	for update := 0; update < t.config.NumUpdates; update++ {
		if t.config.LRDecay {
			if s, ok := t.updater.(lrScheduler); ok {
				remaining := 1.0 - float64(update)/
					float64(t.config.NumUpdates)
				if err := s.DecayLR(remaining); err != nil {
					return fmt.Errorf("run: cycle %v: %v", update, err)
				}
			}
		}

		var episodes []environment.EpisodeResult
		for step := 0; step < t.config.NumSteps; step++ {
			value, actions, logProbs, nextHidden, err := t.policy.Act(obs,
				hidden, masks)
			if err != nil {
				return fmt.Errorf("run: cycle %v: %v", update, err)
			}

			result, err := t.envs.Step(actions)
			if err != nil {
				return fmt.Errorf("run: cycle %v: %v", update, err)
			}
			episodes = append(episodes, result.Episodes...)

			err = t.storage.Insert(result.Obs, nextHidden, actions,
				logProbs, value, result.Rewards, result.Masks,
				result.ValidMasks)
			if err != nil {
				return fmt.Errorf("run: cycle %v: %v", update, err)
			}

			obs = result.Obs
			masks = result.Masks
			hidden = nextHidden
			timesteps += numLanes
		}

		if t.shaper != nil {
			if err := t.shapeRewards(); err != nil {
				return fmt.Errorf("run: cycle %v: %v", update, err)
			}
		}

		bootstrap, err := t.policy.Value(obs, hidden, masks)
		if err != nil {
			return fmt.Errorf("run: cycle %v: %v", update, err)
		}
		err = t.storage.ComputeReturns(bootstrap, t.config.Gamma,
			t.config.Lambda, t.config.UseGAE, t.config.ProperTimeLimits)
		if err != nil {
			return fmt.Errorf("run: cycle %v: %v", update, err)
		}

		valueLoss, policyLoss, entropy, err := t.updater.Update(t.storage)
		if err != nil {
			return fmt.Errorf("run: cycle %v: %v", update, err)
		}
		t.storage.AfterUpdate()

		t.recordEpisodes(episodes)
		stats := tracker.Update{
			Cycle:      update,
			Timesteps:  timesteps,
			ValueLoss:  valueLoss,
			PolicyLoss: policyLoss,
			Entropy:    entropy,
			Episodes:   episodes,
		}
		for _, tr := range t.trackers {
			tr.Track(stats)
		}
		for _, c := range t.checkpointers {
			if err := c.Checkpoint(update); err != nil {
				return fmt.Errorf("run: cycle %v: %v", update, err)
			}
		}

		if bar != nil {
			bar.Increment()
		} else if t.config.LogInterval > 0 &&
			update%t.config.LogInterval == 0 {
			t.report(stats)
		}
	}

	t.Save()
	return nil
}

// Save saves all the data cached by the Trackers to disk
func (t *Trainer) Save() {
	for _, tr := range t.trackers {
		tr.Save()
	}
}

// shapeRewards overwrites every filled reward slot with the shaper's
// predicted rewards.
func (t *Trainer) shapeRewards() error {
	for step := 0; step < t.config.NumSteps; step++ {
		shaped, err := t.shaper.PredictReward(t.storage.Obs(step),
			t.storage.Actions(step), t.config.Gamma,
			t.storage.Masks(step))
		if err != nil {
			return fmt.Errorf("shapeRewards: step %v: %v", step, err)
		}
		t.storage.Rewards(step).CopyVec(shaped)
	}
	return nil
}

// recordEpisodes folds newly completed episodes into the recent-return
// window.
func (t *Trainer) recordEpisodes(episodes []environment.EpisodeResult) {
	for _, ep := range episodes {
		t.totalEpisodes++
		if len(t.recentReturns) == recentWindow {
			copy(t.recentReturns, t.recentReturns[1:])
			t.recentReturns = t.recentReturns[:recentWindow-1]
		}
		t.recentReturns = append(t.recentReturns, ep.Return)
	}
}

// report prints a progress line summarizing the last cycle and the
// recently completed episodes.
func (t *Trainer) report(stats tracker.Update) {
	if len(t.recentReturns) == 0 {
		fmt.Printf("cycle %v  steps %v  no episodes finished yet\n",
			stats.Cycle, stats.Timesteps)
		return
	}

	mean := stat.Mean(t.recentReturns, nil)
	min, max := t.recentReturns[0], t.recentReturns[0]
	for _, r := range t.recentReturns[1:] {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	fmt.Printf("cycle %v  steps %v  episodes %v  "+
		"return mean %.1f min %.1f max %.1f  "+
		"entropy %.3f  value loss %.3f  policy loss %.3f\n",
		stats.Cycle, stats.Timesteps, t.totalEpisodes, mean, min, max,
		stats.Entropy, stats.ValueLoss, stats.PolicyLoss)
}
