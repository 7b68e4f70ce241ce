package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/samuelfneumann/gopg/agent"
	"github.com/samuelfneumann/gopg/agent/a2c"
	"github.com/samuelfneumann/gopg/agent/ppo"
	"github.com/samuelfneumann/gopg/environment"
	"github.com/samuelfneumann/gopg/environment/cartpole"
	"github.com/samuelfneumann/gopg/experiment"
	"github.com/samuelfneumann/gopg/experiment/checkpointer"
	"github.com/samuelfneumann/gopg/experiment/tracker"
	"github.com/samuelfneumann/gopg/initwfn"
	"github.com/samuelfneumann/gopg/network"
	"github.com/samuelfneumann/gopg/policy"
)

func main() {
	var (
		algo         = flag.String("algo", "a2c", "update engine: a2c | ppo | acktr")
		lr           = flag.Float64("lr", 7e-4, "learning rate")
		gamma        = flag.Float64("gamma", 0.99, "discount rate")
		useGAE       = flag.Bool("use-gae", false, "use generalized advantage estimation")
		gaeLambda    = flag.Float64("gae-lambda", 0.95, "GAE weighting")
		entropyCoef  = flag.Float64("entropy-coef", 0.01, "entropy bonus coefficient")
		valueCoef    = flag.Float64("value-loss-coef", 0.5, "value loss coefficient")
		maxGradNorm  = flag.Float64("max-grad-norm", 0.5, "gradient clipping threshold")
		seed         = flag.Int64("seed", 1, "random seed")
		numProcesses = flag.Int("num-processes", 16, "parallel environment lanes")
		numSteps     = flag.Int("num-steps", 5, "rollout length per update")
		ppoEpochs    = flag.Int("ppo-epoch", 4, "optimization epochs per PPO update")
		numMiniBatch = flag.Int("num-mini-batch", 4, "minibatches per PPO epoch; must divide num-steps × num-processes (or num-processes when recurrent)")
		clipParam    = flag.Float64("clip-param", 0.2, "PPO clipping parameter")
		recurrent    = flag.Bool("recurrent-policy", false, "sample PPO minibatches by lane")
		numEnvSteps  = flag.Int("num-env-steps", 10_000_000, "total environment steps")
		episodeSteps = flag.Int("episode-steps", 500, "environment step limit per episode")
		properLimits = flag.Bool("use-proper-time-limits", false, "distinguish timeouts from terminals")
		lrDecay      = flag.Bool("use-linear-lr-decay", false, "anneal the learning rate to 0")
		logInterval  = flag.Int("log-interval", 10, "updates between progress reports")
		progress     = flag.Bool("progress", false, "draw a live progress bar instead of progress reports")
		saveInterval = flag.Int("save-interval", 100, "updates between checkpoints")
		saveDir      = flag.String("save-dir", "./data", "directory for tracked data and checkpoints")
	)
	flag.Parse()

	// Create the environment lanes, each seeded differently so the
	// lanes decorrelate
	envs := make([]environment.Environment, *numProcesses)
	for i := range envs {
		c := cartpole.NewBalance(uint64(*seed)+uint64(i), *gamma)
		envs[i] = environment.NewTimeLimit(c, *episodeSteps)
	}
	vecEnv, err := environment.NewVecEnv(envs)
	if err != nil {
		log.Fatal(err)
	}

	// Create the policy
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		log.Fatal(err)
	}
	hidden := []int{64, 64}
	biases := []bool{true, true}
	activations := []*network.Activation{network.TanH(), network.TanH()}

	pol, err := policy.NewCategorical(vecEnv.ObsSize(), vecEnv.NumActions(),
		vecEnv.NumLanes(), hidden, biases, activations, init.InitWFn(),
		*seed)
	if err != nil {
		log.Fatal(err)
	}

	// Create the update engine
	var updater agent.Updater
	switch *algo {
	case "a2c":
		config := a2c.DefaultConfig()
		config.LR = *lr
		config.ValueLossCoef = *valueCoef
		config.EntropyCoef = *entropyCoef
		config.MaxGradNorm = *maxGradNorm
		updater, err = a2c.New(config, pol, *numSteps, *numProcesses)

	case "acktr":
		config := a2c.DefaultACKTRConfig()
		config.ValueLossCoef = *valueCoef
		config.EntropyCoef = *entropyCoef
		updater, err = a2c.New(config, pol, *numSteps, *numProcesses)

	case "ppo":
		config := ppo.DefaultConfig()
		config.LR = *lr
		config.ClipParam = *clipParam
		config.Epochs = *ppoEpochs
		config.NumMiniBatch = *numMiniBatch
		config.ValueLossCoef = *valueCoef
		config.EntropyCoef = *entropyCoef
		config.MaxGradNorm = *maxGradNorm
		config.Recurrent = *recurrent
		updater, err = ppo.New(config, pol, *numSteps, *numProcesses,
			uint64(*seed))

	default:
		log.Fatalf("main: no such update engine: %v", *algo)
	}
	if err != nil {
		log.Fatal(err)
	}

	// Experiment
	numUpdates := *numEnvSteps / *numSteps / *numProcesses
	trainer, err := experiment.New(experiment.Config{
		NumUpdates:       numUpdates,
		NumSteps:         *numSteps,
		Gamma:            *gamma,
		Lambda:           *gaeLambda,
		UseGAE:           *useGAE,
		ProperTimeLimits: *properLimits,
		LRDecay:          *lrDecay,
		LogInterval:      *logInterval,
		ProgressBar:      *progress,
	}, pol, updater, vecEnv)
	if err != nil {
		log.Fatal(err)
	}

	returnsFile := filepath.Join(*saveDir, "returns.bin")
	trainer.Register(tracker.NewReturn(returnsFile))
	trainer.Register(tracker.NewEpisodeLength(
		filepath.Join(*saveDir, "lengths.bin")))
	trainer.Register(tracker.NewLoss(filepath.Join(*saveDir, "losses.bin")))
	trainer.RegisterCheckpointer(checkpointer.NewNStep(*saveInterval,
		pol.Network(), checkpointer.FilenameEnumerator(0,
			filepath.Join(*saveDir, "policy"), ".bin")))

	if err := trainer.Run(); err != nil {
		log.Fatal(err)
	}

	data := tracker.LoadData(returnsFile)
	if len(data) >= 10 {
		fmt.Println(data[len(data)-10:])
	} else {
		fmt.Println(data)
	}
}
