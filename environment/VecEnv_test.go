package environment

import (
	"testing"

	"github.com/samuelfneumann/gopg/timestep"
	"gonum.org/v1/gonum/mat"
)

// scriptedEnv ends every episode after episodeLen steps, in a terminal
// state, and emits its lane id plus the step number as the single
// observation feature.
type scriptedEnv struct {
	id         int
	episodeLen int
	step       int
}

func (s *scriptedEnv) Reset() timestep.TimeStep {
	s.step = 0
	obs := mat.NewVecDense(1, []float64{float64(s.id * 100)})
	return timestep.New(timestep.First, 0, 1, obs, 0)
}

func (s *scriptedEnv) Step(action int) (timestep.TimeStep, error) {
	s.step++
	obs := mat.NewVecDense(1, []float64{float64(s.id*100 + s.step)})
	t := timestep.New(timestep.Mid, 1.0, 1, obs, s.step)
	if s.step >= s.episodeLen {
		t.StepType = timestep.Last
		t.SetEnd(timestep.TerminalStateReached)
	}
	return t, nil
}

func (s *scriptedEnv) ObservationSpec() Spec {
	bound := mat.NewVecDense(1, nil)
	return NewSpec(mat.NewVecDense(1, nil), Observation, bound, bound,
		Continuous)
}

func (s *scriptedEnv) ActionSpec() Spec {
	lower := mat.NewVecDense(1, nil)
	upper := mat.NewVecDense(1, []float64{1})
	return NewSpec(mat.NewVecDense(1, nil), Action, lower, upper, Discrete)
}

func newVec(t *testing.T, envs ...Environment) *VecEnv {
	v, err := NewVecEnv(envs)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestStepReturnsFullBatch(t *testing.T) {
	v := newVec(t, &scriptedEnv{id: 0, episodeLen: 3},
		&scriptedEnv{id: 1, episodeLen: 5})

	obs := v.Reset()
	if got := obs.At(1, 0); got != 100 {
		t.Fatalf("lane 1 first observation = %v, expected 100", got)
	}

	actions := mat.NewDense(2, 1, nil)
	result, err := v.Step(actions)
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Obs.At(0, 0); got != 1 {
		t.Errorf("lane 0 observation = %v, expected 1", got)
	}
	if got := result.Rewards.AtVec(1); got != 1.0 {
		t.Errorf("lane 1 reward = %v, expected 1", got)
	}
	if got := result.Masks.AtVec(0); got != 1.0 {
		t.Errorf("mask = %v mid-episode, expected 1", got)
	}
}

func TestAutoResetOnTerminal(t *testing.T) {
	v := newVec(t, &scriptedEnv{id: 0, episodeLen: 2},
		&scriptedEnv{id: 1, episodeLen: 5})
	v.Reset()

	actions := mat.NewDense(2, 1, nil)
	var result *StepResult
	var err error
	for i := 0; i < 2; i++ {
		if result, err = v.Step(actions); err != nil {
			t.Fatal(err)
		}
	}

	// Lane 0's episode ended on the second step
	if got := result.Masks.AtVec(0); got != 0.0 {
		t.Errorf("mask = %v at episode end, expected 0", got)
	}
	if got := result.ValidMasks.AtVec(0); got != 1.0 {
		t.Errorf("valid mask = %v at a true terminal, expected 1", got)
	}
	if got := result.Masks.AtVec(1); got != 1.0 {
		t.Errorf("lane 1 mask = %v mid-episode, expected 1", got)
	}

	// The observation row holds the next episode's first observation
	if got := result.Obs.At(0, 0); got != 0 {
		t.Errorf("lane 0 observation = %v after reset, expected 0", got)
	}

	if len(result.Episodes) != 1 {
		t.Fatalf("%v episodes reported, expected 1", len(result.Episodes))
	}
	ep := result.Episodes[0]
	if ep.Lane != 0 || ep.Length != 2 || ep.Return != 2.0 {
		t.Errorf("episode result = %+v, expected lane 0, length 2, "+
			"return 2", ep)
	}
}

func TestEpisodeStatsSpanResets(t *testing.T) {
	v := newVec(t, &scriptedEnv{id: 0, episodeLen: 2})
	v.Reset()

	actions := mat.NewDense(1, 1, nil)
	episodes := 0
	for i := 0; i < 6; i++ {
		result, err := v.Step(actions)
		if err != nil {
			t.Fatal(err)
		}
		for _, ep := range result.Episodes {
			episodes++
			if ep.Length != 2 {
				t.Errorf("episode length = %v, expected 2", ep.Length)
			}
		}
	}
	if episodes != 3 {
		t.Errorf("%v episodes completed over 6 steps, expected 3", episodes)
	}
}

func TestTimeLimitMarksTruncation(t *testing.T) {
	// The time limit fires before the scripted terminal
	limited := NewTimeLimit(&scriptedEnv{id: 0, episodeLen: 100}, 3)
	v := newVec(t, limited)
	v.Reset()

	actions := mat.NewDense(1, 1, nil)
	var result *StepResult
	var err error
	for i := 0; i < 3; i++ {
		if result, err = v.Step(actions); err != nil {
			t.Fatal(err)
		}
	}

	if got := result.Masks.AtVec(0); got != 0.0 {
		t.Errorf("mask = %v at time limit, expected 0", got)
	}
	if got := result.ValidMasks.AtVec(0); got != 0.0 {
		t.Errorf("valid mask = %v at a truncation, expected 0", got)
	}
}

func TestTimeLimitDefersToTerminal(t *testing.T) {
	// The scripted terminal fires exactly at the limit; the ending
	// must be reported as terminal, not truncation
	limited := NewTimeLimit(&scriptedEnv{id: 0, episodeLen: 3}, 3)
	v := newVec(t, limited)
	v.Reset()

	actions := mat.NewDense(1, 1, nil)
	var result *StepResult
	var err error
	for i := 0; i < 3; i++ {
		if result, err = v.Step(actions); err != nil {
			t.Fatal(err)
		}
	}

	if got := result.ValidMasks.AtVec(0); got != 1.0 {
		t.Errorf("valid mask = %v at a terminal on the limit step, "+
			"expected 1", got)
	}
}

func TestNewVecEnvRejectsMismatchedEnvs(t *testing.T) {
	if _, err := NewVecEnv(nil); err == nil {
		t.Error("expected error for empty environment list")
	}
}
