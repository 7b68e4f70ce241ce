package cartpole

import (
	"math"
	"testing"
)

func TestResetSamplesWithinStartBounds(t *testing.T) {
	c := NewBalance(13, 0.99)

	for i := 0; i < 10; i++ {
		step := c.Reset()
		for j := 0; j < 4; j++ {
			f := step.Observation.AtVec(j)
			if math.Abs(f) > StartBounds {
				t.Errorf("start feature %v = %v outside ±%v", j, f,
					StartBounds)
			}
		}
		if !step.First() {
			t.Error("reset did not return a first step")
		}
	}
}

func TestStepIsDeterministic(t *testing.T) {
	a := NewBalance(13, 0.99)
	b := NewBalance(13, 0.99)

	for i := 0; i < 20; i++ {
		stepA, err := a.Step(i % 3)
		if err != nil {
			t.Fatal(err)
		}
		stepB, err := b.Step(i % 3)
		if err != nil {
			t.Fatal(err)
		}
		for j := 0; j < 4; j++ {
			if stepA.Observation.AtVec(j) != stepB.Observation.AtVec(j) {
				t.Fatalf("same seed diverged at step %v feature %v", i, j)
			}
		}
	}
}

func TestStepRejectsIllegalAction(t *testing.T) {
	c := NewBalance(13, 0.99)
	if _, err := c.Step(-1); err == nil {
		t.Error("expected error for action -1")
	}
	if _, err := c.Step(MaxDiscreteAction + 1); err == nil {
		t.Error("expected error for out of range action")
	}
}

func TestConstantForceFailsEpisode(t *testing.T) {
	c := NewBalance(13, 0.99)

	// Accelerating in one direction forever must eventually tip the
	// pole past the fail angle, ending the episode in a terminal state
	// with a -1 reward.
	for i := 0; i < 1000; i++ {
		step, err := c.Step(0)
		if err != nil {
			t.Fatal(err)
		}
		if step.Last() {
			if step.TerminatedEarly() {
				t.Error("pole fall reported as a timeout")
			}
			if step.Reward != -1.0 {
				t.Errorf("terminal reward = %v, expected -1", step.Reward)
			}
			if math.Abs(step.Observation.AtVec(2)) < FailAngle {
				t.Errorf("episode ended with angle %v inside ±%v",
					step.Observation.AtVec(2), FailAngle)
			}
			return
		}
		if step.Reward != 1.0 {
			t.Errorf("mid-episode reward = %v, expected 1", step.Reward)
		}
	}
	t.Error("pole never fell under constant force")
}

func TestSpecShapes(t *testing.T) {
	c := NewBalance(13, 0.99)

	if got := c.ObservationSpec().Shape.Len(); got != 4 {
		t.Errorf("observation size = %v, expected 4", got)
	}
	actions := c.ActionSpec()
	if got := int(actions.UpperBound.AtVec(0)); got != MaxDiscreteAction {
		t.Errorf("action upper bound = %v, expected %v", got,
			MaxDiscreteAction)
	}
}
