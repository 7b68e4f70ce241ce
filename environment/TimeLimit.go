package environment

import (
	"github.com/samuelfneumann/gopg/timestep"
)

// TimeLimit wraps an Environment and cuts episodes off after a fixed
// number of steps. Episodes ended by the limit are marked as timeouts
// so that value estimation can still bootstrap through them, unlike
// true terminal states.
type TimeLimit struct {
	Environment
	ender StepLimit
}

// NewTimeLimit returns env wrapped with an episode step limit
func NewTimeLimit(env Environment, episodeSteps int) *TimeLimit {
	return &TimeLimit{
		Environment: env,
		ender:       NewStepLimit(episodeSteps),
	}
}

// Step takes one environmental step, ending the episode as a timeout
// if the step limit has been reached and the environment did not
// already end it
func (t *TimeLimit) Step(action int) (timestep.TimeStep, error) {
	step, err := t.Environment.Step(action)
	if err != nil {
		return step, err
	}
	if !step.Last() {
		t.ender.End(&step)
	}
	return step, nil
}
