// Package environment outlines the interfaces and structs needed to implement
// concrete environments
package environment

import (
	"github.com/samuelfneumann/gopg/timestep"
	"gonum.org/v1/gonum/mat"
)

// Starter implements a distribution of starting states and samples starting
// states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Ender determines when episodes end. If the episode should end, End
// modifies the timestep so that its StepType field is timestep.Last
// and records the end type, returning true.
type Ender interface {
	End(*timestep.TimeStep) bool
}

// Environment implements a simulated environment with a discrete
// action space. Environments are not safe for concurrent use; the
// vectorizer gives each lane its own instance.
type Environment interface {
	// Reset resets the environment between episodes and returns the
	// first timestep of the new episode
	Reset() timestep.TimeStep

	// Step takes one environmental step given a discrete action and
	// returns the resulting timestep
	Step(action int) (timestep.TimeStep, error)

	ObservationSpec() Spec
	ActionSpec() Spec
}
