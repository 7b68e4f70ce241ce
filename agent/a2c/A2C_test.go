package a2c

import (
	"math"
	"testing"

	"github.com/samuelfneumann/gopg/network"
	"github.com/samuelfneumann/gopg/policy"
	"github.com/samuelfneumann/gopg/rollout"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

const (
	obsSize    int = 3
	numActions int = 2
	numLanes   int = 2
	numSteps   int = 4
)

// newPolicy returns a small categorical policy for update tests.
func newPolicy(t *testing.T, seed int64) *policy.Categorical {
	pol, err := policy.NewCategorical(
		obsSize,
		numActions,
		numLanes,
		[]int{8},
		[]bool{true},
		[]*network.Activation{network.ReLU()},
		G.GlorotU(1.0),
		seed,
	)
	if err != nil {
		t.Fatal(err)
	}
	return pol
}

// fillRollout collects a full rollout with the policy on synthetic
// observations and computes its returns table.
func fillRollout(t *testing.T, pol *policy.Categorical) *rollout.Storage {
	s, err := rollout.New(numSteps, numLanes, obsSize, pol.HiddenSize(), 1)
	if err != nil {
		t.Fatal(err)
	}

	obs := mat.NewDense(numLanes, obsSize, nil)
	hidden := mat.NewDense(numLanes, pol.HiddenSize(), nil)
	masks := mat.NewVecDense(numLanes, nil)
	for lane := 0; lane < numLanes; lane++ {
		for j := 0; j < obsSize; j++ {
			obs.Set(lane, j, float64(lane+j)*0.1)
		}
		masks.SetVec(lane, 1.0)
	}
	if err := s.Reset(obs, hidden); err != nil {
		t.Fatal(err)
	}

	validMasks := mat.NewVecDense(numLanes, []float64{1.0, 1.0})
	rewards := mat.NewVecDense(numLanes, []float64{1.0, -1.0})
	for step := 0; step < numSteps; step++ {
		value, actions, logProbs, hidden, err := pol.Act(obs, hidden, masks)
		if err != nil {
			t.Fatal(err)
		}
		err = s.Insert(obs, hidden, actions, logProbs, value, rewards,
			masks, validMasks)
		if err != nil {
			t.Fatal(err)
		}
	}

	bootstrap, err := pol.Value(obs, hidden, masks)
	if err != nil {
		t.Fatal(err)
	}
	err = s.ComputeReturns(bootstrap, 0.99, 0.95, true, false)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUpdateReturnsFiniteLosses(t *testing.T) {
	pol := newPolicy(t, 14)
	engine, err := New(DefaultConfig(), pol, numSteps, numLanes)
	if err != nil {
		t.Fatal(err)
	}

	s := fillRollout(t, pol)
	valueLoss, policyLoss, entropy, err := engine.Update(s)
	if err != nil {
		t.Fatal(err)
	}

	for _, l := range []float64{valueLoss, policyLoss, entropy} {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			t.Fatalf("non-finite loss: value %v, policy %v, entropy %v",
				valueLoss, policyLoss, entropy)
		}
	}
	if valueLoss < 0 {
		t.Errorf("squared value loss cannot be negative \n\twas (%v)",
			valueLoss)
	}
	if entropy < 0 || entropy > math.Log(float64(numActions))+1e-9 {
		t.Errorf("entropy of %v actions must lie in [0, %v] \n\twas (%v)",
			numActions, math.Log(float64(numActions)), entropy)
	}
}

func TestUpdateSyncsActingPolicy(t *testing.T) {
	pol := newPolicy(t, 14)
	engine, err := New(DefaultConfig(), pol, numSteps, numLanes)
	if err != nil {
		t.Fatal(err)
	}

	s := fillRollout(t, pol)
	if _, _, _, err := engine.Update(s); err != nil {
		t.Fatal(err)
	}

	trained := engine.Network().Learnables()
	acting := pol.Network().Learnables()
	if len(trained) != len(acting) {
		t.Fatalf("learnable count mismatch: %v != %v", len(trained),
			len(acting))
	}
	for i := range trained {
		trainData := trained[i].Value().Data().([]float64)
		actData := acting[i].Value().Data().([]float64)
		for j := range trainData {
			if trainData[j] != actData[j] {
				t.Fatalf("learnable %v element %v not synced: %v != %v",
					i, j, trainData[j], actData[j])
			}
		}
	}
}

func TestUpdateChangesWeights(t *testing.T) {
	pol := newPolicy(t, 14)
	engine, err := New(DefaultConfig(), pol, numSteps, numLanes)
	if err != nil {
		t.Fatal(err)
	}

	before := make([][]float64, 0)
	for _, l := range engine.Network().Learnables() {
		data := l.Value().Data().([]float64)
		before = append(before, append([]float64(nil), data...))
	}

	s := fillRollout(t, pol)
	if _, _, _, err := engine.Update(s); err != nil {
		t.Fatal(err)
	}

	changed := false
	for i, l := range engine.Network().Learnables() {
		data := l.Value().Data().([]float64)
		for j := range data {
			if data[j] != before[i][j] {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("update left every weight unchanged")
	}
}

func TestACKTRUpdate(t *testing.T) {
	pol := newPolicy(t, 14)
	engine, err := New(DefaultACKTRConfig(), pol, numSteps, numLanes)
	if err != nil {
		t.Fatal(err)
	}

	s := fillRollout(t, pol)
	valueLoss, policyLoss, entropy, err := engine.Update(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range []float64{valueLoss, policyLoss, entropy} {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			t.Fatalf("non-finite loss: value %v, policy %v, entropy %v",
				valueLoss, policyLoss, entropy)
		}
	}
}

func TestUpdateRequiresFullBuffer(t *testing.T) {
	pol := newPolicy(t, 14)
	engine, err := New(DefaultConfig(), pol, numSteps, numLanes)
	if err != nil {
		t.Fatal(err)
	}

	s, err := rollout.New(numSteps, numLanes, obsSize, pol.HiddenSize(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := engine.Update(s); err == nil {
		t.Error("expected error when updating from a partial buffer")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	pol := newPolicy(t, 14)

	c := DefaultConfig()
	c.LR = 0
	if _, err := New(c, pol, numSteps, numLanes); err == nil {
		t.Error("expected error for learning rate of 0")
	}

	c = DefaultConfig()
	c.RMSPropAlpha = 1.5
	if _, err := New(c, pol, numSteps, numLanes); err == nil {
		t.Error("expected error for rmsprop alpha above 1")
	}

	c = DefaultACKTRConfig()
	c.KL = 0
	if _, err := New(c, pol, numSteps, numLanes); err == nil {
		t.Error("expected error for kl radius of 0")
	}
}
