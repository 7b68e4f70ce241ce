package ppo

import (
	"math"
	"testing"

	"github.com/samuelfneumann/gopg/network"
	"github.com/samuelfneumann/gopg/policy"
	"github.com/samuelfneumann/gopg/rollout"
	"github.com/samuelfneumann/gopg/utils/op"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	obsSize    int = 3
	numActions int = 2
	numLanes   int = 2
	numSteps   int = 4
)

// testConfig shrinks the default sweep so that the minibatch count
// divides the small test rollouts evenly.
func testConfig() Config {
	c := DefaultConfig()
	c.Epochs = 2
	c.NumMiniBatch = 2
	return c
}

func newPolicy(t *testing.T, seed int64) *policy.Categorical {
	pol, err := policy.NewCategorical(
		obsSize,
		numActions,
		numLanes,
		[]int{8},
		[]bool{true},
		[]*network.Activation{network.TanH()},
		G.GlorotU(1.0),
		seed,
	)
	if err != nil {
		t.Fatal(err)
	}
	return pol
}

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
			obs.Set(lane, j, float64(lane*obsSize+j)*0.05)
		}
		masks.SetVec(lane, 1.0)
	}
	if err := s.Reset(obs, hidden); err != nil {
		t.Fatal(err)
	}

	validMasks := mat.NewVecDense(numLanes, []float64{1.0, 1.0})
	rewards := mat.NewVecDense(numLanes, []float64{0.5, 1.0})
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
	pol := newPolicy(t, 37)
	engine, err := New(testConfig(), pol, numSteps, numLanes, 37)
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

func TestRecurrentUpdate(t *testing.T) {
	pol := newPolicy(t, 37)
	c := testConfig()
	c.Recurrent = true
	engine, err := New(c, pol, numSteps, numLanes, 37)
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

func TestUpdateSyncsActingPolicy(t *testing.T) {
	pol := newPolicy(t, 37)
	engine, err := New(testConfig(), pol, numSteps, numLanes, 37)
	if err != nil {
		t.Fatal(err)
	}

	s := fillRollout(t, pol)
	if _, _, _, err := engine.Update(s); err != nil {
		t.Fatal(err)
	}

	trained := engine.Network().Learnables()
	acting := pol.Network().Learnables()
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

func TestNewRejectsUnevenMiniBatches(t *testing.T) {
	pol := newPolicy(t, 37)

	c := testConfig()
	c.NumMiniBatch = 3 // Cannot split 4×2 transitions evenly
	if _, err := New(c, pol, numSteps, numLanes, 37); err == nil {
		t.Error("expected error when minibatches cannot split transitions")
	}

	c = testConfig()
	c.Recurrent = true
	c.NumMiniBatch = 4 // Cannot split 2 lanes evenly
	if _, err := New(c, pol, numSteps, numLanes, 37); err == nil {
		t.Error("expected error when minibatches cannot split lanes")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	pol := newPolicy(t, 37)

	c := testConfig()
	c.ClipParam = 0
	if _, err := New(c, pol, numSteps, numLanes, 37); err == nil {
		t.Error("expected error for clip parameter of 0")
	}

	c = testConfig()
	c.Epochs = 0
	if _, err := New(c, pol, numSteps, numLanes, 37); err == nil {
		t.Error("expected error for 0 epochs")
	}
}

func TestUpdateRequiresFullBuffer(t *testing.T) {
	pol := newPolicy(t, 37)
	engine, err := New(testConfig(), pol, numSteps, numLanes, 37)
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

// TestClippedSurrogateTakesPessimisticBranch checks the surrogate
// construction at fixed probability ratios: a ratio of exactly 1
// passes the advantage through unchanged, ratios outside the clipping
// band use the clipped branch when it is the smaller objective, and
// ratios inside the band are never altered.
func TestClippedSurrogateTakesPessimisticBranch(t *testing.T) {
	const epsilon float64 = 0.2

	ratios := []float64{1.0, 1.5, 0.5, 1.1, 0.5}
	advantages := []float64{2.0, 2.0, 2.0, -1.0, -1.0}
	expected := []float64{
		2.0,  // ratio exactly 1: surrogate is the advantage itself
		2.4,  // ratio above the band, positive advantage: clipped branch
		1.0,  // ratio below the band, positive advantage: unclipped is smaller
		-1.1, // ratio inside the band: unaltered
		-0.8, // ratio below the band, negative advantage: clipped branch
	}

	g := G.NewGraph()
	newVec := func(name string, values []float64) *G.Node {
		return G.NewVector(
			g,
			tensor.Float64,
			G.WithShape(len(values)),
			G.WithName(name),
			G.WithValue(tensor.New(
				tensor.WithShape(len(values)),
				tensor.WithBacking(values),
			)),
		)
	}
	ratio := newVec("Ratios", ratios)
	adv := newVec("Advantages", advantages)

	surrogate := G.Must(G.HadamardProd(ratio, adv))
	clippedRatio, err := op.Clip(ratio, 1-epsilon, 1+epsilon)
	if err != nil {
		t.Fatalf("could not clip ratio: %v", err)
	}
	clippedSurrogate := G.Must(G.HadamardProd(clippedRatio, adv))
	pessimistic, err := op.Min(surrogate, clippedSurrogate)
	if err != nil {
		t.Fatalf("could not take pessimistic surrogate: %v", err)
	}

	var val G.Value
	G.Read(pessimistic, &val)
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run graph: %v", err)
	}

	const tolerance float64 = 1e-12
	for i, have := range val.Data().([]float64) {
		if math.Abs(have-expected[i]) > tolerance {
			t.Errorf("ratio %v advantage %v surrogate \n\twant(%v)"+
				"\n\thave(%v)", ratios[i], advantages[i], expected[i], have)
		}
	}
}
