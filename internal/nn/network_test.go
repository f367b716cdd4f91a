package nn

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"
)

func newTestNetwork(t *testing.T, seed int64, layers ...int) *Network {
	t.Helper()
	n, err := New(layers, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	return n
}

func TestNewRejectsInvalidTopology(t *testing.T) {
	tests := []struct {
		name   string
		layers []int
	}{
		{name: "empty", layers: nil},
		{name: "zero-width", layers: []int{3, 0, 2}},
		{name: "negative-width", layers: []int{-1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.layers, rand.New(rand.NewSource(1)))
			if !errors.Is(err, ErrInvalidTopology) {
				t.Fatalf("expected ErrInvalidTopology, got %v", err)
			}
		})
	}
}

func TestNewInitializesParametersInRange(t *testing.T) {
	n := newTestNetwork(t, 7, 8, 6, 5)

	params := n.Parameters()
	if len(params) != ParamCount([]int{8, 6, 5}) {
		t.Fatalf("unexpected parameter count: got=%d want=%d", len(params), ParamCount([]int{8, 6, 5}))
	}
	if len(params) != 6+5+6*8+5*6 {
		t.Fatalf("unexpected parameter count: %d", len(params))
	}
	allZero := true
	for i, p := range params {
		if p < -0.5 || p > 0.5 {
			t.Fatalf("parameter %d out of init range: %f", i, p)
		}
		if p != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Fatal("expected random initialization")
	}
	if n.Fitness() != 0 {
		t.Fatalf("expected zero default fitness, got %f", n.Fitness())
	}
}

func TestFeedForwardMatchesManualComputation(t *testing.T) {
	n := newTestNetwork(t, 1, 2, 2, 1)
	n.SetBias(1, 0, 0.1)
	n.SetBias(1, 1, -0.2)
	n.SetBias(2, 0, 0.05)
	n.SetWeight(1, 0, 0, 0.5)
	n.SetWeight(1, 0, 1, -0.25)
	n.SetWeight(1, 1, 0, 0.3)
	n.SetWeight(1, 1, 1, 0.4)
	n.SetWeight(2, 0, 0, 1.5)
	n.SetWeight(2, 0, 1, -0.75)

	input := []float32{1, 2}
	h0 := float32(math.Tanh(float64(float32(0.5)*1 + float32(-0.25)*2 + 0.1)))
	h1 := float32(math.Tanh(float64(float32(0.3)*1 + float32(0.4)*2 - 0.2)))
	want := float32(math.Tanh(float64(1.5*h0 + -0.75*h1 + 0.05)))

	out, err := n.FeedForward(input)
	if err != nil {
		t.Fatalf("feed forward: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("unexpected output width: %d", len(out))
	}
	if math.Abs(float64(out[0]-want)) > 1e-6 {
		t.Fatalf("unexpected output: got=%f want=%f", out[0], want)
	}
}

func TestFeedForwardRejectsWrongInputLength(t *testing.T) {
	n := newTestNetwork(t, 1, 3, 2)
	if _, err := n.FeedForward([]float32{1, 2}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFeedForwardIsDeterministic(t *testing.T) {
	n := newTestNetwork(t, 3, 8, 6, 5)
	input := []float32{0.1, -0.4, 12, 45, -90, 0.3, 2, -2}

	first, err := n.FeedForward(input)
	if err != nil {
		t.Fatalf("feed forward: %v", err)
	}
	first = slices.Clone(first)
	for i := 0; i < 5; i++ {
		again, err := n.FeedForward(input)
		if err != nil {
			t.Fatalf("feed forward: %v", err)
		}
		for j := range first {
			if math.Float32bits(first[j]) != math.Float32bits(again[j]) {
				t.Fatalf("output %d changed between calls: %v vs %v", j, first, again)
			}
		}
	}
}

func TestFeedForwardZeroParametersYieldsZeroOutput(t *testing.T) {
	n := newTestNetwork(t, 9, 4, 3, 2)
	if err := n.SetParameters(make([]float32, n.ParamCount())); err != nil {
		t.Fatalf("set parameters: %v", err)
	}

	out, err := n.FeedForward([]float32{5, -3, 0.5, 100})
	if err != nil {
		t.Fatalf("feed forward: %v", err)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("expected zero output at %d, got %f", i, v)
		}
	}
}

func TestFeedForwardSingleLayerReturnsInput(t *testing.T) {
	n := newTestNetwork(t, 1, 3)
	if n.ParamCount() != 0 {
		t.Fatalf("expected no parameters, got %d", n.ParamCount())
	}
	out, err := n.FeedForward([]float32{1, -2, 3})
	if err != nil {
		t.Fatalf("feed forward: %v", err)
	}
	if !slices.Equal(out, []float32{1, -2, 3}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestCopyParamsIntoIsDeep(t *testing.T) {
	src := newTestNetwork(t, 1, 3, 4, 2)
	dst := newTestNetwork(t, 2, 3, 4, 2)
	src.SetFitness(12)
	dst.SetFitness(3)

	got, err := src.CopyParamsInto(dst)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got != dst {
		t.Fatal("expected copy to return target")
	}
	if !slices.Equal(src.Parameters(), dst.Parameters()) {
		t.Fatal("expected identical parameters after copy")
	}
	if dst.Fitness() != 3 {
		t.Fatalf("copy must not touch fitness, got %f", dst.Fitness())
	}

	dst.SetWeight(1, 0, 0, 42)
	dst.SetBias(2, 1, -42)
	if src.Weight(1, 0, 0) == 42 || src.Bias(2, 1) == -42 {
		t.Fatal("mutating the copy affected the source")
	}
	src.SetWeight(2, 1, 3, 7)
	if dst.Weight(2, 1, 3) == 7 {
		t.Fatal("mutating the source affected the copy")
	}
}

func TestCopyParamsIntoRejectsTopologyMismatch(t *testing.T) {
	src := newTestNetwork(t, 1, 3, 4, 2)
	dst := newTestNetwork(t, 1, 3, 5, 2)
	before := dst.Parameters()

	if _, err := src.CopyParamsInto(dst); !errors.Is(err, ErrTopologyMismatch) {
		t.Fatalf("expected ErrTopologyMismatch, got %v", err)
	}
	if !slices.Equal(before, dst.Parameters()) {
		t.Fatal("failed copy must not modify target")
	}
	if _, err := src.CopyParamsInto(nil); !errors.Is(err, ErrTopologyMismatch) {
		t.Fatalf("expected ErrTopologyMismatch for nil target, got %v", err)
	}
}

func TestMutatePerturbationIsBounded(t *testing.T) {
	n := newTestNetwork(t, 5, 8, 6, 5)
	before := n.Parameters()
	const strength = 0.25

	mutated := n.Mutate(rand.New(rand.NewSource(11)), 1, strength)
	if mutated != n.ParamCount() {
		t.Fatalf("denominator 1 must perturb every scalar: got=%d want=%d", mutated, n.ParamCount())
	}
	after := n.Parameters()
	for i := range before {
		if d := math.Abs(float64(after[i] - before[i])); d > strength+1e-6 {
			t.Fatalf("perturbation %d exceeds strength: %f", i, d)
		}
	}
}

func TestMutateZeroStrengthLeavesParameters(t *testing.T) {
	n := newTestNetwork(t, 5, 4, 4)
	before := n.Parameters()
	n.Mutate(rand.New(rand.NewSource(1)), 1, 0)
	if !slices.Equal(before, n.Parameters()) {
		t.Fatal("zero strength must not change parameters")
	}
}

// The draw is compared with a fixed threshold of 5, so the realised rate is
// 6/denominator rather than 1/denominator.
func TestMutateRateUsesFixedThreshold(t *testing.T) {
	n := newTestNetwork(t, 5, 50, 40, 30)
	rng := rand.New(rand.NewSource(99))

	const rounds = 20
	total := 0
	for i := 0; i < rounds; i++ {
		total += n.Mutate(rng, 100, 0.1)
	}
	rate := float64(total) / float64(rounds*n.ParamCount())
	if math.Abs(rate-0.06) > 0.01 {
		t.Fatalf("unexpected mutation rate: got=%f want~0.06", rate)
	}

	if got := n.Mutate(rng, 6, 0.1); got != n.ParamCount() {
		t.Fatalf("denominator 6 must perturb every scalar: got=%d want=%d", got, n.ParamCount())
	}
}

func TestSetParametersRejectsWrongLength(t *testing.T) {
	n := newTestNetwork(t, 1, 2, 2)
	if err := n.SetParameters(make([]float32, n.ParamCount()-1)); !errors.Is(err, ErrTopologyMismatch) {
		t.Fatalf("expected ErrTopologyMismatch, got %v", err)
	}
}

func TestLayersReturnsCopy(t *testing.T) {
	n := newTestNetwork(t, 1, 8, 6, 5)
	layers := n.Layers()
	layers[0] = 99
	if n.InputSize() != 8 || n.OutputSize() != 5 {
		t.Fatalf("layers mutated through accessor: %v", n.Layers())
	}
}
