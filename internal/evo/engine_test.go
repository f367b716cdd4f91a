package evo

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"neurowalk/internal/nn"
	"neurowalk/internal/storage"
)

type memorySlot struct {
	params  []float32
	saves   int
	saveErr error
	loadErr error
}

func (s *memorySlot) Save(net *nn.Network) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.params = net.Parameters()
	s.saves++
	return nil
}

func (s *memorySlot) Load(net *nn.Network) (bool, error) {
	if s.loadErr != nil {
		return false, s.loadErr
	}
	if len(s.params) == 0 {
		return false, nil
	}
	if err := net.SetParameters(s.params); err != nil {
		return false, err
	}
	return true, nil
}

func newTestEngine(t *testing.T, cfg Config, slot ChampionSlot) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, slot, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func walkerConfig(pop int) Config {
	return Config{
		PopulationSize:   pop,
		Layers:           []int{8, 6, 5},
		MutationChance:   100,
		MutationStrength: 0.5,
		Seed:             42,
	}
}

func equalParams(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

func withinStrength(parent, child []float32, strength float32) bool {
	if len(parent) != len(child) {
		return false
	}
	for i := range parent {
		if math.Abs(float64(child[i]-parent[i])) > float64(strength)+1e-6 {
			return false
		}
	}
	return true
}

func TestEngineGenerationCyclePairsHalves(t *testing.T) {
	slot := &memorySlot{}
	engine := newTestEngine(t, walkerConfig(4), slot)

	if err := engine.BeginGeneration(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	fitness := []float32{1, 3, 2, 4}
	before := make([]*nn.Network, 4)
	params := make([][]float32, 4)
	for i, f := range fitness {
		net, err := engine.Network(i)
		if err != nil {
			t.Fatalf("network %d: %v", i, err)
		}
		before[i] = net
		params[i] = net.Parameters()
		if err := engine.ReportFitness(i, f); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	result, err := engine.EndGeneration()
	if err != nil {
		t.Fatalf("end generation: %v", err)
	}
	if result.Generation != 1 || result.ChampionFitness != 4 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !equalParams(result.RankedFitness, []float32{1, 2, 3, 4}) {
		t.Fatalf("unexpected ranking: %v", result.RankedFitness)
	}

	// Champion slot holds the fittest network (reported index 3).
	if slot.saves != 1 || !equalParams(slot.params, params[3]) {
		t.Fatal("champion slot does not hold the fittest network")
	}

	pop := engine.Population()
	// Ranked order was [idx0, idx2, idx1, idx3]; the upper half survives untouched.
	if pop.Member(2) != before[1] || pop.Member(3) != before[3] {
		t.Fatal("elite half must keep the same network instances")
	}
	if !equalParams(pop.Member(2).Parameters(), params[1]) || !equalParams(pop.Member(3).Parameters(), params[3]) {
		t.Fatal("elite half parameters changed")
	}
	if pop.Member(2).Fitness() != 3 || pop.Member(3).Fitness() != 4 {
		t.Fatal("elite half must carry its fitness forward")
	}

	// Offspring slot i is a mutated copy of ranked slot i+N/2.
	for i, parent := range map[int][]float32{0: params[1], 1: params[3]} {
		child := pop.Member(i)
		for _, old := range before {
			if child == old {
				t.Fatalf("offspring %d must be a fresh network", i)
			}
		}
		if child.Fitness() != 0 {
			t.Fatalf("offspring %d must start with zero fitness", i)
		}
		if !withinStrength(parent, child.Parameters(), 0.5) {
			t.Fatalf("offspring %d is not a bounded perturbation of its parent", i)
		}
	}
	if engine.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", engine.State())
	}
}

func TestEngineChampionFitnessNeverDecreases(t *testing.T) {
	engine := newTestEngine(t, Config{
		PopulationSize:   10,
		Layers:           []int{3, 4, 1},
		MutationChance:   10,
		MutationStrength: 0.3,
		Seed:             7,
	}, &memorySlot{})
	input := []float32{0.5, -0.25, 1}

	best := float32(math.Inf(-1))
	for gen := 0; gen < 25; gen++ {
		if err := engine.BeginGeneration(); err != nil {
			t.Fatalf("begin: %v", err)
		}
		for i := 0; i < engine.Population().Size(); i++ {
			net, _ := engine.Network(i)
			out, err := net.FeedForward(input)
			if err != nil {
				t.Fatalf("feed forward: %v", err)
			}
			if err := engine.ReportFitness(i, out[0]); err != nil {
				t.Fatalf("report: %v", err)
			}
		}
		result, err := engine.EndGeneration()
		if err != nil {
			t.Fatalf("end generation: %v", err)
		}
		if result.ChampionFitness < best {
			t.Fatalf("champion fitness decreased at generation %d: %f < %f", gen+1, result.ChampionFitness, best)
		}
		best = result.ChampionFitness
		if engine.Population().Size() != 10 {
			t.Fatalf("population size changed: %d", engine.Population().Size())
		}
	}
}

func TestNewEngineNormalizesPopulationSize(t *testing.T) {
	for _, size := range []int{0, 7} {
		engine := newTestEngine(t, walkerConfig(size), &memorySlot{})
		if engine.Population().Size() != DefaultPopulationSize {
			t.Fatalf("size %d: expected default population, got %d", size, engine.Population().Size())
		}
	}
	if _, err := NewEngine(walkerConfig(-2), &memorySlot{}, nil); err == nil {
		t.Fatal("expected error for negative population size")
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad-layers", mutate: func(c *Config) { c.Layers = []int{8, 0} }},
		{name: "no-layers", mutate: func(c *Config) { c.Layers = nil }},
		{name: "zero-chance", mutate: func(c *Config) { c.MutationChance = 0 }},
		{name: "negative-strength", mutate: func(c *Config) { c.MutationStrength = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := walkerConfig(4)
			tc.mutate(&cfg)
			if _, err := NewEngine(cfg, &memorySlot{}, nil); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
	cfg := walkerConfig(4)
	cfg.Layers = []int{8, -1}
	if _, err := NewEngine(cfg, &memorySlot{}, nil); !errors.Is(err, nn.ErrInvalidTopology) {
		t.Fatalf("expected ErrInvalidTopology, got %v", err)
	}
	if _, err := NewEngine(walkerConfig(4), nil, nil); err == nil {
		t.Fatal("expected error without champion slot")
	}
}

func TestNewEngineSeedsEveryMemberFromChampion(t *testing.T) {
	saved, err := nn.New([]int{8, 6, 5}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	slot := &memorySlot{params: saved.Parameters()}

	engine := newTestEngine(t, walkerConfig(6), slot)
	if !engine.Resumed() {
		t.Fatal("expected engine to resume from champion")
	}
	for i, member := range engine.Population().Members() {
		if !equalParams(member.Parameters(), saved.Parameters()) {
			t.Fatalf("member %d not seeded from champion", i)
		}
		if member.Fitness() != 0 {
			t.Fatalf("member %d fitness must start at zero", i)
		}
	}
}

func TestNewEngineFallsBackOnCorruptChampion(t *testing.T) {
	for _, loadErr := range []error{storage.ErrCorruptPersistedState, nn.ErrTopologyMismatch} {
		engine, err := NewEngine(walkerConfig(4), &memorySlot{loadErr: loadErr}, nil)
		if err != nil {
			t.Fatalf("%v: expected fallback, got %v", loadErr, err)
		}
		if engine.Resumed() {
			t.Fatal("expected random initialization")
		}
		members := engine.Population().Members()
		if equalParams(members[0].Parameters(), members[1].Parameters()) {
			t.Fatal("expected independently randomized members")
		}
	}

	if _, err := NewEngine(walkerConfig(4), &memorySlot{loadErr: errors.New("permission denied")}, nil); err == nil {
		t.Fatal("expected I/O error to abort engine construction")
	}
}

func TestNewEngineWithChampionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "champion.txt")
	slot := storage.NewChampionFile(path)

	first := newTestEngine(t, walkerConfig(4), slot)
	if first.Resumed() {
		t.Fatal("first run must start from random initialization")
	}
	runGeneration(t, first, []float32{4, 3, 2, 1})
	champion := first.Population().Champion().Parameters()

	second := newTestEngine(t, walkerConfig(4), slot)
	if !second.Resumed() {
		t.Fatal("second run must resume from the saved champion")
	}
	for i, member := range second.Population().Members() {
		if !equalParams(member.Parameters(), champion) {
			t.Fatalf("member %d differs from saved champion", i)
		}
	}
}

func TestEngineReportFitnessErrors(t *testing.T) {
	engine := newTestEngine(t, walkerConfig(4), &memorySlot{})

	if err := engine.ReportFitness(0, 1); !errors.Is(err, ErrNotEvaluating) {
		t.Fatalf("expected ErrNotEvaluating, got %v", err)
	}
	if _, err := engine.EndGeneration(); !errors.Is(err, ErrNotEvaluating) {
		t.Fatalf("expected ErrNotEvaluating, got %v", err)
	}
	if err := engine.BeginGeneration(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := engine.BeginGeneration(); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle, got %v", err)
	}
	if err := engine.ReportFitness(4, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := engine.ReportFitness(1, 1); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := engine.ReportFitness(1, 2); !errors.Is(err, ErrFitnessAlreadyReported) {
		t.Fatalf("expected ErrFitnessAlreadyReported, got %v", err)
	}
	if _, err := engine.EndGeneration(); !errors.Is(err, ErrIncompleteGeneration) {
		t.Fatalf("expected ErrIncompleteGeneration, got %v", err)
	}
	if _, err := engine.Network(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestEngineSaveFailureAllowsRetry(t *testing.T) {
	slot := &memorySlot{saveErr: errors.New("disk full")}
	engine := newTestEngine(t, walkerConfig(4), slot)

	if err := engine.BeginGeneration(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := engine.ReportFitness(i, float32(i)); err != nil {
			t.Fatalf("report: %v", err)
		}
	}
	if _, err := engine.EndGeneration(); err == nil {
		t.Fatal("expected save failure")
	}
	if engine.State() != StateEvaluating || engine.Generation() != 0 {
		t.Fatalf("expected evaluation to stay open, state=%s generation=%d", engine.State(), engine.Generation())
	}

	slot.saveErr = nil
	result, err := engine.EndGeneration()
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Generation != 1 || result.ChampionFitness != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPopulationPartitions(t *testing.T) {
	engine := newTestEngine(t, walkerConfig(6), &memorySlot{})
	runGeneration(t, engine, []float32{6, 5, 4, 3, 2, 1})

	pop := engine.Population()
	if len(pop.Offspring()) != 3 || len(pop.Elite()) != 3 {
		t.Fatalf("unexpected partition sizes: %d/%d", len(pop.Offspring()), len(pop.Elite()))
	}
	for i, member := range pop.Elite() {
		if member.Fitness() != float32(4+i) {
			t.Fatalf("unexpected elite fitness at %d: %f", i, member.Fitness())
		}
	}
	if pop.Champion() != pop.Elite()[2] {
		t.Fatal("champion must be the last elite member")
	}
}

func runGeneration(t *testing.T, engine *Engine, fitness []float32) GenerationResult {
	t.Helper()
	if err := engine.BeginGeneration(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i, f := range fitness {
		if err := engine.ReportFitness(i, f); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}
	result, err := engine.EndGeneration()
	if err != nil {
		t.Fatalf("end generation: %v", err)
	}
	return result
}
