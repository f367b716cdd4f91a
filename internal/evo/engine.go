package evo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"neurowalk/internal/nn"
	"neurowalk/internal/storage"
)

const DefaultPopulationSize = 50

var (
	ErrNotEvaluating          = errors.New("engine is not evaluating a generation")
	ErrNotIdle                = errors.New("engine is not idle")
	ErrIndexOutOfRange        = errors.New("population index out of range")
	ErrFitnessAlreadyReported = errors.New("fitness already reported for this generation")
	ErrIncompleteGeneration   = errors.New("fitness not reported for every member")
)

// State is the phase of the generation cycle.
type State int

const (
	StateIdle State = iota
	StateEvaluating
	StateRanking
	StatePersisting
	StateRepopulating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StateRanking:
		return "ranking"
	case StatePersisting:
		return "persisting"
	case StateRepopulating:
		return "repopulating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChampionSlot holds the parameters of the latest champion.
type ChampionSlot interface {
	Save(net *nn.Network) error
	Load(net *nn.Network) (bool, error)
}

type Config struct {
	// PopulationSize must be even; zero or odd values fall back to
	// DefaultPopulationSize.
	PopulationSize int
	Layers         []int
	// MutationChance is the chance denominator handed to nn.Network.Mutate.
	MutationChance   float64
	MutationStrength float32
	Seed             int64
	// Rand overrides Seed when set.
	Rand *rand.Rand
}

// GenerationResult describes one completed generation cycle.
type GenerationResult struct {
	Generation      int
	RankedFitness   []float32
	ChampionFitness float32
	MutatedScalars  int
}

// Engine owns the population and runs the generation cycle
// Idle -> Evaluating -> Ranking -> Persisting -> Repopulating -> Idle.
// It is not safe for concurrent use.
type Engine struct {
	cfg    Config
	rng    *rand.Rand
	slot   ChampionSlot
	logger *slog.Logger

	pop        *Population
	state      State
	generation int
	reported   []bool
	resumed    bool
}

func NewEngine(cfg Config, slot ChampionSlot, logger *slog.Logger) (*Engine, error) {
	if slot == nil {
		return nil, errors.New("champion slot is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.PopulationSize < 0 {
		return nil, fmt.Errorf("population size must be >= 0, got %d", cfg.PopulationSize)
	}
	if cfg.PopulationSize == 0 || cfg.PopulationSize%2 != 0 {
		if cfg.PopulationSize != 0 {
			logger.Warn("odd population size replaced by default", "configured", cfg.PopulationSize, "default", DefaultPopulationSize)
		}
		cfg.PopulationSize = DefaultPopulationSize
	}
	if err := nn.ValidateLayers(cfg.Layers); err != nil {
		return nil, err
	}
	cfg.Layers = append([]int(nil), cfg.Layers...)
	if cfg.MutationChance <= 0 {
		return nil, fmt.Errorf("mutation chance denominator must be > 0, got %v", cfg.MutationChance)
	}
	if cfg.MutationStrength < 0 {
		return nil, fmt.Errorf("mutation strength must be >= 0, got %v", cfg.MutationStrength)
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}

	e := &Engine{
		cfg:      cfg,
		rng:      rng,
		slot:     slot,
		logger:   logger,
		reported: make([]bool, cfg.PopulationSize),
	}
	if err := e.initPopulation(); err != nil {
		return nil, err
	}
	return e, nil
}

// initPopulation randomly initialises every member, then overwrites all of
// them from the champion slot when it holds a compatible champion.
func (e *Engine) initPopulation() error {
	members := make([]*nn.Network, e.cfg.PopulationSize)
	for i := range members {
		net, err := nn.New(e.cfg.Layers, e.rng)
		if err != nil {
			return err
		}
		members[i] = net
	}

	saved, err := nn.New(e.cfg.Layers, e.rng)
	if err != nil {
		return err
	}
	loaded, err := e.slot.Load(saved)
	switch {
	case errors.Is(err, storage.ErrCorruptPersistedState), errors.Is(err, nn.ErrTopologyMismatch):
		e.logger.Warn("saved champion unusable, keeping random initialization", "error", err)
	case err != nil:
		return fmt.Errorf("load champion: %w", err)
	case loaded:
		for _, member := range members {
			if _, err := saved.CopyParamsInto(member); err != nil {
				return err
			}
		}
		e.resumed = true
	}

	pop, err := newPopulation(members)
	if err != nil {
		return err
	}
	e.pop = pop
	e.logger.Info("population initialized",
		"size", pop.Size(),
		"layers", e.cfg.Layers,
		"params_per_network", nn.ParamCount(e.cfg.Layers),
		"resumed_from_champion", e.resumed,
	)
	return nil
}

func (e *Engine) State() State {
	return e.state
}

// Generation is the number of completed generation cycles.
func (e *Engine) Generation() int {
	return e.generation
}

// Resumed reports whether the population was seeded from a saved champion.
func (e *Engine) Resumed() bool {
	return e.resumed
}

func (e *Engine) Population() *Population {
	return e.pop
}

func (e *Engine) Layers() []int {
	return append([]int(nil), e.cfg.Layers...)
}

func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Layers = append([]int(nil), cfg.Layers...)
	return cfg
}

// Network returns member i for the simulation to drive.
func (e *Engine) Network(i int) (*nn.Network, error) {
	if i < 0 || i >= e.pop.Size() {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return e.pop.Member(i), nil
}

// BeginGeneration opens the evaluation phase.
func (e *Engine) BeginGeneration() error {
	if e.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrNotIdle, e.state)
	}
	clear(e.reported)
	e.state = StateEvaluating
	return nil
}

// ReportFitness records the episode outcome of member i. Each member reports
// exactly once per generation.
func (e *Engine) ReportFitness(i int, fitness float32) error {
	if e.state != StateEvaluating {
		return fmt.Errorf("%w: %s", ErrNotEvaluating, e.state)
	}
	if i < 0 || i >= e.pop.Size() {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	if e.reported[i] {
		return fmt.Errorf("%w: member %d", ErrFitnessAlreadyReported, i)
	}
	e.pop.Member(i).SetFitness(fitness)
	e.reported[i] = true
	return nil
}

// EndGeneration ranks the population, persists the champion and replaces the
// lower half: member i becomes a mutated copy of member i+N/2. If the champion
// cannot be saved the engine stays in the evaluation phase with every report
// kept, so the call may be retried.
func (e *Engine) EndGeneration() (GenerationResult, error) {
	if e.state != StateEvaluating {
		return GenerationResult{}, fmt.Errorf("%w: %s", ErrNotEvaluating, e.state)
	}
	for i, ok := range e.reported {
		if !ok {
			return GenerationResult{}, fmt.Errorf("%w: member %d", ErrIncompleteGeneration, i)
		}
	}

	e.state = StateRanking
	e.pop.rank()
	ranked := make([]float32, e.pop.Size())
	for i, member := range e.pop.Members() {
		ranked[i] = member.Fitness()
	}

	e.state = StatePersisting
	champion := e.pop.Champion()
	if err := e.slot.Save(champion); err != nil {
		e.state = StateEvaluating
		return GenerationResult{}, fmt.Errorf("persist champion: %w", err)
	}

	e.state = StateRepopulating
	mutated, err := e.repopulate()
	if err != nil {
		return GenerationResult{}, err
	}

	e.generation++
	e.state = StateIdle
	return GenerationResult{
		Generation:      e.generation,
		RankedFitness:   ranked,
		ChampionFitness: champion.Fitness(),
		MutatedScalars:  mutated,
	}, nil
}

func (e *Engine) repopulate() (int, error) {
	members := e.pop.Members()
	half := len(members) / 2
	mutated := 0
	for i := 0; i < half; i++ {
		child, err := nn.New(e.cfg.Layers, e.rng)
		if err != nil {
			return 0, err
		}
		if _, err := members[i+half].CopyParamsInto(child); err != nil {
			return 0, err
		}
		mutated += child.Mutate(e.rng, e.cfg.MutationChance, e.cfg.MutationStrength)
		members[i] = child
	}
	return mutated, nil
}
