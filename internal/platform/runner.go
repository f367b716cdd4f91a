package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"neurowalk/internal/evo"
	"neurowalk/internal/model"
	"neurowalk/internal/nn"
	"neurowalk/internal/scape"
	"neurowalk/internal/stats"
	"neurowalk/internal/storage"
)

// createdAtLayout keeps a fixed width so timestamps sort lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrNotInitialized = errors.New("runner is not initialized")
	ErrRunExists      = errors.New("run id already recorded")
)

type Config struct {
	Store   storage.Store
	Scapes  []scape.Scape
	Metrics *stats.Metrics
	Logger  *slog.Logger
}

type EvolutionConfig struct {
	RunID        string
	ScapeName    string
	Engine       evo.Config
	Generations  int
	ChampionPath string
	// FitnessGoal stops the run once a champion reaches it; values <= 0
	// disable the check.
	FitnessGoal float64
}

type EvolutionResult struct {
	RunID            string
	Generations      []model.GenerationRecord
	BestFinalFitness float64
	Resumed          bool
	GoalReached      bool
	Champion         model.ChampionRecord
}

// Runner owns the run history store and the registered scapes, and drives an
// evo.Engine through whole generations.
type Runner struct {
	store   storage.Store
	metrics *stats.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	scapes  map[string]scape.Scape
	started bool
	config  Config
}

func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  logger,
		scapes:  make(map[string]scape.Scape),
		config:  cfg,
	}
}

func (r *Runner) Init(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("store is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.store.Init(ctx); err != nil {
		return err
	}

	scapes := make(map[string]scape.Scape, len(r.config.Scapes))
	for i, s := range r.config.Scapes {
		if s == nil {
			return fmt.Errorf("scape is nil at index %d", i)
		}
		name := s.Name()
		if name == "" {
			return fmt.Errorf("scape name is required at index %d", i)
		}
		if _, exists := scapes[name]; exists {
			return fmt.Errorf("duplicate scape: %s", name)
		}
		scapes[name] = s
	}
	r.scapes = scapes
	r.started = true
	return nil
}

func (r *Runner) RegisterScape(s scape.Scape) error {
	if s == nil {
		return fmt.Errorf("scape is nil")
	}
	name := s.Name()
	if name == "" {
		return fmt.Errorf("scape name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return ErrNotInitialized
	}
	r.scapes[name] = s
	return nil
}

func (r *Runner) GetScape(name string) (scape.Scape, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scapes[name]
	return s, ok
}

func (r *Runner) Store() storage.Store {
	return r.store
}

func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	r.scapes = make(map[string]scape.Scape)
}

// RunEvolution evaluates every member sequentially once per generation,
// records each generation summary and the champion snapshot in the store, and
// writes the champion file through the engine. The run descriptor is saved
// before the first generation and again with the final totals. A run id that
// is already recorded is rejected with ErrRunExists.
func (r *Runner) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if cfg.RunID == "" {
		return EvolutionResult{}, fmt.Errorf("run id is required")
	}
	if cfg.ScapeName == "" {
		return EvolutionResult{}, fmt.Errorf("scape name is required")
	}
	if cfg.ChampionPath == "" {
		return EvolutionResult{}, fmt.Errorf("champion path is required")
	}
	if cfg.Generations < 0 {
		return EvolutionResult{}, fmt.Errorf("generations must be >= 0, got %d", cfg.Generations)
	}

	r.mu.RLock()
	target, ok := r.scapes[cfg.ScapeName]
	started := r.started
	r.mu.RUnlock()
	if !started {
		return EvolutionResult{}, ErrNotInitialized
	}
	if !ok {
		return EvolutionResult{}, fmt.Errorf("scape not registered: %s", cfg.ScapeName)
	}
	if err := checkShape(target, cfg.Engine.Layers); err != nil {
		return EvolutionResult{}, err
	}

	_, exists, err := r.store.GetRun(ctx, cfg.RunID)
	if err != nil {
		return EvolutionResult{}, err
	}
	if exists {
		return EvolutionResult{}, fmt.Errorf("%w: %s", ErrRunExists, cfg.RunID)
	}

	logger := r.logger.With("run_id", cfg.RunID, "scape", cfg.ScapeName)
	engine, err := evo.NewEngine(cfg.Engine, storage.NewChampionFile(cfg.ChampionPath), logger)
	if err != nil {
		return EvolutionResult{}, err
	}
	engineCfg := engine.Config()

	run := model.Run{
		VersionedRecord:  storage.Versioned(),
		ID:               cfg.RunID,
		Scape:            cfg.ScapeName,
		Layers:           engineCfg.Layers,
		PopulationSize:   engineCfg.PopulationSize,
		MutationChance:   engineCfg.MutationChance,
		MutationStrength: engineCfg.MutationStrength,
		Seed:             engineCfg.Seed,
		ChampionPath:     cfg.ChampionPath,
		CreatedAtUTC:     time.Now().UTC().Format(createdAtLayout),
		ResumedFromSaved: engine.Resumed(),
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		return EvolutionResult{}, err
	}

	result := EvolutionResult{
		RunID:   cfg.RunID,
		Resumed: engine.Resumed(),
	}
	for gen := 0; gen < cfg.Generations; gen++ {
		record, err := r.runGeneration(ctx, engine, target)
		if err != nil {
			return result, fmt.Errorf("generation %d: %w", gen+1, err)
		}
		if err := r.store.AppendGeneration(ctx, cfg.RunID, record); err != nil {
			return result, err
		}

		champion := engine.Population().Champion()
		snapshot := model.ChampionRecord{
			VersionedRecord: storage.Versioned(),
			RunID:           cfg.RunID,
			Generation:      record.Generation,
			Fitness:         champion.Fitness(),
			Layers:          champion.Layers(),
			Parameters:      champion.Parameters(),
		}
		if err := r.store.SaveChampion(ctx, snapshot); err != nil {
			return result, err
		}
		if r.metrics != nil {
			r.metrics.ObserveGeneration(cfg.RunID, record)
		}
		logger.Info("generation complete",
			"generation", record.Generation,
			"best", record.BestFitness,
			"mean", record.MeanFitness,
			"min", record.MinFitness,
			"mutated_scalars", record.MutatedScalars,
		)

		result.Generations = append(result.Generations, record)
		result.Champion = snapshot
		result.BestFinalFitness = record.BestFitness
		if cfg.FitnessGoal > 0 && record.BestFitness >= cfg.FitnessGoal {
			result.GoalReached = true
			logger.Info("fitness goal reached", "goal", cfg.FitnessGoal, "generation", record.Generation)
			break
		}
	}

	run.GenerationsRun = len(result.Generations)
	run.FinalBestFitness = result.BestFinalFitness
	if err := r.store.SaveRun(ctx, run); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) runGeneration(ctx context.Context, engine *evo.Engine, target scape.Scape) (model.GenerationRecord, error) {
	if err := engine.BeginGeneration(); err != nil {
		return model.GenerationRecord{}, err
	}
	for i := 0; i < engine.Population().Size(); i++ {
		if err := ctx.Err(); err != nil {
			return model.GenerationRecord{}, err
		}
		net, err := engine.Network(i)
		if err != nil {
			return model.GenerationRecord{}, err
		}
		fitness, _, err := target.Episode(ctx, net)
		if err != nil {
			return model.GenerationRecord{}, fmt.Errorf("episode for member %d: %w", i, err)
		}
		if err := engine.ReportFitness(i, fitness); err != nil {
			return model.GenerationRecord{}, err
		}
		if r.metrics != nil {
			r.metrics.ObserveEpisode()
		}
	}

	gen, err := engine.EndGeneration()
	if err != nil {
		return model.GenerationRecord{}, err
	}
	return stats.Summarize(gen.Generation, gen.RankedFitness, gen.MutatedScalars), nil
}

// checkShape rejects topologies whose input or output width does not match a
// scape with a fixed observation and action size.
func checkShape(s scape.Scape, layers []int) error {
	if err := nn.ValidateLayers(layers); err != nil {
		return err
	}
	shaped, ok := s.(scape.Shape)
	if !ok {
		return nil
	}
	if in := layers[0]; in != shaped.ObservationSize() {
		return fmt.Errorf("%w: scape %s observes %d values, input layer has %d", nn.ErrTopologyMismatch, s.Name(), shaped.ObservationSize(), in)
	}
	if out := layers[len(layers)-1]; out != shaped.ActionSize() {
		return fmt.Errorf("%w: scape %s takes %d actions, output layer has %d", nn.ErrTopologyMismatch, s.Name(), shaped.ActionSize(), out)
	}
	return nil
}
