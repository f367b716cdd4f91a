package neurowalk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/google/uuid"

	"neurowalk/internal/evo"
	"neurowalk/internal/model"
	"neurowalk/internal/nn"
	"neurowalk/internal/platform"
	"neurowalk/internal/scape"
	"neurowalk/internal/stats"
	"neurowalk/internal/storage"
)

const (
	defaultDBPath         = "neurowalk.db"
	defaultExportsDir     = "exports"
	defaultChampionPath   = "champion.txt"
	defaultScape          = "walker"
	defaultGenerations    = 10
	defaultMutationChance = 100
)

// DefaultMutationStrength is the perturbation bound the CLI starts from.
const DefaultMutationStrength = 0.5

// DefaultLayers is the walker topology: eight observations, one hidden layer
// of six neurons and five motor outputs.
var DefaultLayers = []int{8, 6, 5}

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
	Logger     *slog.Logger
	Metrics    *stats.Metrics
}

type Client struct {
	store   storage.Store
	runner  *platform.Runner
	logger  *slog.Logger
	metrics *stats.Metrics

	exportsDir string
}

// RunRequest configures one run. Zero values of RunID, Scape, Layers,
// Generations, MutationChance and ChampionPath select the defaults; a
// population of 0 selects the engine default. MutationStrength is used as
// given, so 0 disables perturbation.
type RunRequest struct {
	RunID            string
	Scape            string
	Layers           []int
	Population       int
	Generations      int
	Seed             int64
	MutationChance   float64
	MutationStrength float32
	ChampionPath     string
	FitnessGoal      float64
	// EpisodeTicks overrides the walker episode length when positive.
	EpisodeTicks int
}

type RunSummary struct {
	RunID            string
	Resumed          bool
	GoalReached      bool
	BestByGeneration []float64
	FinalBestFitness float64
	ChampionPath     string
}

type RunsRequest struct {
	Limit int
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ChampionRequest struct {
	Path   string
	Layers []int
	Ticks  int
}

type ChampionSummary struct {
	Path       string
	Loaded     bool
	ParamCount int
	Fitness    float32
	Trace      scape.Trace
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureRunner(ctx)
	return err
}

// Run evolves a population on the requested scape. Unset fields take the
// walker defaults described on RunRequest; a missing run id is generated.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Scape == "" {
		req.Scape = defaultScape
	}
	if len(req.Layers) == 0 {
		req.Layers = DefaultLayers
	}
	if req.Generations < 0 {
		return RunSummary{}, fmt.Errorf("generations must be >= 0, got %d", req.Generations)
	}
	if req.Generations == 0 {
		req.Generations = defaultGenerations
	}
	if req.MutationChance == 0 {
		req.MutationChance = defaultMutationChance
	}
	if req.ChampionPath == "" {
		req.ChampionPath = defaultChampionPath
	}

	runner, err := c.ensureRunner(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	if req.Scape == defaultScape {
		if err := runner.RegisterScape(scape.WalkerScape{Ticks: req.EpisodeTicks}); err != nil {
			return RunSummary{}, err
		}
	}

	result, err := runner.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:        req.RunID,
		ScapeName:    req.Scape,
		Generations:  req.Generations,
		ChampionPath: req.ChampionPath,
		FitnessGoal:  req.FitnessGoal,
		Engine: evo.Config{
			PopulationSize:   req.Population,
			Layers:           req.Layers,
			MutationChance:   req.MutationChance,
			MutationStrength: req.MutationStrength,
			Seed:             req.Seed,
		},
	})
	if err != nil {
		return RunSummary{}, err
	}

	best := make([]float64, 0, len(result.Generations))
	for _, record := range result.Generations {
		best = append(best, record.BestFitness)
	}
	return RunSummary{
		RunID:            result.RunID,
		Resumed:          result.Resumed,
		GoalReached:      result.GoalReached,
		BestByGeneration: best,
		FinalBestFitness: result.BestFinalFitness,
		ChampionPath:     req.ChampionPath,
	}, nil
}

// Runs lists recorded runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.Run, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if req.Limit == 0 {
		req.Limit = 20
	}
	if _, err := c.ensureRunner(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

// History returns the per-generation summaries of one run. With Limit set
// only the most recent generations are kept.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.GenerationRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	records, ok, err := c.store.GetGenerations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("generation history not found for run %s", runID)
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[len(records)-req.Limit:]
	}
	return records, nil
}

// Export writes the run descriptor, generation history and champion snapshot
// of one run as JSON and CSV files.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok {
		return ExportSummary{}, fmt.Errorf("run not found: %s", runID)
	}
	records, _, err := c.store.GetGenerations(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	artifacts := stats.RunArtifacts{Run: run, Generations: records}
	champion, ok, err := c.store.GetChampion(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if ok {
		artifacts.Champion = &champion
	}

	dir, err := stats.WriteRunArtifacts(req.OutDir, artifacts)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}

// Champion loads a champion file into a network of the given topology and
// replays one walker episode with it.
func (c *Client) Champion(ctx context.Context, req ChampionRequest) (ChampionSummary, error) {
	if req.Path == "" {
		req.Path = defaultChampionPath
	}
	if len(req.Layers) == 0 {
		req.Layers = DefaultLayers
	}
	net, err := nn.New(req.Layers, rand.New(rand.NewSource(1)))
	if err != nil {
		return ChampionSummary{}, err
	}
	loaded, err := storage.NewChampionFile(req.Path).Load(net)
	if err != nil {
		return ChampionSummary{}, err
	}
	summary := ChampionSummary{Path: req.Path, Loaded: loaded, ParamCount: net.ParamCount()}
	if !loaded {
		return summary, nil
	}

	walker := scape.WalkerScape{Ticks: req.Ticks}
	if net.InputSize() != walker.ObservationSize() || net.OutputSize() != walker.ActionSize() {
		return summary, nil
	}
	fitness, trace, err := walker.Episode(ctx, net)
	if err != nil {
		return ChampionSummary{}, err
	}
	summary.Fitness = fitness
	summary.Trace = trace
	return summary, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if _, err := c.ensureRunner(ctx); err != nil {
		return "", err
	}
	if runID != "" {
		return runID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs recorded")
	}
	return runs[0].ID, nil
}

func (c *Client) ensureRunner(ctx context.Context) (*platform.Runner, error) {
	if c.runner != nil {
		return c.runner, nil
	}
	r := platform.NewRunner(platform.Config{
		Store:   c.store,
		Scapes:  []scape.Scape{scape.WalkerScape{}, scape.XORScape{}},
		Metrics: c.metrics,
		Logger:  c.logger,
	})
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	c.runner = r
	return c.runner, nil
}
