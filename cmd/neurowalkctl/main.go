package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"neurowalk/internal/stats"
	"neurowalk/internal/storage"
	"neurowalk/pkg/neurowalk"
)

const (
	defaultDBPath     = "neurowalk.db"
	defaultExportsDir = "exports"
	createdAtLayout   = "2006-01-02T15:04:05.000000000Z07:00"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "champion":
		return runChampion(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := neurowalk.New(neurowalk.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config file (.ini, .yaml, .yml or .json)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	scapeName := fs.String("scape", "walker", "scape name")
	layers := fs.String("layers", "8,6,5", "comma-separated layer widths, input first")
	population := fs.Int("pop", 50, "population size (odd or zero falls back to 50)")
	generations := fs.Int("gens", 10, "generation count")
	denominator := fs.Float64("mutation-denominator", 100, "mutation chance denominator")
	chance := fs.Float64("mutation-chance", 0, "mutation probability; converted to a denominator when set")
	strength := fs.Float64("mutation-strength", neurowalk.DefaultMutationStrength, "mutation perturbation bound (0 disables perturbation)")
	championPath := fs.String("champion", "champion.txt", "champion file path")
	seed := fs.Int64("seed", 1, "rng seed")
	fitnessGoal := fs.Float64("fitness-goal", 0, "early-stop champion fitness goal (0 disables)")
	ticks := fs.Int("ticks", 0, "walker episode ticks (0 uses the scape default)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg := runConfig{
		RunID:               *runID,
		Scape:               *scapeName,
		PopulationSize:      *population,
		Generations:         *generations,
		MutationDenominator: *denominator,
		MutationChance:      *chance,
		MutationStrength:    *strength,
		ChampionPath:        *championPath,
		Seed:                *seed,
		FitnessGoal:         *fitnessGoal,
		EpisodeTicks:        *ticks,
	}
	parsedLayers, err := parseLayers(*layers)
	if err != nil {
		return err
	}
	cfg.Layers = parsedLayers
	if setFlags["mutation-chance"] && !setFlags["mutation-denominator"] {
		cfg.MutationDenominator = 0
	}

	if *configPath != "" {
		fileCfg, fileKeys, err := loadRunConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = mergeRunConfig(fileCfg, fileKeys, cfg, setFlags)
	}
	req, err := cfg.request()
	if err != nil {
		return err
	}

	metrics := stats.NewMetrics()
	if *metricsAddr != "" {
		shutdown, err := serveMetrics(*metricsAddr, metrics)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	client, err := neurowalk.New(neurowalk.Options{
		StoreKind: *storeKind,
		DBPath:    *dbPath,
		Logger:    newLogger(os.Stderr),
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("run_id=%s generations=%d resumed=%t goal_reached=%t final_best_fitness=%.6f champion=%s\n",
		summary.RunID,
		len(summary.BestByGeneration),
		summary.Resumed,
		summary.GoalReached,
		summary.FinalBestFitness,
		summary.ChampionPath,
	)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := neurowalk.New(neurowalk.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, neurowalk.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	for _, r := range runs {
		fmt.Printf("run_id=%s created=%s scape=%s layers=%s pop=%d gens=%d resumed=%t final_best_fitness=%.6f\n",
			r.ID,
			humanizeCreatedAt(r.CreatedAtUTC),
			r.Scape,
			formatLayers(r.Layers),
			r.PopulationSize,
			r.GenerationsRun,
			r.ResumedFromSaved,
			r.FinalBestFitness,
		)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show history for the most recent run")
	limit := fs.Int("limit", 0, "max generations to print, most recent last (0 for all)")
	jsonOut := fs.Bool("json", false, "emit generation history as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("history requires --run-id or --latest")
	}

	client, err := neurowalk.New(neurowalk.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, neurowalk.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	for _, g := range history {
		fmt.Printf("generation=%d best=%.6f mean=%.6f min=%.6f stddev=%.6f mutated=%s\n",
			g.Generation,
			g.BestFitness,
			g.MeanFitness,
			g.MinFitness,
			g.StdDevFitness,
			humanize.Comma(int64(g.MutatedScalars)),
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", defaultExportsDir, "export output directory")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := neurowalk.New(neurowalk.Options{StoreKind: *storeKind, DBPath: *dbPath, ExportsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, neurowalk.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runChampion(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("champion", flag.ContinueOnError)
	path := fs.String("path", "champion.txt", "champion file path")
	layers := fs.String("layers", "8,6,5", "comma-separated layer widths, input first")
	ticks := fs.Int("ticks", 0, "walker episode ticks for the replay (0 uses the scape default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	parsedLayers, err := parseLayers(*layers)
	if err != nil {
		return err
	}

	client, err := neurowalk.New(neurowalk.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Champion(ctx, neurowalk.ChampionRequest{Path: *path, Layers: parsedLayers, Ticks: *ticks})
	if err != nil {
		return err
	}
	if !summary.Loaded {
		fmt.Printf("no champion stored at %s\n", summary.Path)
		return nil
	}
	if summary.Trace == nil {
		fmt.Printf("champion=%s params=%s replay=skipped\n", summary.Path, humanize.Comma(int64(summary.ParamCount)))
		return nil
	}
	fmt.Printf("champion=%s params=%s fitness=%.6f distance=%v steps=%v fallen=%v ticks=%v\n",
		summary.Path,
		humanize.Comma(int64(summary.ParamCount)),
		summary.Fitness,
		summary.Trace["distance"],
		summary.Trace["steps"],
		summary.Trace["fallen"],
		summary.Trace["ticks"],
	)
	return nil
}

// newLogger writes human-readable records to a terminal and JSON otherwise.
func newLogger(f *os.File) *slog.Logger {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(f, nil))
	}
	return slog.New(slog.NewJSONHandler(f, nil))
}

func serveMetrics(addr string, metrics *stats.Metrics) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.Serve(ln)
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func parseLayers(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	layers := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		width, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid layer width %q: %w", part, err)
		}
		layers = append(layers, width)
	}
	if len(layers) == 0 {
		return nil, errors.New("at least one layer width is required")
	}
	return layers, nil
}

func formatLayers(layers []int) string {
	parts := make([]string, len(layers))
	for i, width := range layers {
		parts[i] = strconv.Itoa(width)
	}
	return strings.Join(parts, ",")
}

func humanizeCreatedAt(value string) string {
	t, err := time.Parse(createdAtLayout, value)
	if err != nil {
		return value
	}
	return humanize.Time(t)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: neurowalkctl <init|run|runs|history|export|champion> [flags]", msg)
}
