package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"neurowalk/pkg/neurowalk"
)

// runConfigSection is the ini section holding run options.
const runConfigSection = "run"

// runConfig is the file and flag surface of the run command. Zero values
// mean unset.
type runConfig struct {
	RunID               string  `ini:"run_id" yaml:"run_id" json:"run_id"`
	Scape               string  `ini:"scape" yaml:"scape" json:"scape"`
	PopulationSize      int     `ini:"population_size" yaml:"population_size" json:"population_size"`
	Layers              []int   `ini:"layers" delim:"," yaml:"layers" json:"layers"`
	MutationDenominator float64 `ini:"mutation_denominator" yaml:"mutation_denominator" json:"mutation_denominator"`
	// MutationChance is a probability; it only applies when no denominator
	// is configured.
	MutationChance   float64 `ini:"mutation_chance" yaml:"mutation_chance" json:"mutation_chance"`
	MutationStrength float64 `ini:"mutation_strength" yaml:"mutation_strength" json:"mutation_strength"`
	ChampionPath     string  `ini:"champion_path" yaml:"champion_path" json:"champion_path"`
	Generations      int     `ini:"generations" yaml:"generations" json:"generations"`
	Seed             int64   `ini:"seed" yaml:"seed" json:"seed"`
	FitnessGoal      float64 `ini:"fitness_goal" yaml:"fitness_goal" json:"fitness_goal"`
	EpisodeTicks     int     `ini:"episode_ticks" yaml:"episode_ticks" json:"episode_ticks"`
}

// loadRunConfig reads a run config, picking the decoder from the file
// extension. It also reports which keys the file sets, so an explicit zero
// is not mistaken for an absent value.
func loadRunConfig(path string) (runConfig, map[string]bool, error) {
	var cfg runConfig
	keys := make(map[string]bool)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".ini":
		file, err := ini.LoadSources(ini.LoadOptions{
			IgnoreInlineComment:         true,
			UnescapeValueCommentSymbols: true,
		}, path)
		if err != nil {
			return runConfig{}, nil, fmt.Errorf("failed to load config file '%s': %w", path, err)
		}
		section := file.Section(runConfigSection)
		if err := section.MapTo(&cfg); err != nil {
			return runConfig{}, nil, fmt.Errorf("map [%s] section: %w", runConfigSection, err)
		}
		for _, name := range section.KeyStrings() {
			keys[name] = true
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return runConfig{}, nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return runConfig{}, nil, err
		}
		var present map[string]any
		if err := yaml.Unmarshal(data, &present); err != nil {
			return runConfig{}, nil, err
		}
		for name := range present {
			keys[name] = true
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return runConfig{}, nil, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return runConfig{}, nil, err
		}
		var present map[string]json.RawMessage
		if err := json.Unmarshal(data, &present); err != nil {
			return runConfig{}, nil, err
		}
		for name := range present {
			keys[name] = true
		}
	default:
		return runConfig{}, nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, keys, nil
}

// mergeRunConfig starts from the flag values, takes every key the file sets
// unless the matching flag was given explicitly, and leaves the flag
// defaults for keys the file omits.
func mergeRunConfig(file runConfig, keys map[string]bool, flags runConfig, set map[string]bool) runConfig {
	out := flags
	fromFile := func(flagName, key string) bool {
		return keys[key] && !set[flagName]
	}

	if fromFile("run-id", "run_id") {
		out.RunID = file.RunID
	}
	if fromFile("scape", "scape") {
		out.Scape = file.Scape
	}
	if fromFile("champion", "champion_path") {
		out.ChampionPath = file.ChampionPath
	}
	if fromFile("pop", "population_size") {
		out.PopulationSize = file.PopulationSize
	}
	if fromFile("gens", "generations") {
		out.Generations = file.Generations
	}
	if fromFile("ticks", "episode_ticks") {
		out.EpisodeTicks = file.EpisodeTicks
	}
	if fromFile("mutation-strength", "mutation_strength") {
		out.MutationStrength = file.MutationStrength
	}
	if fromFile("fitness-goal", "fitness_goal") {
		out.FitnessGoal = file.FitnessGoal
	}
	if fromFile("seed", "seed") {
		out.Seed = file.Seed
	}
	if fromFile("layers", "layers") {
		out.Layers = append([]int(nil), file.Layers...)
	}
	// The denominator and the chance are one setting; an explicit flag for
	// either overrides both file keys.
	if !set["mutation-denominator"] && !set["mutation-chance"] &&
		(keys["mutation_denominator"] || keys["mutation_chance"]) {
		out.MutationDenominator = file.MutationDenominator
		out.MutationChance = file.MutationChance
	}
	return out
}

// denominator resolves the mutation chance denominator. A probability is
// converted by truncating its reciprocal.
func (c runConfig) denominator() (float64, error) {
	if c.MutationDenominator > 0 {
		return c.MutationDenominator, nil
	}
	if c.MutationChance > 0 {
		if c.MutationChance > 1 {
			return 0, fmt.Errorf("mutation chance must be in (0, 1], got %v", c.MutationChance)
		}
		return math.Trunc(1 / c.MutationChance), nil
	}
	return 0, fmt.Errorf("mutation denominator or chance is required")
}

func (c runConfig) request() (neurowalk.RunRequest, error) {
	denominator, err := c.denominator()
	if err != nil {
		return neurowalk.RunRequest{}, err
	}
	if c.PopulationSize < 0 {
		return neurowalk.RunRequest{}, fmt.Errorf("population size must be >= 0, got %d", c.PopulationSize)
	}
	if c.Generations <= 0 {
		return neurowalk.RunRequest{}, fmt.Errorf("generations must be > 0, got %d", c.Generations)
	}
	if c.MutationStrength < 0 {
		return neurowalk.RunRequest{}, fmt.Errorf("mutation strength must be >= 0, got %v", c.MutationStrength)
	}
	return neurowalk.RunRequest{
		RunID:            c.RunID,
		Scape:            c.Scape,
		Layers:           append([]int(nil), c.Layers...),
		Population:       c.PopulationSize,
		Generations:      c.Generations,
		Seed:             c.Seed,
		MutationChance:   denominator,
		MutationStrength: float32(c.MutationStrength),
		ChampionPath:     c.ChampionPath,
		FitnessGoal:      c.FitnessGoal,
		EpisodeTicks:     c.EpisodeTicks,
	}, nil
}
