package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Run describes one evolution run and the configuration it was started with.
type Run struct {
	VersionedRecord
	ID               string  `json:"id"`
	Scape            string  `json:"scape"`
	Layers           []int   `json:"layers"`
	PopulationSize   int     `json:"population_size"`
	MutationChance   float64 `json:"mutation_chance_denominator"`
	MutationStrength float32 `json:"mutation_strength"`
	Seed             int64   `json:"seed"`
	ChampionPath     string  `json:"champion_path"`
	CreatedAtUTC     string  `json:"created_at_utc"`
	GenerationsRun   int     `json:"generations_run"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	ResumedFromSaved bool    `json:"resumed_from_saved"`
}

// GenerationRecord is the fitness summary of one completed generation.
type GenerationRecord struct {
	Generation     int     `json:"generation"`
	BestFitness    float64 `json:"best_fitness"`
	MeanFitness    float64 `json:"mean_fitness"`
	MinFitness     float64 `json:"min_fitness"`
	StdDevFitness  float64 `json:"stddev_fitness"`
	MutatedScalars int     `json:"mutated_scalars"`
}

// ChampionRecord snapshots the latest champion of a run in persisted order.
type ChampionRecord struct {
	VersionedRecord
	RunID      string    `json:"run_id"`
	Generation int       `json:"generation"`
	Fitness    float32   `json:"fitness"`
	Layers     []int     `json:"layers"`
	Parameters []float32 `json:"parameters"`
}
