package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"neurowalk/internal/model"
)

type RunArtifacts struct {
	Run         model.Run
	Generations []model.GenerationRecord
	Champion    *model.ChampionRecord
}

// WriteRunArtifacts exports one run under baseDir/<run id>: the run
// descriptor, the per-generation records as JSON and CSV, and the champion
// snapshot when one exists.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Run); err != nil {
		return "", err
	}
	generations := artifacts.Generations
	if generations == nil {
		generations = []model.GenerationRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, "generations.json"), generations); err != nil {
		return "", err
	}
	if err := writeFitnessCSV(filepath.Join(runDir, "fitness_history.csv"), generations); err != nil {
		return "", err
	}
	if artifacts.Champion != nil {
		if err := writeJSON(filepath.Join(runDir, "champion.json"), artifacts.Champion); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func writeFitnessCSV(path string, records []model.GenerationRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"generation", "best", "mean", "min", "stddev", "mutated_scalars"}); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.Generation),
			formatFloat(r.BestFitness),
			formatFloat(r.MeanFitness),
			formatFloat(r.MinFitness),
			formatFloat(r.StdDevFitness),
			strconv.Itoa(r.MutatedScalars),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
