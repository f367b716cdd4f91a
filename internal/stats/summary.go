package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"neurowalk/internal/model"
)

// Summarize reduces the fitness values of one generation to a record. NaN
// values are excluded from the statistics.
func Summarize(generation int, fitness []float32, mutatedScalars int) model.GenerationRecord {
	values := make([]float64, 0, len(fitness))
	for _, f := range fitness {
		if math.IsNaN(float64(f)) {
			continue
		}
		values = append(values, float64(f))
	}

	record := model.GenerationRecord{
		Generation:     generation,
		MutatedScalars: mutatedScalars,
	}
	if len(values) == 0 {
		return record
	}

	record.BestFitness = floats.Max(values)
	record.MinFitness = floats.Min(values)
	if len(values) == 1 {
		record.MeanFitness = values[0]
		return record
	}
	record.MeanFitness, record.StdDevFitness = stat.PopMeanStdDev(values, nil)
	return record
}
