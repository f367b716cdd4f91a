package scape

import (
	"context"
	"fmt"
	"strings"
)

// XORScape scores a two-input, one-output controller on the XOR truth table.
// Fitness is the reciprocal of the summed squared error.
type XORScape struct {
	// Mode selects the case ordering: "gt" (default), "validation" or "test".
	Mode string
}

func (XORScape) Name() string {
	return "xor"
}

func (XORScape) ObservationSize() int {
	return 2
}

func (XORScape) ActionSize() int {
	return 1
}

type xorCase struct {
	in   []float32
	want float64
}

type xorModeConfig struct {
	mode  string
	cases []xorCase
}

func xorConfigForMode(mode string) (xorModeConfig, error) {
	base := []xorCase{
		{in: []float32{0, 0}, want: 0},
		{in: []float32{0, 1}, want: 1},
		{in: []float32{1, 0}, want: 1},
		{in: []float32{1, 1}, want: 0},
	}

	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "gt":
		return xorModeConfig{mode: "gt", cases: base}, nil
	case "validation":
		return xorModeConfig{
			mode: "validation",
			cases: []xorCase{
				base[1], base[2], base[0], base[3], base[1], base[2],
			},
		}, nil
	case "test":
		return xorModeConfig{
			mode: "test",
			cases: []xorCase{
				base[3], base[2], base[1], base[0], base[3], base[0], base[2], base[1],
			},
		}, nil
	default:
		return xorModeConfig{}, fmt.Errorf("unsupported xor mode: %s", mode)
	}
}

func (s XORScape) Episode(ctx context.Context, ctrl Controller) (float32, Trace, error) {
	cfg, err := xorConfigForMode(s.Mode)
	if err != nil {
		return 0, nil, err
	}

	var sse float64
	predictions := make([]float64, 0, len(cfg.cases))
	for _, c := range cfg.cases {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		out, err := ctrl.FeedForward(c.in)
		if err != nil {
			return 0, nil, err
		}
		if len(out) != 1 {
			return 0, nil, fmt.Errorf("xor requires one output, got %d", len(out))
		}
		predicted := float64(out[0])
		predictions = append(predictions, predicted)
		delta := predicted - c.want
		sse += delta * delta
	}

	fitness := float32(1.0 / (sse + 0.000001))
	return fitness, Trace{
		"mse":         sse / float64(len(cfg.cases)),
		"sse":         sse,
		"predictions": predictions,
		"mode":        cfg.mode,
		"cases":       len(cfg.cases),
	}, nil
}
