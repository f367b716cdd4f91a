package scape

import "context"

type Trace map[string]any

// Controller produces one action vector per observation vector. *nn.Network
// satisfies it.
type Controller interface {
	FeedForward(input []float32) ([]float32, error)
}

// Scape runs one full episode for a controller and reports its fitness.
type Scape interface {
	Name() string
	Episode(ctx context.Context, ctrl Controller) (float32, Trace, error)
}

// Shape is implemented by scapes with a fixed observation/action width.
type Shape interface {
	ObservationSize() int
	ActionSize() int
}
