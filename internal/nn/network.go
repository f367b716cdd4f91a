package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

const (
	initRange = 0.5

	// mutationThreshold is compared against a draw in [0, chanceDenominator).
	// The realised per-scalar probability is min(1, (mutationThreshold+1)/chanceDenominator).
	mutationThreshold = 5
)

var (
	ErrInvalidTopology  = errors.New("invalid network topology")
	ErrInvalidInput     = errors.New("invalid network input")
	ErrTopologyMismatch = errors.New("network topology mismatch")
)

// Network is a fixed-topology dense feedforward network with tanh activations.
//
// Biases and weights are stored in flat buffers. For layer i >= 1 the biases of
// that layer start at biasOffsets[i] and the weights at weightOffsets[i]; within
// a layer weights are row-major by destination neuron, so the buffers are
// already in persisted order.
type Network struct {
	layers []int

	biasOffsets   []int
	weightOffsets []int
	actOffsets    []int

	biases      []float32
	weights     []float32
	activations []float32

	fitness float32
}

// New builds a network with the given layer widths (input first) and draws every
// bias and weight uniformly from [-0.5, 0.5].
func New(layers []int, rng *rand.Rand) (*Network, error) {
	if err := ValidateLayers(layers); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}

	n := &Network{
		layers:        slices.Clone(layers),
		biasOffsets:   make([]int, len(layers)),
		weightOffsets: make([]int, len(layers)),
		actOffsets:    make([]int, len(layers)),
	}

	biasCount, weightCount, actCount := 0, 0, layers[0]
	for i := 1; i < len(layers); i++ {
		n.biasOffsets[i] = biasCount
		n.weightOffsets[i] = weightCount
		n.actOffsets[i] = actCount
		biasCount += layers[i]
		weightCount += layers[i] * layers[i-1]
		actCount += layers[i]
	}
	n.biases = make([]float32, biasCount)
	n.weights = make([]float32, weightCount)
	n.activations = make([]float32, actCount)

	for i := range n.biases {
		n.biases[i] = uniform(rng, initRange)
	}
	for i := range n.weights {
		n.weights[i] = uniform(rng, initRange)
	}
	return n, nil
}

// ValidateLayers reports ErrInvalidTopology unless layers is non-empty and
// every width is at least one.
func ValidateLayers(layers []int) error {
	if len(layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidTopology)
	}
	for i, width := range layers {
		if width < 1 {
			return fmt.Errorf("%w: layer %d has width %d", ErrInvalidTopology, i, width)
		}
	}
	return nil
}

// ParamCount returns the number of trainable scalars for the given widths.
func ParamCount(layers []int) int {
	total := 0
	for i := 1; i < len(layers); i++ {
		total += layers[i] + layers[i]*layers[i-1]
	}
	return total
}

// Layers returns a copy of the layer widths.
func (n *Network) Layers() []int {
	return slices.Clone(n.layers)
}

func (n *Network) InputSize() int {
	return n.layers[0]
}

func (n *Network) OutputSize() int {
	return n.layers[len(n.layers)-1]
}

func (n *Network) ParamCount() int {
	return len(n.biases) + len(n.weights)
}

func (n *Network) Fitness() float32 {
	return n.fitness
}

func (n *Network) SetFitness(fitness float32) {
	n.fitness = fitness
}

// SameTopology reports whether other has identical layer widths.
func (n *Network) SameTopology(other *Network) bool {
	return other != nil && slices.Equal(n.layers, other.layers)
}

// FeedForward runs one inference pass. The returned slice aliases the output
// activation buffer and is overwritten by the next call.
func (n *Network) FeedForward(input []float32) ([]float32, error) {
	if len(input) != n.layers[0] {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrInvalidInput, len(input), n.layers[0])
	}
	copy(n.activations[:n.layers[0]], input)

	prevStart := 0
	for i := 1; i < len(n.layers); i++ {
		prevWidth := n.layers[i-1]
		prev := n.activations[prevStart : prevStart+prevWidth]
		cur := n.activations[n.actOffsets[i] : n.actOffsets[i]+n.layers[i]]
		biases := n.biases[n.biasOffsets[i] : n.biasOffsets[i]+n.layers[i]]
		weights := n.weights[n.weightOffsets[i] : n.weightOffsets[i]+n.layers[i]*prevWidth]

		for j := range cur {
			row := weights[j*prevWidth : (j+1)*prevWidth]
			var sum float32
			for k, w := range row {
				sum += w * prev[k]
			}
			cur[j] = float32(math.Tanh(float64(sum + biases[j])))
		}
		prevStart = n.actOffsets[i]
	}

	last := len(n.layers) - 1
	return n.activations[n.actOffsets[last] : n.actOffsets[last]+n.layers[last]], nil
}

// CopyParamsInto deep-copies biases and weights into target and returns it.
// Fitness, activations and topology of target are left alone.
func (n *Network) CopyParamsInto(target *Network) (*Network, error) {
	if !n.SameTopology(target) {
		return nil, fmt.Errorf("%w: source %v", ErrTopologyMismatch, n.layers)
	}
	copy(target.biases, n.biases)
	copy(target.weights, n.weights)
	return target, nil
}

// Mutate visits every bias then every weight. For each scalar it draws a whole
// number u uniformly from [0, chanceDenominator) and, when u <= 5, adds a uniform
// perturbation from [-strength, strength]. It returns the number of perturbed
// scalars.
func (n *Network) Mutate(rng *rand.Rand, chanceDenominator float64, strength float32) int {
	mutated := 0
	for _, buf := range [][]float32{n.biases, n.weights} {
		for i := range buf {
			if math.Floor(rng.Float64()*chanceDenominator) <= mutationThreshold {
				buf[i] += uniform(rng, strength)
				mutated++
			}
		}
	}
	return mutated
}

// Parameters returns every bias followed by every weight in persisted order.
func (n *Network) Parameters() []float32 {
	out := make([]float32, 0, n.ParamCount())
	out = append(out, n.biases...)
	return append(out, n.weights...)
}

// SetParameters overwrites biases and weights from values laid out as
// Parameters returns them.
func (n *Network) SetParameters(values []float32) error {
	if len(values) != n.ParamCount() {
		return fmt.Errorf("%w: got %d parameters, want %d", ErrTopologyMismatch, len(values), n.ParamCount())
	}
	copy(n.biases, values[:len(n.biases)])
	copy(n.weights, values[len(n.biases):])
	return nil
}

// Bias returns the bias of neuron j in layer i (i >= 1).
func (n *Network) Bias(i, j int) float32 {
	return n.biases[n.biasOffsets[i]+j]
}

// Weight returns the weight from neuron k of layer i-1 into neuron j of layer i.
func (n *Network) Weight(i, j, k int) float32 {
	return n.weights[n.weightOffsets[i]+j*n.layers[i-1]+k]
}

func (n *Network) SetBias(i, j int, value float32) {
	n.biases[n.biasOffsets[i]+j] = value
}

func (n *Network) SetWeight(i, j, k int, value float32) {
	n.weights[n.weightOffsets[i]+j*n.layers[i-1]+k] = value
}

func uniform(rng *rand.Rand, bound float32) float32 {
	return (rng.Float32()*2 - 1) * bound
}
