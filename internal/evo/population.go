package evo

import (
	"fmt"

	"neurowalk/internal/nn"
)

// Population is an even-sized, ordered set of networks. After ranking, the
// lower half holds the offspring slots and the upper half the elite that
// survives unchanged into the next generation.
type Population struct {
	members []*nn.Network
}

func newPopulation(members []*nn.Network) (*Population, error) {
	if len(members) == 0 || len(members)%2 != 0 {
		return nil, fmt.Errorf("population size must be even and positive, got %d", len(members))
	}
	return &Population{members: members}, nil
}

func (p *Population) Size() int {
	return len(p.members)
}

func (p *Population) Member(i int) *nn.Network {
	return p.members[i]
}

// Members returns the backing slice; callers must not reorder it.
func (p *Population) Members() []*nn.Network {
	return p.members
}

// Offspring is the lower half, replaced every generation.
func (p *Population) Offspring() []*nn.Network {
	return p.members[:len(p.members)/2]
}

// Elite is the upper half, kept untouched across a generation.
func (p *Population) Elite() []*nn.Network {
	return p.members[len(p.members)/2:]
}

// Champion returns the last member, the fittest once ranked.
func (p *Population) Champion() *nn.Network {
	return p.members[len(p.members)-1]
}

func (p *Population) rank() {
	SortByFitness(p.members)
}
