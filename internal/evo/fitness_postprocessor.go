package evo

import (
	"fmt"
	"math"
	"strings"
)

const sizeProportionalEfficiency = 0.05

// FitnessPostprocessor adjusts fitness after a generation is played and
// before it is ranked. Result.Fitness keeps the game fitness.
type FitnessPostprocessor interface {
	Name() string
	Process(scored []ScoredGenome) []ScoredGenome
}

type NoopFitnessPostprocessor struct{}

func (NoopFitnessPostprocessor) Name() string {
	return "none"
}

func (NoopFitnessPostprocessor) Process(scored []ScoredGenome) []ScoredGenome {
	return cloneScored(scored)
}

// SizeProportionalPostprocessor penalizes larger networks: positive fitness
// shrinks and negative fitness grows with complexity.
type SizeProportionalPostprocessor struct{}

func (SizeProportionalPostprocessor) Name() string {
	return "size_proportional"
}

func (SizeProportionalPostprocessor) Process(scored []ScoredGenome) []ScoredGenome {
	out := cloneScored(scored)
	for i := range out {
		enabled := 0
		for _, s := range out[i].Genome.Synapses {
			if s.Enabled {
				enabled++
			}
		}
		complexity := max(float64(len(out[i].Genome.Neurons)+enabled), 1)
		factor := math.Pow(complexity, sizeProportionalEfficiency)
		if out[i].Fitness >= 0 {
			out[i].Fitness /= factor
		} else {
			out[i].Fitness *= factor
		}
	}
	return out
}

func FitnessPostprocessorByName(name string) (FitnessPostprocessor, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", "none":
		return NoopFitnessPostprocessor{}, nil
	case "size_proportional":
		return SizeProportionalPostprocessor{}, nil
	default:
		return nil, fmt.Errorf("unsupported fitness postprocessor: %s", name)
	}
}

func cloneScored(scored []ScoredGenome) []ScoredGenome {
	out := make([]ScoredGenome, len(scored))
	copy(out, scored)
	return out
}
