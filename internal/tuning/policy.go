package tuning

import (
	"fmt"
	"strings"

	"evo2048/internal/model"
)

// AttemptPolicy decides how many tuning attempts an elite gets in a given
// generation.
type AttemptPolicy interface {
	Name() string
	Attempts(baseAttempts, generation, totalGenerations int, genome model.Genome) int
}

type FixedAttemptPolicy struct{}

func (FixedAttemptPolicy) Name() string { return "fixed" }

func (FixedAttemptPolicy) Attempts(baseAttempts, _, _ int, _ model.Genome) int {
	return max(baseAttempts, 0)
}

// LinearDecayAttemptPolicy tunes hard early and tapers towards MinAttempts
// in the last generation.
type LinearDecayAttemptPolicy struct {
	MinAttempts int
}

func (LinearDecayAttemptPolicy) Name() string { return "linear_decay" }

func (p LinearDecayAttemptPolicy) Attempts(baseAttempts, generation, totalGenerations int, _ model.Genome) int {
	if baseAttempts <= 0 {
		return 0
	}
	if totalGenerations <= 0 {
		return baseAttempts
	}
	remaining := max(totalGenerations-generation, 1)
	return max((baseAttempts*remaining)/totalGenerations, p.MinAttempts, 0)
}

// WeightScaledAttemptPolicy grows the attempt count with the number of
// enabled synapses, capped at MaxAttempts when set.
type WeightScaledAttemptPolicy struct {
	Scale       float64
	MaxAttempts int
}

func (WeightScaledAttemptPolicy) Name() string { return "weight_scaled" }

func (p WeightScaledAttemptPolicy) Attempts(baseAttempts, _, _ int, genome model.Genome) int {
	if baseAttempts <= 0 {
		return 0
	}
	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	enabled := 0
	for _, s := range genome.Synapses {
		if s.Enabled {
			enabled++
		}
	}
	attempts := max(int(float64(baseAttempts)*scale*(1+float64(enabled)/100)), 1)
	if p.MaxAttempts > 0 {
		attempts = min(attempts, p.MaxAttempts)
	}
	return attempts
}

// AttemptPolicyByName resolves fixed, linear_decay and weight_scaled.
func AttemptPolicyByName(name string) (AttemptPolicy, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", "fixed", "const":
		return FixedAttemptPolicy{}, nil
	case "linear_decay":
		return LinearDecayAttemptPolicy{MinAttempts: 1}, nil
	case "weight_scaled":
		return WeightScaledAttemptPolicy{Scale: 1}, nil
	default:
		return nil, fmt.Errorf("unsupported tune attempt policy: %s", name)
	}
}
