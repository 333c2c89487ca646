package evo

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"evo2048/internal/model"
)

// Operator produces a mutated copy of a genome. Implementations must not
// modify the genome they are given.
type Operator interface {
	Name() string
	Apply(ctx context.Context, genome model.Genome) (model.Genome, error)
}

// WeightedMutation is one entry of a mutation policy.
type WeightedMutation struct {
	Operator Operator
	Weight   float64
}

// NewOperator builds a mutation operator by name. maxDelta bounds weight and
// bias perturbations.
func NewOperator(name string, rng *rand.Rand, maxDelta float64) (Operator, error) {
	switch name {
	case "perturb_random_weight":
		return &PerturbRandomWeight{Rand: rng, MaxDelta: maxDelta}, nil
	case "perturb_random_bias":
		return &PerturbRandomBias{Rand: rng, MaxDelta: maxDelta}, nil
	case "mutate_weights":
		return &MutateWeights{Rand: rng, MaxDelta: maxDelta}, nil
	case "change_activation":
		return &ChangeActivation{Rand: rng}, nil
	default:
		return nil, fmt.Errorf("unknown mutation operator: %s", name)
	}
}

// MutationPolicy turns operator weights into a policy ordered by name so the
// same weights always draw the same operators.
func MutationPolicy(weights map[string]float64, rng *rand.Rand, maxDelta float64) ([]WeightedMutation, error) {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	policy := make([]WeightedMutation, 0, len(names))
	for _, name := range names {
		op, err := NewOperator(name, rng, maxDelta)
		if err != nil {
			return nil, err
		}
		policy = append(policy, WeightedMutation{Operator: op, Weight: weights[name]})
	}
	return policy, nil
}
