package evo

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"evo2048/internal/model"
	"evo2048/internal/nn"
)

var (
	ErrNoSynapses       = errors.New("genome has no synapses")
	ErrNoNeurons        = errors.New("genome has no mutable neurons")
	ErrNoMutationChoice = errors.New("no mutation choice available")
)

// PerturbRandomWeight mutates a random synapse using uniform delta in [-MaxDelta, MaxDelta].
type PerturbRandomWeight struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbRandomWeight) Name() string {
	return "perturb_random_weight"
}

func (o *PerturbRandomWeight) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoSynapses
	}
	if err := checkRandDelta(o.Rand, o.MaxDelta); err != nil {
		return model.Genome{}, err
	}

	mutated := genome.Clone()
	idx := o.Rand.Intn(len(mutated.Synapses))
	mutated.Synapses[idx].Weight += uniformDelta(o.Rand, o.MaxDelta)
	return mutated, nil
}

// PerturbRandomBias mutates the bias of a random non-input neuron.
type PerturbRandomBias struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbRandomBias) Name() string {
	return "perturb_random_bias"
}

func (o *PerturbRandomBias) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if err := checkRandDelta(o.Rand, o.MaxDelta); err != nil {
		return model.Genome{}, err
	}
	candidates := mutableNeurons(genome)
	if len(candidates) == 0 {
		return model.Genome{}, ErrNoNeurons
	}

	mutated := genome.Clone()
	idx := candidates[o.Rand.Intn(len(candidates))]
	mutated.Neurons[idx].Bias += uniformDelta(o.Rand, o.MaxDelta)
	return mutated, nil
}

// MutateWeights perturbs each synapse with probability 1/sqrt(synapses);
// at least one synapse always changes.
type MutateWeights struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *MutateWeights) Name() string {
	return "mutate_weights"
}

func (o *MutateWeights) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoSynapses
	}
	if err := checkRandDelta(o.Rand, o.MaxDelta); err != nil {
		return model.Genome{}, err
	}

	mutated := genome.Clone()
	mp := 1 / math.Sqrt(float64(len(mutated.Synapses)))
	changed := 0
	for i := range mutated.Synapses {
		if o.Rand.Float64() >= mp {
			continue
		}
		mutated.Synapses[i].Weight += uniformDelta(o.Rand, o.MaxDelta)
		changed++
	}
	if changed == 0 {
		idx := o.Rand.Intn(len(mutated.Synapses))
		mutated.Synapses[idx].Weight += uniformDelta(o.Rand, o.MaxDelta)
	}
	return mutated, nil
}

// ChangeActivation swaps the activation of a random non-input neuron for a
// different registered one.
type ChangeActivation struct {
	Rand        *rand.Rand
	Activations []string
}

func (o *ChangeActivation) Name() string {
	return "change_activation"
}

func (o *ChangeActivation) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	candidates := mutableNeurons(genome)
	if len(candidates) == 0 {
		return model.Genome{}, ErrNoNeurons
	}
	names := o.Activations
	if len(names) == 0 {
		names = nn.ListActivations()
	}

	mutated := genome.Clone()
	idx := candidates[o.Rand.Intn(len(candidates))]
	current := mutated.Neurons[idx].Activation
	options := make([]string, 0, len(names))
	for _, name := range names {
		if name != current {
			options = append(options, name)
		}
	}
	if len(options) == 0 {
		return model.Genome{}, ErrNoMutationChoice
	}
	mutated.Neurons[idx].Activation = options[o.Rand.Intn(len(options))]
	return mutated, nil
}

func checkRandDelta(rng *rand.Rand, maxDelta float64) error {
	if rng == nil {
		return errors.New("random source is required")
	}
	if maxDelta <= 0 {
		return errors.New("max delta must be > 0")
	}
	return nil
}

func uniformDelta(rng *rand.Rand, maxDelta float64) float64 {
	return (rng.Float64()*2 - 1) * maxDelta
}

func mutableNeurons(genome model.Genome) []int {
	inputs := make(map[string]struct{}, len(genome.InputIDs))
	for _, id := range genome.InputIDs {
		inputs[id] = struct{}{}
	}
	out := make([]int, 0, len(genome.Neurons))
	for i, neuron := range genome.Neurons {
		if _, ok := inputs[neuron.ID]; !ok {
			out = append(out, i)
		}
	}
	return out
}
