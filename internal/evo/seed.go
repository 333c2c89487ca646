package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"evo2048/internal/board"
	"evo2048/internal/model"
)

// SeedGenome builds a dense network with 16 board inputs, one hidden layer of
// hidden neurons (none when hidden is 0) and four direction outputs, with
// weights drawn uniformly from [-1, 1].
func SeedGenome(id string, hidden int, activation string, rng *rand.Rand) (model.Genome, error) {
	if id == "" {
		return model.Genome{}, errors.New("genome id is required")
	}
	if hidden < 0 {
		return model.Genome{}, fmt.Errorf("hidden neurons must be >= 0")
	}
	if rng == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if activation == "" {
		activation = "tanh"
	}

	g := model.Genome{ID: id}
	inputs := make([]string, board.Cells)
	for i := range inputs {
		inputs[i] = fmt.Sprintf("in%02d", i)
		g.Neurons = append(g.Neurons, model.Neuron{ID: inputs[i], Activation: "identity"})
	}
	g.InputIDs = inputs

	previous := inputs
	if hidden > 0 {
		layer := make([]string, hidden)
		for i := range layer {
			layer[i] = fmt.Sprintf("h%02d", i)
			g.Neurons = append(g.Neurons, model.Neuron{ID: layer[i], Activation: activation, Bias: uniformDelta(rng, 1)})
		}
		connect(&g, inputs, layer, rng)
		previous = layer
	}

	outputs := make([]string, board.NumDirections)
	for _, d := range board.AllDirections {
		outputs[d] = "out_" + d.String()
		g.Neurons = append(g.Neurons, model.Neuron{ID: outputs[d], Activation: "identity", Bias: uniformDelta(rng, 1)})
	}
	connect(&g, previous, outputs, rng)
	g.OutputIDs = outputs
	return g, nil
}

func connect(g *model.Genome, from, to []string, rng *rand.Rand) {
	for _, dst := range to {
		for _, src := range from {
			g.Synapses = append(g.Synapses, model.Synapse{
				ID:      src + "->" + dst,
				From:    src,
				To:      dst,
				Weight:  uniformDelta(rng, 1),
				Enabled: true,
			})
		}
	}
}

// SeedPopulation builds size seed genomes named g0-0 … g0-(size-1).
func SeedPopulation(size, hidden int, activation string, rng *rand.Rand) ([]model.Genome, error) {
	if size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	out := make([]model.Genome, 0, size)
	for i := 0; i < size; i++ {
		g, err := SeedGenome(genomeID(0, i), hidden, activation, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func genomeID(generation, index int) string {
	return fmt.Sprintf("g%d-%d", generation, index)
}
