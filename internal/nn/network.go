package nn

import (
	"errors"
	"fmt"

	"evo2048/internal/model"
)

var ErrNotFeedForward = errors.New("synapse does not point forward")

// Network is a genome checked and prepared for repeated evaluation.
type Network struct {
	neurons     []model.Neuron
	activations []ActivationFunc
	incoming    map[string][]model.Synapse
	inputIDs    []string
	outputIDs   []string
}

// Compile validates genome and resolves its activations. Neurons must be
// listed so that every enabled synapse leads from an input or an earlier
// neuron to a later one.
func Compile(genome model.Genome) (*Network, error) {
	if len(genome.InputIDs) == 0 {
		return nil, fmt.Errorf("genome %s: input neuron ids are required", genome.ID)
	}
	if len(genome.OutputIDs) == 0 {
		return nil, fmt.Errorf("genome %s: output neuron ids are required", genome.ID)
	}

	position := make(map[string]int, len(genome.Neurons))
	for i, neuron := range genome.Neurons {
		if _, dup := position[neuron.ID]; dup {
			return nil, fmt.Errorf("genome %s: duplicate neuron %s", genome.ID, neuron.ID)
		}
		position[neuron.ID] = i
	}
	inputs := make(map[string]struct{}, len(genome.InputIDs))
	for _, id := range genome.InputIDs {
		if _, ok := position[id]; !ok {
			return nil, fmt.Errorf("genome %s: unknown input neuron %s", genome.ID, id)
		}
		inputs[id] = struct{}{}
	}
	for _, id := range genome.OutputIDs {
		if _, ok := position[id]; !ok {
			return nil, fmt.Errorf("genome %s: unknown output neuron %s", genome.ID, id)
		}
	}

	incoming := make(map[string][]model.Synapse, len(genome.Neurons))
	for _, synapse := range genome.Synapses {
		if !synapse.Enabled {
			continue
		}
		from, okFrom := position[synapse.From]
		to, okTo := position[synapse.To]
		if !okFrom || !okTo {
			return nil, fmt.Errorf("genome %s: synapse %s references unknown neuron", genome.ID, synapse.ID)
		}
		if _, isInput := inputs[synapse.To]; isInput {
			return nil, fmt.Errorf("genome %s: synapse %s targets input %s", genome.ID, synapse.ID, synapse.To)
		}
		if _, isInput := inputs[synapse.From]; !isInput && from >= to {
			return nil, fmt.Errorf("genome %s: %w: %s", genome.ID, ErrNotFeedForward, synapse.ID)
		}
		incoming[synapse.To] = append(incoming[synapse.To], synapse)
	}

	activations := make([]ActivationFunc, len(genome.Neurons))
	for i, neuron := range genome.Neurons {
		if _, isInput := inputs[neuron.ID]; isInput {
			continue
		}
		fn, err := GetActivation(neuron.Activation)
		if err != nil {
			return nil, fmt.Errorf("neuron %s: %w", neuron.ID, err)
		}
		activations[i] = fn
	}

	return &Network{
		neurons:     append([]model.Neuron(nil), genome.Neurons...),
		activations: activations,
		incoming:    incoming,
		inputIDs:    append([]string(nil), genome.InputIDs...),
		outputIDs:   append([]string(nil), genome.OutputIDs...),
	}, nil
}

func (n *Network) InputSize() int  { return len(n.inputIDs) }
func (n *Network) OutputSize() int { return len(n.outputIDs) }

// Evaluate maps inputs, in InputIDs order, to outputs in OutputIDs order.
func (n *Network) Evaluate(inputs []float64) ([]float64, error) {
	if len(inputs) != len(n.inputIDs) {
		return nil, fmt.Errorf("input size mismatch: got=%d want=%d", len(inputs), len(n.inputIDs))
	}
	inputByNeuron := make(map[string]float64, len(inputs))
	for i, id := range n.inputIDs {
		inputByNeuron[id] = inputs[i]
	}
	values := n.forward(inputByNeuron)
	outputs := make([]float64, len(n.outputIDs))
	for i, id := range n.outputIDs {
		outputs[i] = values[id]
	}
	return outputs, nil
}

func (n *Network) forward(inputByNeuron map[string]float64) map[string]float64 {
	values := make(map[string]float64, len(n.neurons))
	for id, value := range inputByNeuron {
		values[id] = value
	}
	for i, neuron := range n.neurons {
		if _, fixedInput := inputByNeuron[neuron.ID]; fixedInput || n.activations[i] == nil {
			continue
		}
		total := neuron.Bias
		for _, synapse := range n.incoming[neuron.ID] {
			total += values[synapse.From] * synapse.Weight
		}
		values[neuron.ID] = n.activations[i](total)
	}
	return values
}

// Forward evaluates genome once and returns the value of every neuron.
func Forward(genome model.Genome, inputByNeuron map[string]float64) (map[string]float64, error) {
	network, err := Compile(genome)
	if err != nil {
		return nil, err
	}
	for _, id := range network.inputIDs {
		if _, ok := inputByNeuron[id]; !ok {
			return nil, fmt.Errorf("missing input for neuron %s", id)
		}
	}
	return network.forward(inputByNeuron), nil
}
