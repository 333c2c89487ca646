// Package agent holds the players that drive a population: evolved neural
// networks and a few fixed strategies used as baselines.
package agent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"evo2048/internal/board"
	"evo2048/internal/model"
	"evo2048/internal/nn"
)

// InputScaling maps raw tile values to network inputs.
type InputScaling string

const (
	ScaleRaw InputScaling = "raw"
	// ScaleLog2 feeds log2(tile), so 2 becomes 1 and an empty cell 0.
	ScaleLog2 InputScaling = "log2"
	// ScaleMax divides every tile by the largest tile on the board.
	ScaleMax InputScaling = "max"
)

func ParseInputScaling(raw string) (InputScaling, error) {
	switch s := InputScaling(strings.ToLower(strings.TrimSpace(raw))); s {
	case "", ScaleLog2:
		return ScaleLog2, nil
	case ScaleRaw, ScaleMax:
		return s, nil
	default:
		return "", fmt.Errorf("unknown input scaling: %s", raw)
	}
}

// Cortex plays with an evolved genome. It reads the 16 tiles and returns one
// score per direction ordinal.
type Cortex struct {
	id      string
	genome  model.Genome
	network *nn.Network
	scaling InputScaling
}

func NewCortex(id string, genome model.Genome, scaling InputScaling) (*Cortex, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	network, err := nn.Compile(genome)
	if err != nil {
		return nil, err
	}
	if network.InputSize() != board.Cells {
		return nil, fmt.Errorf("genome %s: input size %d, want %d", genome.ID, network.InputSize(), board.Cells)
	}
	if network.OutputSize() != board.NumDirections {
		return nil, fmt.Errorf("genome %s: output size %d, want %d", genome.ID, network.OutputSize(), board.NumDirections)
	}
	if scaling == "" {
		scaling = ScaleLog2
	}
	return &Cortex{id: id, genome: genome, network: network, scaling: scaling}, nil
}

func (c *Cortex) ID() string {
	return c.id
}

func (c *Cortex) Genome() model.Genome {
	return c.genome
}

func (c *Cortex) RunStep(ctx context.Context, inputs []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.network.Evaluate(scaleInputs(inputs, c.scaling))
}

func scaleInputs(inputs []float64, scaling InputScaling) []float64 {
	out := make([]float64, len(inputs))
	switch scaling {
	case ScaleLog2:
		for i, v := range inputs {
			if v > 0 {
				out[i] = math.Log2(v)
			}
		}
	case ScaleMax:
		maxValue := 0.0
		for _, v := range inputs {
			maxValue = math.Max(maxValue, v)
		}
		if maxValue > 0 {
			for i, v := range inputs {
				out[i] = v / maxValue
			}
		}
	default:
		copy(out, inputs)
	}
	return out
}
