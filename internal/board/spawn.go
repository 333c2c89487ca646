package board

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// ErrNoEmptyCell is returned when a tile is spawned onto a full grid. Callers
// only spawn after a move that changed the grid, so this is a programming error.
var ErrNoEmptyCell = errors.New("illegal spawn: no empty cell")

// SpawnPolicy decides which value a new tile gets.
type SpawnPolicy struct {
	Name string
	// FourProbability is the chance that a spawned tile is 4 instead of 2.
	FourProbability float64
}

var (
	// SpawnUniform picks 2 or 4 with equal probability.
	SpawnUniform = SpawnPolicy{Name: "uniform", FourProbability: 0.5}
	// SpawnWeighted is the classic 90/10 split.
	SpawnWeighted = SpawnPolicy{Name: "weighted", FourProbability: 0.1}
)

// SpawnPolicyByName resolves a named preset.
func SpawnPolicyByName(name string) (SpawnPolicy, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case SpawnUniform.Name:
		return SpawnUniform, nil
	case SpawnWeighted.Name:
		return SpawnWeighted, nil
	}
	return SpawnPolicy{}, fmt.Errorf("unknown spawn policy: %s", name)
}

func (p SpawnPolicy) Validate() error {
	if p.FourProbability < 0 || p.FourProbability > 1 {
		return fmt.Errorf("spawn four probability must be in [0, 1], got %f", p.FourProbability)
	}
	return nil
}

// Value draws a tile value from the policy.
func (p SpawnPolicy) Value(rng *rand.Rand) int {
	if rng.Float64() < p.FourProbability {
		return 4
	}
	return 2
}

// Spawn places one new tile on a uniformly chosen empty cell of g.
func Spawn(g Grid, rng *rand.Rand, policy SpawnPolicy) (Grid, Cell, error) {
	if rng == nil {
		return Grid{}, Cell{}, errors.New("random source is required")
	}
	empty := g.EmptyCells()
	if len(empty) == 0 {
		return Grid{}, Cell{}, ErrNoEmptyCell
	}
	cell := empty[rng.Intn(len(empty))]
	g[cell.Row][cell.Col] = policy.Value(rng)
	return g, cell, nil
}
