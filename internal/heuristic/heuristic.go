// Package heuristic scores 2048 boards for use as a fitness signal.
package heuristic

import (
	"fmt"

	"evo2048/internal/board"
)

// Weights assigns a positional multiplier to each cell.
type Weights [board.Size][board.Size]float64

// SnakeWeights decrease strictly along a boustrophedon path that starts in
// the top-left corner: row 0 left to right, row 1 right to left, and so on.
var SnakeWeights = Weights{
	{16, 15, 14, 13},
	{9, 10, 11, 12},
	{8, 7, 6, 5},
	{1, 2, 3, 4},
}

// DefaultEmptyBias keeps the empty-cell multiplier non-zero on a full board.
const DefaultEmptyBias = 1.0

// Evaluator computes positional × (empty + bias) × smoothness.
type Evaluator struct {
	Weights   Weights
	EmptyBias float64
}

// Default returns the snake-weighted evaluator with a bias of one.
func Default() Evaluator {
	return Evaluator{Weights: SnakeWeights, EmptyBias: DefaultEmptyBias}
}

func (e Evaluator) Validate() error {
	if e.EmptyBias < 0 {
		return fmt.Errorf("empty bias must be >= 0, got %f", e.EmptyBias)
	}
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			if e.Weights[r][c] < 0 {
				return fmt.Errorf("weight at row %d col %d must be >= 0", r, c)
			}
		}
	}
	return nil
}

// Score is zero whenever smoothness is zero, and grows multiplicatively
// with the other two terms.
func (e Evaluator) Score(g board.Grid) float64 {
	return e.Positional(g) * (float64(EmptyCells(g)) + e.EmptyBias) * float64(Smoothness(g))
}

// Positional is the weighted sum of tile values.
func (e Evaluator) Positional(g board.Grid) float64 {
	total := 0.0
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			total += float64(g[r][c]) * e.Weights[r][c]
		}
	}
	return total
}

func EmptyCells(g board.Grid) int {
	return g.CountEmpty()
}

// Smoothness counts horizontal neighbour pairs that are equal or step by a
// factor of two in the direction of the snake: on even rows the left tile may
// be half the right one, on odd rows double it.
func Smoothness(g board.Grid) int {
	points := 0
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size-1; c++ {
			left, right := g[r][c], g[r][c+1]
			if left == right {
				points++
				continue
			}
			if r%2 == 0 {
				if 2*left == right {
					points++
				}
			} else if left == 2*right {
				points++
			}
		}
	}
	return points
}

// Breakdown reports the individual terms of a score.
type Breakdown struct {
	Positional float64 `json:"positional"`
	Empty      int     `json:"empty"`
	Smoothness int     `json:"smoothness"`
	Score      float64 `json:"score"`
}

func (e Evaluator) Explain(g board.Grid) Breakdown {
	return Breakdown{
		Positional: e.Positional(g),
		Empty:      EmptyCells(g),
		Smoothness: Smoothness(g),
		Score:      e.Score(g),
	}
}
