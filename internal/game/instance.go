// Package game runs a single 2048 board: moves, spawns and terminal detection.
package game

import (
	"errors"
	"fmt"
	"math/rand"

	"evo2048/internal/board"
)

var (
	// ErrTerminal is returned when stepping an instance that can no longer move.
	ErrTerminal = errors.New("game instance is terminal")
	// ErrNoMoveInOrder is returned when none of the offered directions
	// changes the grid although another direction would.
	ErrNoMoveInOrder = errors.New("no offered direction changes the grid")
	// ErrInvariantViolation marks a move engine result that cannot be trusted.
	ErrInvariantViolation = errors.New("move engine invariant violated")
)

// Instance owns one grid. It is not safe for concurrent use.
type Instance struct {
	grid     board.Grid
	rng      *rand.Rand
	spawn    board.SpawnPolicy
	terminal bool
	moves    int
	points   int
}

// Outcome describes one Step call.
type Outcome struct {
	// Direction is the accepted direction; meaningless when Terminal is set.
	Direction board.Direction
	// Rank is the position of Direction in the offered order.
	Rank int
	// Misses lists offered directions tried before Direction that did not move.
	Misses   []board.Direction
	Result   board.MoveResult
	Spawned  board.Cell
	Terminal bool
}

// New starts a game with two tiles on distinct random cells.
func New(rng *rand.Rand, spawn board.SpawnPolicy) (*Instance, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if err := spawn.Validate(); err != nil {
		return nil, err
	}
	g := board.Grid{}
	for i := 0; i < 2; i++ {
		next, _, err := board.Spawn(g, rng, spawn)
		if err != nil {
			return nil, fmt.Errorf("initial spawn: %w", err)
		}
		g = next
	}
	return &Instance{grid: g, rng: rng, spawn: spawn}, nil
}

// FromGrid resumes play from an explicit grid.
func FromGrid(g board.Grid, rng *rand.Rand, spawn board.SpawnPolicy) (*Instance, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if err := spawn.Validate(); err != nil {
		return nil, err
	}
	for i, v := range g.Tiles() {
		if !board.ValidTile(v) {
			return nil, fmt.Errorf("cell %d: invalid tile %d", i, v)
		}
	}
	return &Instance{grid: g, rng: rng, spawn: spawn}, nil
}

// Step applies the first direction of order that changes the grid, then
// spawns a tile. When no direction at all changes the grid the instance
// becomes terminal and Outcome.Terminal is set.
func (in *Instance) Step(order []board.Direction) (Outcome, error) {
	if in.terminal {
		return Outcome{}, ErrTerminal
	}

	out := Outcome{}
	for rank, d := range order {
		if !d.Valid() {
			return Outcome{}, fmt.Errorf("invalid direction %d at rank %d", int(d), rank)
		}
		res := board.Apply(in.grid, d)
		if err := checkResult(in.grid, res); err != nil {
			return Outcome{}, fmt.Errorf("%s: %w", d, err)
		}
		if !res.Changed {
			out.Misses = append(out.Misses, d)
			continue
		}

		next, cell, err := board.Spawn(res.Grid, in.rng, in.spawn)
		if err != nil {
			return Outcome{}, fmt.Errorf("spawn after %s: %w", d, err)
		}
		in.grid = next
		in.moves++
		in.points += res.Gained

		out.Direction = d
		out.Rank = rank
		out.Result = res
		out.Spawned = cell
		return out, nil
	}

	if board.CanMove(in.grid) {
		return out, ErrNoMoveInOrder
	}
	in.terminal = true
	out.Terminal = true
	return out, nil
}

func checkResult(before board.Grid, res board.MoveResult) error {
	if res.Changed != (res.Grid != before) {
		return fmt.Errorf("%w: changed=%t disagrees with grid", ErrInvariantViolation, res.Changed)
	}
	if res.Grid.Sum() != before.Sum() {
		return fmt.Errorf("%w: tile sum %d became %d", ErrInvariantViolation, before.Sum(), res.Grid.Sum())
	}
	return nil
}

// CanMove reports whether any direction changes the current grid.
func (in *Instance) CanMove() bool {
	return !in.terminal && board.CanMove(in.grid)
}

func (in *Instance) Grid() board.Grid {
	return in.grid
}

func (in *Instance) Tiles() [board.Cells]int {
	return in.grid.Tiles()
}

func (in *Instance) Terminal() bool {
	return in.terminal
}

// Moves is the number of accepted moves.
func (in *Instance) Moves() int {
	return in.moves
}

// Points is the running classic score: the sum of all merged tile values.
func (in *Instance) Points() int {
	return in.points
}

func (in *Instance) MaxTile() int {
	return in.grid.MaxTile()
}
