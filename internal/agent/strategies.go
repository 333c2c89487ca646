package agent

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"evo2048/internal/board"
	"evo2048/internal/heuristic"
	"evo2048/internal/population"
)

var (
	_ population.Decider   = (*FixedOrder)(nil)
	_ population.Decider   = (*Random)(nil)
	_ population.Decider   = (*Greedy)(nil)
	_ population.StepAgent = (*Cortex)(nil)
)

// CornerOrder is the fallback order of the original trainer.
var CornerOrder = []board.Direction{board.Left, board.Up, board.Right, board.Down}

// FixedOrder always ranks the directions the same way.
type FixedOrder struct {
	id    string
	order []board.Direction
}

func NewFixedOrder(id string, order []board.Direction) (*FixedOrder, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if !board.IsPermutation(order) {
		return nil, fmt.Errorf("fixed order must rank all four directions once: %v", order)
	}
	return &FixedOrder{id: id, order: append([]board.Direction(nil), order...)}, nil
}

func (a *FixedOrder) ID() string { return a.id }

func (a *FixedOrder) Decide(context.Context, [board.Cells]int) ([]board.Direction, error) {
	return append([]board.Direction(nil), a.order...), nil
}

// Random ranks directions by a fresh shuffle on every call.
type Random struct {
	id  string
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(id string, seed int64) *Random {
	return &Random{id: id, rng: rand.New(rand.NewSource(seed))}
}

func (a *Random) ID() string { return a.id }

func (a *Random) Decide(context.Context, [board.Cells]int) ([]board.Direction, error) {
	a.mu.Lock()
	perm := a.rng.Perm(board.NumDirections)
	a.mu.Unlock()
	out := make([]board.Direction, len(perm))
	for i, d := range perm {
		out[i] = board.Direction(d)
	}
	return out, nil
}

// Greedy looks one move ahead and ranks directions by the heuristic score of
// the moved grid. Directions that do not move the board rank last.
type Greedy struct {
	id   string
	eval heuristic.Evaluator
}

func NewGreedy(id string, eval heuristic.Evaluator) *Greedy {
	return &Greedy{id: id, eval: eval}
}

func (a *Greedy) ID() string { return a.id }

func (a *Greedy) Decide(_ context.Context, tiles [board.Cells]int) ([]board.Direction, error) {
	g := board.FromTiles(tiles)
	scores := make([]float64, board.NumDirections)
	for i := range scores {
		scores[i] = math.Inf(-1)
	}
	for _, d := range board.LegalMoves(g) {
		scores[d] = a.eval.Score(board.Apply(g, d).Grid)
	}
	order := append([]board.Direction(nil), board.AllDirections[:]...)
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order, nil
}

// Builtin kinds accepted by NewBuiltin.
const (
	KindCorner = "corner"
	KindRandom = "random"
	KindGreedy = "greedy"
	// KindFixed plays the order handed to NewBuiltin.
	KindFixed = "fixed"
)

// NewBuiltin constructs a baseline strategy by name. order is only read by
// KindFixed.
func NewBuiltin(kind, id string, seed int64, eval heuristic.Evaluator, order []board.Direction) (population.Agent, error) {
	switch kind {
	case KindFixed:
		a, err := NewFixedOrder(id, order)
		if err != nil {
			return nil, err
		}
		return a, nil
	case KindCorner:
		a, err := NewFixedOrder(id, CornerOrder)
		if err != nil {
			return nil, err
		}
		return a, nil
	case KindRandom:
		return NewRandom(id, seed), nil
	case KindGreedy:
		return NewGreedy(id, eval), nil
	default:
		return nil, fmt.Errorf("unknown agent kind: %s", kind)
	}
}
