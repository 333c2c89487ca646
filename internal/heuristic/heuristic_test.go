package heuristic

import (
	"math"
	"math/rand"
	"testing"

	"evo2048/internal/board"
)

func TestScoreKnownBoard(t *testing.T) {
	g, err := board.FromRows([]int{2, 4, 0, 0})
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	e := Default()
	got := e.Explain(g)
	if got.Positional != 92 {
		t.Fatalf("positional: got=%f want=92", got.Positional)
	}
	if got.Empty != 14 {
		t.Fatalf("empty: got=%d want=14", got.Empty)
	}
	if got.Smoothness != 11 {
		t.Fatalf("smoothness: got=%d want=11", got.Smoothness)
	}
	if math.Abs(got.Score-92*15*11) > 1e-9 {
		t.Fatalf("score: got=%f want=%d", got.Score, 92*15*11)
	}
}

func TestSmoothnessRowParity(t *testing.T) {
	tests := []struct {
		name string
		rows [][]int
		want int
	}{
		// Zero rows contribute three equal pairs each.
		{name: "even-row-doubling", rows: [][]int{{2, 4, 8, 16}}, want: 3 + 9},
		{name: "even-row-halving", rows: [][]int{{16, 8, 4, 2}}, want: 0 + 9},
		{name: "odd-row-halving", rows: [][]int{{0, 0, 0, 0}, {16, 8, 4, 2}}, want: 3 + 3 + 6},
		{name: "odd-row-doubling", rows: [][]int{{0, 0, 0, 0}, {2, 4, 8, 16}}, want: 3 + 0 + 6},
		{name: "equal-pairs", rows: [][]int{{4, 4, 4, 4}, {4, 4, 4, 4}, {4, 4, 4, 4}, {4, 4, 4, 4}}, want: 12},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := board.FromRows(tc.rows...)
			if err != nil {
				t.Fatalf("grid: %v", err)
			}
			if got := Smoothness(g); got != tc.want {
				t.Fatalf("smoothness: got=%d want=%d", got, tc.want)
			}
		})
	}
}

func TestEmptyBiasKeepsFullBoardScoreNonZero(t *testing.T) {
	g, err := board.FromRows(
		[]int{4, 4, 2, 4},
		[]int{4, 2, 4, 2},
		[]int{2, 4, 2, 4},
		[]int{4, 2, 4, 2},
	)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if Smoothness(g) == 0 {
		t.Fatal("fixture needs non-zero smoothness")
	}
	withBias := Default()
	if withBias.Score(g) <= 0 {
		t.Fatalf("expected positive score with bias, got %f", withBias.Score(g))
	}
	noBias := Evaluator{Weights: SnakeWeights, EmptyBias: 0}
	if noBias.Score(g) != 0 {
		t.Fatalf("expected zero score without bias on a full board, got %f", noBias.Score(g))
	}
}

func TestScoreMonotonicInPositiveWeightCell(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	e := Default()
	checked := 0
	for i := 0; i < 2000; i++ {
		var g board.Grid
		for r := 0; r < board.Size; r++ {
			for c := 0; c < board.Size; c++ {
				if rng.Intn(2) == 0 {
					g[r][c] = 1 << (1 + rng.Intn(6))
				}
			}
		}
		r, c := rng.Intn(board.Size), rng.Intn(board.Size)
		if g[r][c] == 0 || e.Weights[r][c] <= 0 {
			continue
		}
		bigger := g
		bigger[r][c] *= 2
		if Smoothness(bigger) != Smoothness(g) || EmptyCells(bigger) != EmptyCells(g) {
			continue
		}
		checked++
		if e.Score(bigger) < e.Score(g) {
			t.Fatalf("score decreased after growing cell (%d,%d):\n%s\n->\n%s", r, c, g, bigger)
		}
	}
	if checked == 0 {
		t.Fatal("property never exercised")
	}
}

func TestSnakeWeightsDecreaseAlongPath(t *testing.T) {
	prev := math.Inf(1)
	for r := 0; r < board.Size; r++ {
		for i := 0; i < board.Size; i++ {
			c := i
			if r%2 == 1 {
				c = board.Size - 1 - i
			}
			w := SnakeWeights[r][c]
			if w >= prev {
				t.Fatalf("weight at (%d,%d)=%f does not decrease from %f", r, c, w, prev)
			}
			prev = w
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default evaluator invalid: %v", err)
	}
	if err := (Evaluator{Weights: SnakeWeights, EmptyBias: -1}).Validate(); err == nil {
		t.Fatal("expected negative bias error")
	}
}
