package agent

import (
	"context"
	"math"
	"testing"

	"evo2048/internal/board"
	"evo2048/internal/heuristic"
	"evo2048/internal/model"
)

// denseGenome wires every input to every output with the given weight.
func denseGenome(weight float64, outputBias [board.NumDirections]float64) model.Genome {
	g := model.Genome{ID: "dense"}
	for i := 0; i < board.Cells; i++ {
		id := "in" + string(rune('a'+i))
		g.Neurons = append(g.Neurons, model.Neuron{ID: id, Activation: "identity"})
		g.InputIDs = append(g.InputIDs, id)
	}
	for d := 0; d < board.NumDirections; d++ {
		out := "out" + string(rune('0'+d))
		g.Neurons = append(g.Neurons, model.Neuron{ID: out, Activation: "identity", Bias: outputBias[d]})
		g.OutputIDs = append(g.OutputIDs, out)
		for _, in := range g.InputIDs {
			g.Synapses = append(g.Synapses, model.Synapse{ID: in + "-" + out, From: in, To: out, Weight: weight, Enabled: true})
		}
	}
	return g
}

func TestCortexRunStepScalesInputs(t *testing.T) {
	tiles := make([]float64, board.Cells)
	tiles[0], tiles[1] = 2, 8

	tests := []struct {
		scaling InputScaling
		want    float64
	}{
		{scaling: ScaleRaw, want: 10},
		{scaling: ScaleLog2, want: 4},
		{scaling: ScaleMax, want: 1.25},
	}
	for _, tc := range tests {
		t.Run(string(tc.scaling), func(t *testing.T) {
			c, err := NewCortex("c", denseGenome(1, [board.NumDirections]float64{}), tc.scaling)
			if err != nil {
				t.Fatalf("new cortex: %v", err)
			}
			out, err := c.RunStep(context.Background(), tiles)
			if err != nil {
				t.Fatalf("run step: %v", err)
			}
			if len(out) != board.NumDirections {
				t.Fatalf("expected 4 outputs, got %d", len(out))
			}
			for _, v := range out {
				if math.Abs(v-tc.want) > 1e-9 {
					t.Fatalf("output: got=%f want=%f", v, tc.want)
				}
			}
		})
	}
}

func TestCortexRejectsWrongShape(t *testing.T) {
	g := denseGenome(1, [board.NumDirections]float64{})
	g.OutputIDs = g.OutputIDs[:3]
	if _, err := NewCortex("c", g, ScaleLog2); err == nil {
		t.Fatal("expected output size error")
	}
	if _, err := NewCortex("", denseGenome(1, [board.NumDirections]float64{}), ScaleLog2); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestCortexHonoursCancellation(t *testing.T) {
	c, err := NewCortex("c", denseGenome(1, [board.NumDirections]float64{}), "")
	if err != nil {
		t.Fatalf("new cortex: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.RunStep(ctx, make([]float64, board.Cells)); err == nil {
		t.Fatal("expected context error")
	}
}

func TestParseInputScaling(t *testing.T) {
	if s, err := ParseInputScaling(""); err != nil || s != ScaleLog2 {
		t.Fatalf("default scaling: got=%s err=%v", s, err)
	}
	if s, err := ParseInputScaling("MAX"); err != nil || s != ScaleMax {
		t.Fatalf("max scaling: got=%s err=%v", s, err)
	}
	if _, err := ParseInputScaling("sqrt"); err == nil {
		t.Fatal("expected unknown scaling error")
	}
}

func TestFixedOrder(t *testing.T) {
	a, err := NewFixedOrder("f", CornerOrder)
	if err != nil {
		t.Fatalf("new fixed order: %v", err)
	}
	got, _ := a.Decide(context.Background(), [board.Cells]int{})
	got[0] = board.Down
	again, _ := a.Decide(context.Background(), [board.Cells]int{})
	if again[0] != board.Left {
		t.Fatal("callers must not be able to mutate the stored order")
	}
	if _, err := NewFixedOrder("f", []board.Direction{board.Left, board.Left, board.Up, board.Down}); err == nil {
		t.Fatal("expected permutation error")
	}
}

func TestRandomReturnsPermutations(t *testing.T) {
	a := NewRandom("r", 9)
	seen := map[board.Direction]bool{}
	for i := 0; i < 100; i++ {
		order, err := a.Decide(context.Background(), [board.Cells]int{})
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if !board.IsPermutation(order) {
			t.Fatalf("not a permutation: %v", order)
		}
		seen[order[0]] = true
	}
	if len(seen) != board.NumDirections {
		t.Fatalf("expected every direction first at least once: %v", seen)
	}
}

func TestGreedyRanksBlockedDirectionsLast(t *testing.T) {
	g, err := board.FromRows([]int{2, 2, 0, 0}, []int{4, 0, 0, 0})
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	a := NewGreedy("g", heuristic.Default())
	order, err := a.Decide(context.Background(), g.Tiles())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !board.IsPermutation(order) {
		t.Fatalf("not a permutation: %v", order)
	}
	// Left merges the pair into the top-left corner; Up cannot move.
	if order[0] != board.Left {
		t.Fatalf("expected left first, got %v", order)
	}
	if order[3] != board.Up {
		t.Fatalf("expected up last, got %v", order)
	}
}

func TestNewBuiltin(t *testing.T) {
	for _, kind := range []string{KindCorner, KindRandom, KindGreedy, KindFixed} {
		a, err := NewBuiltin(kind, kind+"-1", 1, heuristic.Default(), CornerOrder)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if a.ID() != kind+"-1" {
			t.Fatalf("%s: unexpected id %s", kind, a.ID())
		}
	}
	if _, err := NewBuiltin("oracle", "x", 1, heuristic.Default(), nil); err == nil {
		t.Fatal("expected unknown kind error")
	}
	if _, err := NewBuiltin(KindFixed, "x", 1, heuristic.Default(), []board.Direction{board.Left}); err == nil {
		t.Fatal("expected incomplete fixed order error")
	}
}
