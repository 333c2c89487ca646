package evo

import (
	"math"
	"math/rand"
	"testing"

	"evo2048/internal/model"
)

func seededGenome(t *testing.T, id string, hidden int) model.Genome {
	t.Helper()
	g, err := SeedGenome(id, hidden, "tanh", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("seed genome: %v", err)
	}
	return g
}

func TestSizeProportionalPostprocessorPenalizesLargerNetworks(t *testing.T) {
	small := seededGenome(t, "small", 0)
	large := seededGenome(t, "large", 6)
	scored := []ScoredGenome{
		{Genome: small, Fitness: 100},
		{Genome: large, Fitness: 100},
		{Genome: large, Fitness: -100},
	}
	out := SizeProportionalPostprocessor{}.Process(scored)

	complexity := float64(len(large.Neurons) + len(large.Synapses))
	want := 100 / math.Pow(complexity, sizeProportionalEfficiency)
	if math.Abs(out[1].Fitness-want) > 1e-9 {
		t.Fatalf("unexpected adjusted fitness: got=%f want=%f", out[1].Fitness, want)
	}
	if out[1].Fitness >= out[0].Fitness {
		t.Fatalf("larger network must rank lower: small=%f large=%f", out[0].Fitness, out[1].Fitness)
	}
	if out[2].Fitness >= -100 {
		t.Fatalf("negative fitness must not improve with size: %f", out[2].Fitness)
	}
	if scored[1].Fitness != 100 {
		t.Fatal("postprocessor modified its input")
	}
}

func TestFitnessPostprocessorByName(t *testing.T) {
	for name, want := range map[string]string{"": "none", "None": "none", "size_proportional": "size_proportional"} {
		p, err := FitnessPostprocessorByName(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if p.Name() != want {
			t.Fatalf("%q: expected %s, got %s", name, want, p.Name())
		}
	}
	if _, err := FitnessPostprocessorByName("novelty"); err == nil {
		t.Fatal("expected unsupported postprocessor error")
	}
}
