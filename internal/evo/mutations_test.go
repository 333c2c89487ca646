package evo

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"evo2048/internal/model"
	"evo2048/internal/nn"
)

func seedForTest(t *testing.T, hidden int) model.Genome {
	t.Helper()
	g, err := SeedGenome("g", hidden, "tanh", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("seed genome: %v", err)
	}
	return g
}

func TestSeedGenomeShape(t *testing.T) {
	g := seedForTest(t, 3)
	if len(g.InputIDs) != 16 || len(g.OutputIDs) != 4 {
		t.Fatalf("unexpected io: in=%d out=%d", len(g.InputIDs), len(g.OutputIDs))
	}
	if len(g.Neurons) != 16+3+4 {
		t.Fatalf("unexpected neuron count: %d", len(g.Neurons))
	}
	if len(g.Synapses) != 16*3+3*4 {
		t.Fatalf("unexpected synapse count: %d", len(g.Synapses))
	}
	if _, err := nn.Compile(g); err != nil {
		t.Fatalf("seed genome must compile: %v", err)
	}

	direct := seedForTest(t, 0)
	if len(direct.Synapses) != 16*4 {
		t.Fatalf("unexpected direct synapse count: %d", len(direct.Synapses))
	}
}

func TestSeedPopulationIDs(t *testing.T) {
	genomes, err := SeedPopulation(3, 0, "", rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}
	for i, g := range genomes {
		if g.ID != genomeID(0, i) {
			t.Fatalf("genome %d: unexpected id %s", i, g.ID)
		}
	}
	if genomes[0].Synapses[0].Weight == genomes[1].Synapses[0].Weight {
		t.Fatal("seed genomes should not share weights")
	}
}

func TestMutationOperatorsDoNotModifyInput(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ops := []Operator{
		&PerturbRandomWeight{Rand: rng, MaxDelta: 0.5},
		&PerturbRandomBias{Rand: rng, MaxDelta: 0.5},
		&MutateWeights{Rand: rng, MaxDelta: 0.5},
		&ChangeActivation{Rand: rng},
	}
	for _, op := range ops {
		t.Run(op.Name(), func(t *testing.T) {
			original := seedForTest(t, 2)
			snapshot := original.Clone()
			mutated, err := op.Apply(context.Background(), original)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if !sameGenome(original, snapshot) {
				t.Fatal("operator modified its input")
			}
			if sameGenome(original, mutated) {
				t.Fatal("operator produced an identical genome")
			}
			if _, err := nn.Compile(mutated); err != nil {
				t.Fatalf("mutated genome must compile: %v", err)
			}
		})
	}
}

func TestPerturbRandomBiasSkipsInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	op := &PerturbRandomBias{Rand: rng, MaxDelta: 1}
	g := seedForTest(t, 0)
	for i := 0; i < 50; i++ {
		mutated, err := op.Apply(context.Background(), g)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		for j := 0; j < 16; j++ {
			if mutated.Neurons[j].Bias != 0 {
				t.Fatalf("input neuron %s got a bias", mutated.Neurons[j].ID)
			}
		}
	}
}

func TestMutationErrors(t *testing.T) {
	empty := model.Genome{ID: "empty"}
	rng := rand.New(rand.NewSource(1))
	if _, err := (&PerturbRandomWeight{Rand: rng, MaxDelta: 1}).Apply(context.Background(), empty); !errors.Is(err, ErrNoSynapses) {
		t.Fatalf("expected ErrNoSynapses, got %v", err)
	}
	if _, err := (&MutateWeights{Rand: rng, MaxDelta: 1}).Apply(context.Background(), empty); !errors.Is(err, ErrNoSynapses) {
		t.Fatalf("expected ErrNoSynapses, got %v", err)
	}
	if _, err := (&PerturbRandomBias{Rand: rng, MaxDelta: 1}).Apply(context.Background(), empty); !errors.Is(err, ErrNoNeurons) {
		t.Fatalf("expected ErrNoNeurons, got %v", err)
	}
	if _, err := (&PerturbRandomWeight{MaxDelta: 1}).Apply(context.Background(), seedForTest(t, 0)); err == nil {
		t.Fatal("expected missing random source error")
	}
	if _, err := (&PerturbRandomWeight{Rand: rng}).Apply(context.Background(), seedForTest(t, 0)); err == nil {
		t.Fatal("expected max delta error")
	}
	single := &ChangeActivation{Rand: rng, Activations: []string{"identity"}}
	if _, err := single.Apply(context.Background(), seedForTest(t, 0)); !errors.Is(err, ErrNoMutationChoice) {
		t.Fatalf("expected ErrNoMutationChoice, got %v", err)
	}
}

func sameGenome(a, b model.Genome) bool {
	if len(a.Neurons) != len(b.Neurons) || len(a.Synapses) != len(b.Synapses) {
		return false
	}
	for i := range a.Neurons {
		if a.Neurons[i] != b.Neurons[i] {
			return false
		}
	}
	for i := range a.Synapses {
		if a.Synapses[i] != b.Synapses[i] {
			return false
		}
	}
	return true
}

func TestMutationPolicyOrderedByName(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	policy, err := MutationPolicy(map[string]float64{
		"mutate_weights":        2,
		"change_activation":     1,
		"perturb_random_weight": 0.5,
	}, rng, 0.5)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	got := make([]string, 0, len(policy))
	for _, item := range policy {
		got = append(got, item.Operator.Name())
	}
	want := []string{"change_activation", "mutate_weights", "perturb_random_weight"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order: got=%v want=%v", got, want)
	}
	if policy[1].Weight != 2 {
		t.Fatalf("unexpected weight: %f", policy[1].Weight)
	}

	if _, err := MutationPolicy(map[string]float64{"add_neuron": 1}, rng, 0.5); err == nil {
		t.Fatal("expected unknown operator error")
	}
}
