package evo

import (
	"math/rand"
	"testing"

	"evo2048/internal/model"
)

func rankedFixture() []ScoredGenome {
	return []ScoredGenome{
		{Genome: model.Genome{ID: "a"}, Fitness: 9},
		{Genome: model.Genome{ID: "b"}, Fitness: 7},
		{Genome: model.Genome{ID: "c"}, Fitness: 5},
		{Genome: model.Genome{ID: "d"}, Fitness: 3},
		{Genome: model.Genome{ID: "e"}, Fitness: 1},
	}
}

func TestEliteSelectorStaysInEliteSet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ranked := rankedFixture()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		parent, err := EliteSelector{}.PickParent(rng, ranked, 2)
		if err != nil {
			t.Fatalf("pick parent: %v", err)
		}
		if parent.ID != "a" && parent.ID != "b" {
			t.Fatalf("picked non-elite parent %s", parent.ID)
		}
		seen[parent.ID] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected both elites picked, got %v", seen)
	}
}

func TestTournamentSelectorRespectsPool(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ranked := rankedFixture()
	selector := TournamentSelector{PoolSize: 3, TournamentSize: 2}
	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		parent, err := selector.PickParent(rng, ranked, 1)
		if err != nil {
			t.Fatalf("pick parent: %v", err)
		}
		counts[parent.ID]++
	}
	if counts["d"] != 0 || counts["e"] != 0 {
		t.Fatalf("picked outside the pool: %v", counts)
	}
	if counts["a"] <= counts["c"] {
		t.Fatalf("tournament should favour the fittest: %v", counts)
	}
}

func TestSelectorValidation(t *testing.T) {
	ranked := rankedFixture()
	if _, err := (EliteSelector{}).PickParent(nil, ranked, 1); err == nil {
		t.Fatal("expected missing random source error")
	}
	if _, err := (TournamentSelector{}).PickParent(rand.New(rand.NewSource(1)), ranked, 6); err == nil {
		t.Fatal("expected elite count error")
	}
}

func TestSelectorByName(t *testing.T) {
	for name, want := range map[string]string{"": "tournament", "Elite": "elite", "tournament": "tournament"} {
		s, err := SelectorByName(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if s.Name() != want {
			t.Fatalf("%q: got %s want %s", name, s.Name(), want)
		}
	}
	if _, err := SelectorByName("roulette"); err == nil {
		t.Fatal("expected unknown selector error")
	}
}
