package evo

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"evo2048/internal/model"
	"evo2048/internal/population"
	"evo2048/internal/tuning"
)

type failingMutation struct{}

func (failingMutation) Name() string { return "failing" }

func (failingMutation) Apply(context.Context, model.Genome) (model.Genome, error) {
	return model.Genome{}, errors.New("forced failure")
}

func monitorConfig(seed int64) MonitorConfig {
	loop := population.DefaultConfig()
	loop.MaxTicks = 150
	rng := rand.New(rand.NewSource(seed))
	return MonitorConfig{
		Loop: loop,
		MutationPolicy: []WeightedMutation{
			{Operator: &MutateWeights{Rand: rng, MaxDelta: 0.5}, Weight: 2},
			{Operator: &PerturbRandomBias{Rand: rng, MaxDelta: 0.5}, Weight: 1},
		},
		Selector:       TournamentSelector{},
		PopulationSize: 6,
		EliteCount:     2,
		Generations:    3,
		Seed:           seed,
	}
}

func runMonitor(t *testing.T, cfg MonitorConfig) RunResult {
	t.Helper()
	monitor, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	initial, err := SeedPopulation(cfg.PopulationSize, 0, "", rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}
	result, err := monitor.Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result
}

func TestPopulationMonitorRunsGenerations(t *testing.T) {
	cfg := monitorConfig(11)
	result := runMonitor(t, cfg)

	if result.Generations != 3 || len(result.BestByGeneration) != 3 || len(result.GenerationDiagnostics) != 3 {
		t.Fatalf("unexpected history lengths: gens=%d best=%d diag=%d", result.Generations, len(result.BestByGeneration), len(result.GenerationDiagnostics))
	}
	if len(result.FinalPopulation) != cfg.PopulationSize {
		t.Fatalf("final population: got=%d want=%d", len(result.FinalPopulation), cfg.PopulationSize)
	}
	for i := 1; i < len(result.FinalPopulation); i++ {
		if result.FinalPopulation[i].Fitness > result.FinalPopulation[i-1].Fitness {
			t.Fatal("final population must be ranked best first")
		}
	}
	for i, diag := range result.GenerationDiagnostics {
		if diag.Generation != i+1 {
			t.Fatalf("diagnostics %d has generation %d", i, diag.Generation)
		}
		if diag.BestFitness < diag.MeanFitness || diag.MeanFitness < diag.MinFitness {
			t.Fatalf("inconsistent diagnostics: %+v", diag)
		}
		if diag.MaxTile < 4 {
			t.Fatalf("implausible max tile: %+v", diag)
		}
	}
	// Seed records plus one record per genome for each later generation.
	if want := cfg.PopulationSize * cfg.Generations; len(result.Lineage) != want {
		t.Fatalf("lineage: got=%d want=%d", len(result.Lineage), want)
	}

	ids := map[string]bool{}
	for _, item := range result.FinalPopulation {
		if ids[item.Genome.ID] {
			t.Fatalf("duplicate genome id %s", item.Genome.ID)
		}
		ids[item.Genome.ID] = true
	}

	top := result.TopGenomes(2)
	if len(top) != 2 || top[0].Rank != 1 || top[0].Genome.ID != result.FinalPopulation[0].Genome.ID {
		t.Fatalf("unexpected top genomes: %+v", top)
	}
}

func TestPopulationMonitorIsDeterministic(t *testing.T) {
	first := runMonitor(t, monitorConfig(5))
	second := runMonitor(t, monitorConfig(5))
	if diff := cmp.Diff(first.BestByGeneration, second.BestByGeneration); diff != "" {
		t.Fatalf("same seed produced different histories (-first +second):\n%s", diff)
	}
}

func TestPopulationMonitorReportsGameFitness(t *testing.T) {
	cfg := monitorConfig(7)
	cfg.Postprocessor = SizeProportionalPostprocessor{}
	result := runMonitor(t, cfg)

	best := result.FinalPopulation[0].Result.Fitness
	for _, item := range result.FinalPopulation {
		best = max(best, item.Result.Fitness)
	}
	last := len(result.BestByGeneration) - 1
	if result.BestByGeneration[last] != best {
		t.Fatalf("best by generation: got=%f want game fitness %f", result.BestByGeneration[last], best)
	}
	if diag := result.GenerationDiagnostics[last]; diag.BestFitness != best {
		t.Fatalf("diagnostics best: got=%f want=%f", diag.BestFitness, best)
	}
	for i, rec := range result.TopGenomes(3) {
		if want := result.FinalPopulation[i].Result.Fitness; rec.Fitness != want {
			t.Fatalf("top %d: fitness=%f want game fitness %f", rec.Rank, rec.Fitness, want)
		}
	}
}

func TestPopulationMonitorKeepsElites(t *testing.T) {
	cfg := monitorConfig(3)
	cfg.Generations = 2
	result := runMonitor(t, cfg)
	elites := 0
	for _, rec := range result.Lineage {
		if rec.Operation == "elite_clone" {
			elites++
			if rec.GenomeID != rec.ParentID {
				t.Fatalf("elite clone must keep its id: %+v", rec)
			}
		}
	}
	if elites != cfg.EliteCount {
		t.Fatalf("elite records: got=%d want=%d", elites, cfg.EliteCount)
	}
}

func TestPopulationMonitorFallsBackOnFailingOperator(t *testing.T) {
	cfg := monitorConfig(4)
	cfg.Generations = 2
	cfg.Mutation = &PerturbRandomWeight{Rand: rand.New(rand.NewSource(1)), MaxDelta: 0.3}
	cfg.MutationPolicy = []WeightedMutation{{Operator: failingMutation{}, Weight: 1}}
	result := runMonitor(t, cfg)
	fallbacks := 0
	for _, rec := range result.Lineage {
		if rec.Operation == "perturb_random_weight(fallback)" {
			fallbacks++
		}
	}
	if fallbacks != cfg.PopulationSize-cfg.EliteCount {
		t.Fatalf("fallback records: got=%d want=%d", fallbacks, cfg.PopulationSize-cfg.EliteCount)
	}
}

func TestPopulationMonitorReturnsPartialResultOnCancel(t *testing.T) {
	cfg := monitorConfig(8)
	monitor, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	initial, err := SeedPopulation(cfg.PopulationSize, 0, "", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := monitor.Run(ctx, initial)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Generations != 0 {
		t.Fatalf("expected no evaluated generation, got %d", result.Generations)
	}
}

func TestNewPopulationMonitorValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MonitorConfig)
	}{
		{name: "no-mutation", mutate: func(c *MonitorConfig) { c.MutationPolicy = nil }},
		{name: "zero-population", mutate: func(c *MonitorConfig) { c.PopulationSize = 0 }},
		{name: "elite-too-large", mutate: func(c *MonitorConfig) { c.EliteCount = 7 }},
		{name: "zero-generations", mutate: func(c *MonitorConfig) { c.Generations = 0 }},
		{name: "negative-weight", mutate: func(c *MonitorConfig) { c.MutationPolicy[0].Weight = -1 }},
		{name: "bad-loop", mutate: func(c *MonitorConfig) { c.Loop.Workers = -1 }},
		{name: "negative-tune-attempts", mutate: func(c *MonitorConfig) { c.Tuner = &bumpTuner{}; c.TuneAttempts = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := monitorConfig(1)
			tc.mutate(&cfg)
			if _, err := NewPopulationMonitor(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

type bumpTuner struct {
	calls int
}

func (*bumpTuner) Name() string { return "bump" }

func (b *bumpTuner) Tune(ctx context.Context, genome model.Genome, attempts int, fitness tuning.FitnessFn) (model.Genome, float64, error) {
	b.calls++
	out := genome.Clone()
	out.Synapses[0].Weight += float64(attempts)
	score, err := fitness(ctx, out)
	return out, score, err
}

func TestPopulationMonitorTunesElites(t *testing.T) {
	cfg := monitorConfig(8)
	tuner := &bumpTuner{}
	cfg.Tuner = tuner
	cfg.TuneAttempts = 2
	result := runMonitor(t, cfg)

	tuned := 0
	for _, rec := range result.Lineage {
		if rec.Operation == "elite_clone+bump" {
			tuned++
		}
	}
	want := cfg.EliteCount * (cfg.Generations - 1)
	if tuned != want || tuner.calls != want {
		t.Fatalf("expected %d tuned elites, got lineage=%d calls=%d", want, tuned, tuner.calls)
	}
}

func TestPopulationMonitorRunsWithHillClimber(t *testing.T) {
	cfg := monitorConfig(9)
	cfg.Loop.MaxTicks = 60
	cfg.Generations = 2
	cfg.Tuner = &tuning.HillClimber{Rand: rand.New(rand.NewSource(9)), Steps: 2, StepSize: 0.5}
	cfg.TuneAttempts = 3
	cfg.TuneAttemptPolicy = tuning.LinearDecayAttemptPolicy{MinAttempts: 1}
	result := runMonitor(t, cfg)
	if result.Generations != 2 {
		t.Fatalf("expected 2 generations, got %d", result.Generations)
	}
}

func TestPopulationMonitorRanksByPostprocessedFitness(t *testing.T) {
	cfg := monitorConfig(12)
	cfg.Generations = 1
	cfg.Postprocessor = SizeProportionalPostprocessor{}
	result := runMonitor(t, cfg)
	for _, item := range result.FinalPopulation {
		if item.Result.Fitness > 0 && item.Fitness >= item.Result.Fitness {
			t.Fatalf("expected size penalty on %s: ranked=%f game=%f", item.Genome.ID, item.Fitness, item.Result.Fitness)
		}
	}
}
