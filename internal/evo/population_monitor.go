// Package evo evolves 2048 players: every generation plays one population
// run and the fittest genomes seed the next.
package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"evo2048/internal/agent"
	"evo2048/internal/ctxlog"
	"evo2048/internal/model"
	"evo2048/internal/population"
	"evo2048/internal/tuning"
)

type ScoredGenome struct {
	Genome  model.Genome
	Fitness float64
	Result  population.EntryResult
}

// RunResult reports game fitness. The postprocessor only decides the order of
// FinalPopulation and of the parents it selects.
type RunResult struct {
	// BestByGeneration is the highest game fitness of every generation.
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	// FinalPopulation is the last evaluated generation, best first.
	FinalPopulation []ScoredGenome
	Lineage         []model.LineageRecord
	// Generations is the number of generations actually evaluated.
	Generations int
}

// TopGenomes returns the n top-ranked genomes of the final generation with
// their game fitness.
func (r RunResult) TopGenomes(n int) []model.TopGenomeRecord {
	n = min(n, len(r.FinalPopulation))
	out := make([]model.TopGenomeRecord, 0, max(n, 0))
	for i := 0; i < n; i++ {
		item := r.FinalPopulation[i]
		out = append(out, model.TopGenomeRecord{
			Rank:    i + 1,
			Fitness: item.Result.Fitness,
			MaxTile: item.Result.MaxTile,
			Genome:  item.Genome,
		})
	}
	return out
}

type MonitorConfig struct {
	// Loop configures the game run of every generation. Its Seed is replaced
	// by one drawn from the monitor's random source.
	Loop           population.Config
	Mutation       Operator
	MutationPolicy []WeightedMutation
	Selector       Selector
	// Postprocessor adjusts fitness before ranking; nil ranks by game
	// fitness.
	Postprocessor  FitnessPostprocessor
	PopulationSize int
	EliteCount     int
	Generations    int
	// MutationsPerChild is how many operators are applied to each child.
	MutationsPerChild int
	Seed              int64
	InputScaling      agent.InputScaling

	// Tuner, when set, hill-climbs every elite before it is carried over.
	// Candidates are scored on one solo game whose seed is fixed per
	// generation.
	Tuner             tuning.Tuner
	TuneAttempts      int
	TuneAttemptPolicy tuning.AttemptPolicy
}

type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Mutation == nil && len(cfg.MutationPolicy) == 0 {
		return nil, fmt.Errorf("mutation operator or policy is required")
	}
	positivePolicyWeight := false
	for i, item := range cfg.MutationPolicy {
		if item.Operator == nil {
			return nil, fmt.Errorf("mutation policy operator is required at index %d", i)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("mutation policy weight must be >= 0 at index %d", i)
		}
		if item.Weight > 0 {
			positivePolicyWeight = true
		}
	}
	if len(cfg.MutationPolicy) > 0 && !positivePolicyWeight {
		return nil, fmt.Errorf("mutation policy requires at least one positive weight")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.EliteCount <= 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("elite count must be in [1, population size]")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.MutationsPerChild <= 0 {
		cfg.MutationsPerChild = 1
	}
	if cfg.Selector == nil {
		cfg.Selector = EliteSelector{}
	}
	if cfg.Postprocessor == nil {
		cfg.Postprocessor = NoopFitnessPostprocessor{}
	}
	if err := cfg.Loop.Validate(); err != nil {
		return nil, fmt.Errorf("loop config: %w", err)
	}
	if cfg.Tuner != nil && cfg.TuneAttempts < 0 {
		return nil, fmt.Errorf("tune attempts must be >= 0")
	}
	if cfg.Tuner != nil && cfg.TuneAttemptPolicy == nil {
		cfg.TuneAttemptPolicy = tuning.FixedAttemptPolicy{}
	}

	return &PopulationMonitor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run evolves initial for the configured number of generations. When ctx is
// cancelled the generations evaluated so far are returned together with the
// context error.
func (m *PopulationMonitor) Run(ctx context.Context, initial []model.Genome) (RunResult, error) {
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}
	log := ctxlog.FromContext(ctx)

	current := make([]model.Genome, len(initial))
	copy(current, initial)

	result := RunResult{
		BestByGeneration:      make([]float64, 0, m.cfg.Generations),
		GenerationDiagnostics: make([]model.GenerationDiagnostics, 0, m.cfg.Generations),
		Lineage:               make([]model.LineageRecord, 0, len(initial)*(m.cfg.Generations+1)),
	}
	for _, genome := range current {
		result.Lineage = append(result.Lineage, model.LineageRecord{
			GenomeID:   genome.ID,
			Generation: 0,
			Operation:  "seed",
		})
	}

	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		scored, report, err := m.evaluatePopulation(ctx, current)
		if err != nil {
			return result, fmt.Errorf("generation %d: %w", gen, err)
		}
		// A generation interrupted mid-run is not comparable; drop it.
		if err := ctx.Err(); err != nil {
			return result, err
		}
		scored = m.cfg.Postprocessor.Process(scored)
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Fitness > scored[j].Fitness
		})

		diag := summarizeGeneration(scored, report, gen+1)
		result.BestByGeneration = append(result.BestByGeneration, diag.BestFitness)
		result.GenerationDiagnostics = append(result.GenerationDiagnostics, diag)
		result.FinalPopulation = scored
		result.Generations = gen + 1
		log.Info("generation evaluated",
			"generation", diag.Generation,
			"best", diag.BestFitness,
			"mean", diag.MeanFitness,
			"max_tile", diag.MaxTile,
			"ticks", diag.Ticks,
		)

		if gen == m.cfg.Generations-1 {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var lineage []model.LineageRecord
		current, lineage, err = m.nextGeneration(ctx, scored, gen)
		if err != nil {
			return result, err
		}
		result.Lineage = append(result.Lineage, lineage...)
	}
	return result, nil
}

func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, genomes []model.Genome) ([]ScoredGenome, population.Report, error) {
	cfg := m.cfg.Loop
	cfg.Seed = m.rng.Int63()
	loop, err := population.NewLoop(cfg)
	if err != nil {
		return nil, population.Report{}, err
	}
	byID := make(map[string]model.Genome, len(genomes))
	for _, genome := range genomes {
		cortex, err := agent.NewCortex(genome.ID, genome, m.cfg.InputScaling)
		if err != nil {
			return nil, population.Report{}, err
		}
		if err := loop.Add(cortex); err != nil {
			return nil, population.Report{}, err
		}
		byID[genome.ID] = genome
	}

	report, err := loop.Run(ctx)
	if err != nil {
		return nil, population.Report{}, err
	}
	scored := make([]ScoredGenome, 0, len(report.Results))
	for _, res := range report.Results {
		scored = append(scored, ScoredGenome{Genome: byID[res.EntryID], Fitness: res.Fitness, Result: res})
	}
	return scored, report, nil
}

func summarizeGeneration(scored []ScoredGenome, report population.Report, generation int) model.GenerationDiagnostics {
	diag := model.GenerationDiagnostics{Generation: generation, MaxTile: report.MaxTile, Ticks: report.Ticks}
	if len(scored) == 0 {
		return diag
	}

	total, moves, points := 0.0, 0, 0
	best, worst := scored[0].Result.Fitness, scored[0].Result.Fitness
	for _, item := range scored {
		total += item.Result.Fitness
		moves += item.Result.Moves
		points += item.Result.Points
		best = max(best, item.Result.Fitness)
		worst = min(worst, item.Result.Fitness)
	}
	n := float64(len(scored))
	diag.BestFitness = best
	diag.MeanFitness = total / n
	diag.MinFitness = worst
	diag.MeanMoves = float64(moves) / n
	diag.MeanPoints = float64(points) / n
	return diag
}

func (m *PopulationMonitor) nextGeneration(ctx context.Context, ranked []ScoredGenome, generation int) ([]model.Genome, []model.LineageRecord, error) {
	next := make([]model.Genome, 0, m.cfg.PopulationSize)
	lineage := make([]model.LineageRecord, 0, m.cfg.PopulationSize)
	nextGeneration := generation + 1

	tuneSeed := m.rng.Int63()
	for i := 0; i < m.cfg.EliteCount; i++ {
		elite := ranked[i].Genome.Clone()
		operation := "elite_clone"
		if m.cfg.Tuner != nil {
			tuned, changed, err := m.tuneElite(ctx, elite, generation, tuneSeed)
			if err != nil {
				return nil, nil, fmt.Errorf("tune elite %s: %w", elite.ID, err)
			}
			if changed {
				elite = tuned
				operation += "+" + m.cfg.Tuner.Name()
			}
		}
		next = append(next, elite)
		lineage = append(lineage, model.LineageRecord{
			GenomeID:   elite.ID,
			ParentID:   elite.ID,
			Generation: nextGeneration,
			Operation:  operation,
		})
	}

	for len(next) < m.cfg.PopulationSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		parent, err := m.cfg.Selector.PickParent(m.rng, ranked, m.cfg.EliteCount)
		if err != nil {
			return nil, nil, err
		}
		child, record, err := m.mutateFromParent(ctx, parent, nextGeneration, len(next))
		if err != nil {
			return nil, nil, err
		}
		next = append(next, child)
		lineage = append(lineage, record)
	}
	return next, lineage, nil
}

func (m *PopulationMonitor) mutateFromParent(ctx context.Context, parent model.Genome, generation, index int) (model.Genome, model.LineageRecord, error) {
	mutated := parent.Clone()
	operationNames := make([]string, 0, m.cfg.MutationsPerChild)
	for step := 0; step < m.cfg.MutationsPerChild; step++ {
		operator := m.chooseMutation()
		next, opErr := operator.Apply(ctx, mutated)
		operationName := operator.Name()
		if opErr != nil && m.cfg.Mutation != nil && operator != m.cfg.Mutation {
			next, opErr = m.cfg.Mutation.Apply(ctx, mutated)
			operationName = m.cfg.Mutation.Name() + "(fallback)"
		}
		if opErr != nil {
			if errors.Is(opErr, ErrNoSynapses) || errors.Is(opErr, ErrNoNeurons) || errors.Is(opErr, ErrNoMutationChoice) {
				operationNames = append(operationNames, "noop")
				continue
			}
			return model.Genome{}, model.LineageRecord{}, opErr
		}
		mutated = next
		operationNames = append(operationNames, operationName)
	}

	mutated.ID = genomeID(generation, index)
	mutated.ParentID = parent.ID
	mutated.Generation = generation
	return mutated, model.LineageRecord{
		GenomeID:   mutated.ID,
		ParentID:   parent.ID,
		Generation: generation,
		Operation:  strings.Join(operationNames, "+"),
	}, nil
}

func (m *PopulationMonitor) chooseMutation() Operator {
	if len(m.cfg.MutationPolicy) == 0 {
		return m.cfg.Mutation
	}

	total := 0.0
	for _, item := range m.cfg.MutationPolicy {
		total += item.Weight
	}
	pick := m.rng.Float64() * total
	acc := 0.0
	for _, item := range m.cfg.MutationPolicy {
		acc += item.Weight
		if pick <= acc {
			return item.Operator
		}
	}
	return m.cfg.MutationPolicy[len(m.cfg.MutationPolicy)-1].Operator
}

func (m *PopulationMonitor) tuneElite(ctx context.Context, genome model.Genome, generation int, seed int64) (model.Genome, bool, error) {
	attempts := m.cfg.TuneAttemptPolicy.Attempts(m.cfg.TuneAttempts, generation, m.cfg.Generations, genome)
	if attempts <= 0 {
		return genome, false, nil
	}
	tuned, _, err := m.cfg.Tuner.Tune(ctx, genome, attempts, m.soloFitness(seed))
	if err != nil {
		return model.Genome{}, false, err
	}
	return tuned, weightsChanged(genome, tuned), nil
}

// soloFitness scores a genome on its own game so candidates of one elite are
// compared on the same spawn sequence.
func (m *PopulationMonitor) soloFitness(seed int64) tuning.FitnessFn {
	return func(ctx context.Context, genome model.Genome) (float64, error) {
		cfg := m.cfg.Loop
		cfg.Seed = seed
		cfg.Workers = 1
		cfg.Sink = nil
		loop, err := population.NewLoop(cfg)
		if err != nil {
			return 0, err
		}
		cortex, err := agent.NewCortex(genome.ID, genome, m.cfg.InputScaling)
		if err != nil {
			return 0, err
		}
		if err := loop.Add(cortex); err != nil {
			return 0, err
		}
		report, err := loop.Run(ctx)
		if err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return report.Fitness()[genome.ID], nil
	}
}

func weightsChanged(a, b model.Genome) bool {
	if len(a.Synapses) != len(b.Synapses) || len(a.Neurons) != len(b.Neurons) {
		return true
	}
	for i := range a.Synapses {
		if a.Synapses[i].Weight != b.Synapses[i].Weight {
			return true
		}
	}
	for i := range a.Neurons {
		if a.Neurons[i].Bias != b.Neurons[i].Bias {
			return true
		}
	}
	return false
}
