// Package tuning refines a genome's weights by stochastic hill climbing
// against a fitness function.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"evo2048/internal/model"
)

// FitnessFn scores one genome. Higher is better.
type FitnessFn func(ctx context.Context, genome model.Genome) (float64, error)

// Tuner improves a genome within attempts fitness evaluations and reports
// the fitness of what it returns.
type Tuner interface {
	Name() string
	Tune(ctx context.Context, genome model.Genome, attempts int, fitness FitnessFn) (model.Genome, float64, error)
}

const (
	CandidatesBestSoFar = "best_so_far"
	CandidatesOriginal  = "original"
	CandidatesDynamic   = "dynamic"
)

// HillClimber perturbs a handful of weights per attempt and keeps the
// candidate only when it beats the current best by more than MinImprovement.
// Each step's spread shrinks by AnnealingFactor.
type HillClimber struct {
	Rand            *rand.Rand
	Steps           int
	StepSize        float64
	AnnealingFactor float64
	MinImprovement  float64
	// Candidates picks the base of each attempt: best_so_far, original, or
	// dynamic (both).
	Candidates string

	mu sync.Mutex
}

func (h *HillClimber) Name() string {
	return "hill_climb"
}

// Validate reports whether the climber can run.
func (h *HillClimber) Validate() error {
	if h == nil || h.Rand == nil {
		return errors.New("random source is required")
	}
	if h.Steps <= 0 {
		return errors.New("steps must be > 0")
	}
	if h.StepSize <= 0 {
		return errors.New("step size must be > 0")
	}
	if h.AnnealingFactor < 0 || h.AnnealingFactor > 1 {
		return errors.New("annealing factor must be in [0, 1]")
	}
	if h.MinImprovement < 0 {
		return errors.New("min improvement must be >= 0")
	}
	switch normalizeCandidates(h.Candidates) {
	case CandidatesBestSoFar, CandidatesOriginal, CandidatesDynamic:
	default:
		return fmt.Errorf("unsupported candidate selection: %s", h.Candidates)
	}
	return nil
}

func normalizeCandidates(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return CandidatesBestSoFar
	}
	return name
}

func (h *HillClimber) Tune(ctx context.Context, genome model.Genome, attempts int, fitness FitnessFn) (model.Genome, float64, error) {
	if err := ctx.Err(); err != nil {
		return model.Genome{}, 0, err
	}
	if err := h.Validate(); err != nil {
		return model.Genome{}, 0, err
	}
	if fitness == nil {
		return model.Genome{}, 0, errors.New("fitness function is required")
	}

	best := genome.Clone()
	bestFitness, err := fitness(ctx, best)
	if err != nil {
		return model.Genome{}, 0, err
	}
	if attempts <= 0 || len(best.Synapses) == 0 {
		return best, bestFitness, nil
	}

	for a := 0; a < attempts; a++ {
		for _, base := range h.bases(best, genome) {
			candidate, err := h.perturb(ctx, base)
			if err != nil {
				return model.Genome{}, 0, err
			}
			candidateFitness, err := fitness(ctx, candidate)
			if err != nil {
				return model.Genome{}, 0, err
			}
			if candidateFitness > bestFitness+h.MinImprovement {
				best = candidate
				bestFitness = candidateFitness
			}
		}
	}
	return best, bestFitness, nil
}

func (h *HillClimber) bases(best, original model.Genome) []model.Genome {
	switch normalizeCandidates(h.Candidates) {
	case CandidatesOriginal:
		return []model.Genome{original}
	case CandidatesDynamic:
		return []model.Genome{best, original}
	default:
		return []model.Genome{best}
	}
}

func (h *HillClimber) perturb(ctx context.Context, base model.Genome) (model.Genome, error) {
	candidate := base.Clone()
	annealing := h.AnnealingFactor
	if annealing == 0 {
		annealing = 1
	}
	spread := h.StepSize
	for s := 0; s < h.Steps; s++ {
		if err := ctx.Err(); err != nil {
			return model.Genome{}, err
		}
		idx := h.randIntn(len(candidate.Synapses))
		candidate.Synapses[idx].Weight += (h.randFloat64()*2 - 1) * spread
		spread *= annealing
	}
	return candidate, nil
}

func (h *HillClimber) randIntn(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Rand.Intn(n)
}

func (h *HillClimber) randFloat64() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Rand.Float64()
}
