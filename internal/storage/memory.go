package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"evo2048/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type runRecords struct {
	history     []float64
	diagnostics []model.GenerationDiagnostics
	top         []model.TopGenomeRecord
	lineage     []model.LineageRecord
	hasHistory  bool
	hasDiag     bool
	hasTop      bool
	hasLineage  bool
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	genomes     map[string]model.Genome
	populations map[string]model.Population
	summaries   map[string]model.RunSummary
	runs        map[string]*runRecords
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.reset()
	s.initialized = true
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.initialized = true
	return nil
}

func (s *MemoryStore) reset() {
	s.genomes = make(map[string]model.Genome)
	s.populations = make(map[string]model.Population)
	s.summaries = make(map[string]model.RunSummary)
	s.runs = make(map[string]*runRecords)
}

func (s *MemoryStore) SaveGenome(_ context.Context, genome model.Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.genomes[genome.ID] = genome.Clone()
	return nil
}

func (s *MemoryStore) GetGenome(_ context.Context, id string) (model.Genome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	genome, ok := s.genomes[id]
	if !ok {
		return model.Genome{}, false, nil
	}
	return genome.Clone(), true, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	population.GenomeIDs = append([]string(nil), population.GenomeIDs...)
	s.populations[population.ID] = population
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	population, ok := s.populations[id]
	population.GenomeIDs = append([]string(nil), population.GenomeIDs...)
	return population, ok, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	return s.updateRun(runID, func(r *runRecords) {
		r.history = append([]float64(nil), history...)
		r.hasHistory = true
	})
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok || !r.hasHistory {
		return nil, false, nil
	}
	return append([]float64(nil), r.history...), true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	return s.updateRun(runID, func(r *runRecords) {
		r.diagnostics = append([]model.GenerationDiagnostics(nil), diagnostics...)
		r.hasDiag = true
	})
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok || !r.hasDiag {
		return nil, false, nil
	}
	return append([]model.GenerationDiagnostics(nil), r.diagnostics...), true, nil
}

func (s *MemoryStore) SaveTopGenomes(_ context.Context, runID string, top []model.TopGenomeRecord) error {
	return s.updateRun(runID, func(r *runRecords) {
		r.top = make([]model.TopGenomeRecord, len(top))
		for i, record := range top {
			record.Genome = record.Genome.Clone()
			r.top[i] = record
		}
		r.hasTop = true
	})
}

func (s *MemoryStore) GetTopGenomes(_ context.Context, runID string) ([]model.TopGenomeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok || !r.hasTop {
		return nil, false, nil
	}
	return append([]model.TopGenomeRecord(nil), r.top...), true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	return s.updateRun(runID, func(r *runRecords) {
		r.lineage = append([]model.LineageRecord(nil), lineage...)
		r.hasLineage = true
	})
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok || !r.hasLineage {
		return nil, false, nil
	}
	return append([]model.LineageRecord(nil), r.lineage...), true, nil
}

func (s *MemoryStore) updateRun(runID string, update func(*runRecords)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	r, ok := s.runs[runID]
	if !ok {
		r = &runRecords{}
		s.runs[runID] = r
	}
	update(r)
	return nil
}

func sortSummaries(summaries []model.RunSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].StartedAt.Equal(summaries[j].StartedAt) {
			return summaries[i].StartedAt.After(summaries[j].StartedAt)
		}
		return summaries[i].RunID < summaries[j].RunID
	})
}
