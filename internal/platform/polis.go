// Package platform wires storage, population runs and evolution together.
package platform

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"evo2048/internal/agent"
	"evo2048/internal/board"
	"evo2048/internal/ctxlog"
	"evo2048/internal/evo"
	"evo2048/internal/model"
	"evo2048/internal/population"
	"evo2048/internal/render"
	"evo2048/internal/stats"
	"evo2048/internal/storage"
)

const defaultTopSize = 5

var (
	ErrNotInitialized = errors.New("polis is not initialized")
	ErrRunActive      = errors.New("run is already active")
	ErrRunNotFound    = errors.New("run not found")
)

type Config struct {
	Store storage.Store
	// ArtifactsDir receives one directory per evolution run; empty disables
	// artifact files.
	ArtifactsDir string
	// Sink observes every loop that does not bring its own.
	Sink render.Sink
	// Now defaults to time.Now.
	Now func() time.Time
}

type PlayConfig struct {
	Loop population.Config
	// Agents are built-in strategy kinds; each gets the id "<kind>-<index>".
	Agents []string
	// FixedOrder is the ranking played by "fixed" agents.
	FixedOrder []board.Direction
}

type EvolutionConfig struct {
	RunID   string
	Monitor evo.MonitorConfig
	// Initial is seeded with HiddenNeurons and Activation when empty.
	Initial       []model.Genome
	HiddenNeurons int
	Activation    string
	TopSize       int
	// Settings is written to config.json of the run artifacts.
	Settings stats.RunConfig
}

type EvolutionResult struct {
	RunID                 string
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	BestFinalFitness      float64
	MaxTile               int
	TopFinal              []model.TopGenomeRecord
	Lineage               []model.LineageRecord
	// FinalEntries are the loop results of the last evaluated generation.
	FinalEntries []population.EntryResult
	Generations  int
	ArtifactsDir string
}

type Polis struct {
	store  storage.Store
	config Config

	mu      sync.RWMutex
	started bool
	runs    map[string]context.CancelFunc
}

func NewPolis(cfg Config) *Polis {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Polis{
		store:  cfg.Store,
		config: cfg,
		runs:   make(map[string]context.CancelFunc),
	}
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) Store() storage.Store {
	return p.store
}

// Reset cancels active runs and drops every stored record when the store
// supports it.
func (p *Polis) Reset(ctx context.Context) error {
	p.mu.Lock()
	for runID, cancel := range p.runs {
		cancel()
		delete(p.runs, runID)
	}
	p.started = false
	p.mu.Unlock()

	if resetter, ok := p.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return p.Init(ctx)
}

// StopRun cancels an active evolution run. The run persists the generations
// finished so far.
func (p *Polis) StopRun(runID string) error {
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	cancel()
	return nil
}

// ActiveRuns lists running evolution ids in lexical order.
func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.runs))
	for runID := range p.runs {
		out = append(out, runID)
	}
	sort.Strings(out)
	return out
}

func (p *Polis) registerRun(runID string, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	p.runs[runID] = cancel
	return nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}

// Play runs one population of built-in strategies to completion.
func (p *Polis) Play(ctx context.Context, cfg PlayConfig) (population.Report, error) {
	if len(cfg.Agents) == 0 {
		return population.Report{}, fmt.Errorf("at least one agent is required")
	}
	loopCfg := cfg.Loop
	if loopCfg.Sink == nil {
		loopCfg.Sink = p.config.Sink
	}
	loop, err := population.NewLoop(loopCfg)
	if err != nil {
		return population.Report{}, err
	}
	agents := make([]population.Agent, 0, len(cfg.Agents))
	for i, kind := range cfg.Agents {
		a, err := agent.NewBuiltin(kind, fmt.Sprintf("%s-%d", kind, i), loopCfg.Seed+int64(i)+1, loopCfg.Evaluator, cfg.FixedOrder)
		if err != nil {
			return population.Report{}, err
		}
		agents = append(agents, a)
	}
	if err := loop.AddAll(agents...); err != nil {
		return population.Report{}, err
	}
	return loop.Run(ctx)
}

// RunEvolution evolves a population and persists its history, top genomes,
// lineage and summary. A cancelled run that finished at least one generation
// is persisted and returned together with the context error.
func (p *Polis) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if !p.Started() {
		return EvolutionResult{}, ErrNotInitialized
	}
	runID := cfg.RunID
	if runID == "" {
		runID = NewRunID()
	}
	topSize := cfg.TopSize
	if topSize <= 0 {
		topSize = defaultTopSize
	}
	monitorCfg := cfg.Monitor
	if monitorCfg.Loop.Sink == nil {
		monitorCfg.Loop.Sink = p.config.Sink
	}

	initial := cfg.Initial
	if len(initial) == 0 {
		seeded, err := evo.SeedPopulation(monitorCfg.PopulationSize, cfg.HiddenNeurons, cfg.Activation, rand.New(rand.NewSource(monitorCfg.Seed)))
		if err != nil {
			return EvolutionResult{}, err
		}
		initial = seeded
	}
	monitor, err := evo.NewPopulationMonitor(monitorCfg)
	if err != nil {
		return EvolutionResult{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.registerRun(runID, cancel); err != nil {
		return EvolutionResult{}, err
	}
	defer p.unregisterRun(runID)

	log := ctxlog.FromContext(ctx).With("run_id", runID)
	runCtx = ctxlog.WithLogger(runCtx, log)
	startedAt := p.config.Now().UTC()
	log.Info("evolution started", "population", monitorCfg.PopulationSize, "generations", monitorCfg.Generations, "seed", monitorCfg.Seed)

	result, runErr := monitor.Run(runCtx, initial)
	if runErr != nil && (runCtx.Err() == nil || result.Generations == 0) {
		return EvolutionResult{}, runErr
	}
	if runErr != nil {
		log.Warn("evolution stopped early", "generations", result.Generations, "error", runErr)
	}

	out := EvolutionResult{
		RunID:                 runID,
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		TopFinal:              result.TopGenomes(topSize),
		Lineage:               result.Lineage,
		Generations:           result.Generations,
	}
	for _, diag := range result.GenerationDiagnostics {
		out.MaxTile = max(out.MaxTile, diag.MaxTile)
	}
	if n := len(result.BestByGeneration); n > 0 {
		out.BestFinalFitness = result.BestByGeneration[n-1]
	}
	for _, scored := range result.FinalPopulation {
		out.FinalEntries = append(out.FinalEntries, scored.Result)
	}

	// Persist even when the caller's context is already cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if err := p.persist(persistCtx, result, out, monitorCfg, startedAt); err != nil {
		return EvolutionResult{}, err
	}
	if p.config.ArtifactsDir != "" {
		dir, err := p.writeArtifacts(cfg, out, startedAt)
		if err != nil {
			return EvolutionResult{}, err
		}
		out.ArtifactsDir = dir
	}
	log.Info("evolution finished", "generations", out.Generations, "best", out.BestFinalFitness, "max_tile", out.MaxTile)
	return out, runErr
}

func (p *Polis) persist(ctx context.Context, result evo.RunResult, out EvolutionResult, cfg evo.MonitorConfig, startedAt time.Time) error {
	version := storage.CurrentVersion()
	finalGenomes := make([]model.Genome, 0, len(result.FinalPopulation))
	for _, scored := range result.FinalPopulation {
		finalGenomes = append(finalGenomes, scored.Genome)
	}
	if err := savePopulationSnapshot(ctx, p.store, out.RunID, out.Generations, finalGenomes); err != nil {
		return err
	}
	if err := p.store.SaveFitnessHistory(ctx, out.RunID, out.BestByGeneration); err != nil {
		return err
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, out.RunID, out.GenerationDiagnostics); err != nil {
		return err
	}
	if err := p.store.SaveLineage(ctx, out.RunID, out.Lineage); err != nil {
		return err
	}
	top := make([]model.TopGenomeRecord, len(out.TopFinal))
	for i, item := range out.TopFinal {
		item.Genome = item.Genome.Clone()
		item.Genome.VersionedRecord = version
		top[i] = item
	}
	if err := p.store.SaveTopGenomes(ctx, out.RunID, top); err != nil {
		return err
	}
	return p.store.SaveRunSummary(ctx, model.RunSummary{
		VersionedRecord: version,
		RunID:           out.RunID,
		StartedAt:       startedAt,
		Seed:            cfg.Seed,
		Generations:     out.Generations,
		PopulationSize:  cfg.PopulationSize,
		BestFitness:     out.BestFinalFitness,
		MaxTile:         out.MaxTile,
	})
}

func savePopulationSnapshot(ctx context.Context, store storage.Store, populationID string, generation int, genomes []model.Genome) error {
	if populationID == "" {
		return fmt.Errorf("population id is required")
	}
	version := storage.CurrentVersion()
	ids := make([]string, 0, len(genomes))
	seen := make(map[string]struct{}, len(genomes))
	for _, g := range genomes {
		g.VersionedRecord = version
		if err := store.SaveGenome(ctx, g); err != nil {
			return err
		}
		if _, ok := seen[g.ID]; ok {
			continue
		}
		seen[g.ID] = struct{}{}
		ids = append(ids, g.ID)
	}
	return store.SavePopulation(ctx, model.Population{
		VersionedRecord: version,
		ID:              populationID,
		GenomeIDs:       ids,
		Generation:      generation,
	})
}

func (p *Polis) writeArtifacts(cfg EvolutionConfig, out EvolutionResult, startedAt time.Time) (string, error) {
	settings := cfg.Settings
	settings.RunID = out.RunID
	dir, err := stats.WriteRunArtifacts(p.config.ArtifactsDir, stats.RunArtifacts{
		Config:                settings,
		BestByGeneration:      out.BestByGeneration,
		GenerationDiagnostics: out.GenerationDiagnostics,
		FinalBestFitness:      out.BestFinalFitness,
		TopGenomes:            out.TopFinal,
		Lineage:               out.Lineage,
		Entries:               out.FinalEntries,
	})
	if err != nil {
		return "", err
	}
	err = stats.AppendRunIndex(p.config.ArtifactsDir, stats.RunIndexEntry{
		RunID:            out.RunID,
		PopulationSize:   cfg.Monitor.PopulationSize,
		Generations:      out.Generations,
		Seed:             cfg.Monitor.Seed,
		Workers:          cfg.Monitor.Loop.Workers,
		EliteCount:       cfg.Monitor.EliteCount,
		FinalBestFitness: out.BestFinalFitness,
		MaxTile:          out.MaxTile,
		CreatedAtUTC:     startedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}
