// Package evo2048 is the programmatic entry point for playing and evolving
// 2048 agents and for reading back stored runs.
package evo2048

import (
	"context"
	"errors"
	"fmt"

	"evo2048/internal/board"
	"evo2048/internal/config"
	"evo2048/internal/model"
	"evo2048/internal/platform"
	"evo2048/internal/population"
	"evo2048/internal/render"
	"evo2048/internal/stats"
	"evo2048/internal/storage"
)

const defaultDBPath = "evo2048.db"

type Options struct {
	StoreKind string
	DBPath    string
	// ArtifactsDir receives run artifacts; empty disables them.
	ArtifactsDir string
	Sink         render.Sink
}

type Client struct {
	store storage.Store
	polis *platform.Polis
	opts  Options
}

type PlayRequest struct {
	Config config.Run
	Sink   render.Sink
}

type PlaySummary struct {
	Report  population.Report
	Summary stats.Summary
}

type EvolveRequest struct {
	RunID  string
	Config config.Run
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Generations      int
	BestByGeneration []float64
	FinalBestFitness float64
	MaxTile          int
}

// RunRef selects one stored run, either by id or the newest one.
type RunRef struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	if opts.StoreKind == "" {
		opts.StoreKind = storage.DefaultStoreKind()
	}
	if opts.DBPath == "" {
		opts.DBPath = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, opts.DBPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, opts: opts}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

// Play runs the configured built-in agents in one population.
func (c *Client) Play(ctx context.Context, req PlayRequest) (PlaySummary, error) {
	if err := req.Config.Validate(); err != nil {
		return PlaySummary{}, err
	}
	loop, err := req.Config.LoopConfig()
	if err != nil {
		return PlaySummary{}, err
	}
	loop.Sink = req.Sink
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return PlaySummary{}, err
	}
	order, err := req.Config.FixedOrderDirections()
	if err != nil {
		return PlaySummary{}, err
	}
	report, err := p.Play(ctx, platform.PlayConfig{Loop: loop, Agents: req.Config.Agents, FixedOrder: order})
	if err != nil {
		return PlaySummary{}, err
	}
	return PlaySummary{Report: report, Summary: stats.Summarize(report)}, nil
}

// Evolve runs an evolution and persists it. A cancelled run returns the
// generations it finished together with the context error.
func (c *Client) Evolve(ctx context.Context, req EvolveRequest) (RunSummary, error) {
	monitor, err := req.Config.MonitorConfig()
	if err != nil {
		return RunSummary{}, err
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	result, runErr := p.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:         req.RunID,
		Monitor:       monitor,
		HiddenNeurons: req.Config.HiddenNeurons,
		Activation:    req.Config.Activation,
		TopSize:       req.Config.TopSize,
		Settings:      runSettings(req.Config, monitor.Loop),
	})
	if result.RunID == "" {
		return RunSummary{}, runErr
	}
	return RunSummary{
		RunID:            result.RunID,
		ArtifactsDir:     result.ArtifactsDir,
		Generations:      result.Generations,
		BestByGeneration: result.BestByGeneration,
		FinalBestFitness: result.BestFinalFitness,
		MaxTile:          result.MaxTile,
	}, runErr
}

func runSettings(cfg config.Run, loop population.Config) stats.RunConfig {
	var corner [board.NumDirections][2]float64
	for _, d := range board.AllDirections {
		corner[d] = [2]float64{loop.CornerPenalty[d].Empty, loop.CornerPenalty[d].Small}
	}
	return stats.RunConfig{
		Spawn:               cfg.Spawn,
		EmptyBias:           cfg.EmptyBias,
		PerTickReward:       cfg.PerTickReward,
		DirectionBonus:      loop.DirectionBonus,
		CornerPenalty:       corner,
		MissPenalty:         cfg.MissPenalty,
		TerminalPenalty:     cfg.TerminalPenalty,
		AgentFailurePenalty: cfg.AgentFailurePenalty,
		MaxTicks:            cfg.MaxTicks,
		PopulationSize:      cfg.Population,
		Generations:         cfg.Generations,
		EliteCount:          cfg.EliteCount,
		Selection:           cfg.Selection,
		Postprocessor:       cfg.Postprocessor,
		HiddenNeurons:       cfg.HiddenNeurons,
		Activation:          cfg.Activation,
		InputScaling:        cfg.InputScaling,
		MutationsPerChild:   cfg.MutationsPerChild,
		TuneAttempts:        cfg.TuneAttempts,
		TunePolicy:          cfg.TunePolicy,
		Seed:                cfg.Seed,
		Workers:             cfg.Workers,
	}
}

// Runs lists stored runs newest first; limit <= 0 returns all of them.
func (c *Client) Runs(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRunSummaries(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (c *Client) FitnessHistory(ctx context.Context, ref RunRef) ([]float64, error) {
	runID, err := c.resolve(ctx, ref, "fitness history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	return limited(history, ref.Limit), nil
}

func (c *Client) Diagnostics(ctx context.Context, ref RunRef) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolve(ctx, ref, "diagnostics")
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	return limited(diagnostics, ref.Limit), nil
}

func (c *Client) TopGenomes(ctx context.Context, ref RunRef) ([]model.TopGenomeRecord, error) {
	runID, err := c.resolve(ctx, ref, "top genomes")
	if err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopGenomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("top genomes not found for run id: %s", runID)
	}
	return limited(top, ref.Limit), nil
}

func (c *Client) Lineage(ctx context.Context, ref RunRef) ([]model.LineageRecord, error) {
	runID, err := c.resolve(ctx, ref, "lineage")
	if err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	return limited(lineage, ref.Limit), nil
}

func (c *Client) resolve(ctx context.Context, ref RunRef, what string) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return "", err
	}
	if !ref.Latest {
		if ref.RunID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return ref.RunID, nil
	}
	runs, err := c.store.ListRunSummaries(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[0].RunID, nil
}

func limited[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{Store: c.store, ArtifactsDir: c.opts.ArtifactsDir, Sink: c.opts.Sink})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}
