package platform

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"evo2048/internal/board"
	"evo2048/internal/evo"
	"evo2048/internal/population"
	"evo2048/internal/render"
	"evo2048/internal/stats"
	"evo2048/internal/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testMonitorConfig(seed int64) evo.MonitorConfig {
	loop := population.DefaultConfig()
	loop.MaxTicks = 60
	rng := rand.New(rand.NewSource(seed))
	return evo.MonitorConfig{
		Loop:           loop,
		Mutation:       &evo.PerturbRandomWeight{Rand: rng, MaxDelta: 0.5},
		Selector:       evo.EliteSelector{},
		PopulationSize: 4,
		EliteCount:     1,
		Generations:    2,
		Seed:           seed,
	}
}

func newTestPolis(t *testing.T, artifactsDir string) *Polis {
	t.Helper()
	p := NewPolis(Config{
		Store:        storage.NewMemoryStore(),
		ArtifactsDir: artifactsDir,
		Now:          func() time.Time { return fixedNow },
	})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return p
}

func TestInitRequiresStore(t *testing.T) {
	if err := NewPolis(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected store required error")
	}
}

func TestRunEvolutionRequiresInit(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	_, err := p.RunEvolution(context.Background(), EvolutionConfig{Monitor: testMonitorConfig(1)})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRunEvolutionPersistsRun(t *testing.T) {
	ctx := context.Background()
	artifacts := t.TempDir()
	p := newTestPolis(t, artifacts)

	result, err := p.RunEvolution(ctx, EvolutionConfig{
		RunID:         "run-a",
		Monitor:       testMonitorConfig(3),
		HiddenNeurons: 2,
		Activation:    "tanh",
		TopSize:       2,
		Settings:      stats.RunConfig{Spawn: "uniform", PopulationSize: 4, Generations: 2},
	})
	if err != nil {
		t.Fatalf("run evolution: %v", err)
	}
	if result.RunID != "run-a" || result.Generations != 2 {
		t.Fatalf("unexpected result header: id=%s generations=%d", result.RunID, result.Generations)
	}
	if len(result.BestByGeneration) != 2 || len(result.TopFinal) != 2 || len(result.FinalEntries) != 4 {
		t.Fatalf("unexpected result sizes: best=%d top=%d entries=%d", len(result.BestByGeneration), len(result.TopFinal), len(result.FinalEntries))
	}
	if result.BestFinalFitness != result.BestByGeneration[1] {
		t.Fatalf("best final %f does not match history %f", result.BestFinalFitness, result.BestByGeneration[1])
	}

	store := p.Store()
	history, ok, err := store.GetFitnessHistory(ctx, "run-a")
	if err != nil || !ok || len(history) != 2 {
		t.Fatalf("fitness history: ok=%t err=%v len=%d", ok, err, len(history))
	}
	diagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-a")
	if err != nil || !ok || len(diagnostics) != 2 {
		t.Fatalf("diagnostics: ok=%t err=%v len=%d", ok, err, len(diagnostics))
	}
	top, ok, err := store.GetTopGenomes(ctx, "run-a")
	if err != nil || !ok || len(top) != 2 {
		t.Fatalf("top genomes: ok=%t err=%v len=%d", ok, err, len(top))
	}
	if top[0].Genome.SchemaVersion != storage.CurrentSchemaVersion {
		t.Fatalf("top genome not version stamped: %+v", top[0].Genome.VersionedRecord)
	}
	lineage, ok, err := store.GetLineage(ctx, "run-a")
	if err != nil || !ok || len(lineage) != 8 {
		t.Fatalf("lineage: ok=%t err=%v len=%d", ok, err, len(lineage))
	}

	pop, ok, err := store.GetPopulation(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("population: ok=%t err=%v", ok, err)
	}
	if len(pop.GenomeIDs) != 4 || pop.Generation != 2 {
		t.Fatalf("unexpected population snapshot: %+v", pop)
	}
	if _, ok, err := store.GetGenome(ctx, pop.GenomeIDs[0]); err != nil || !ok {
		t.Fatalf("snapshot genome missing: ok=%t err=%v", ok, err)
	}

	summary, ok, err := store.GetRunSummary(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("run summary: ok=%t err=%v", ok, err)
	}
	if !summary.StartedAt.Equal(fixedNow) || summary.Generations != 2 || summary.BestFitness != result.BestFinalFitness {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if result.ArtifactsDir != filepath.Join(artifacts, "run-a") {
		t.Fatalf("unexpected artifacts dir: %s", result.ArtifactsDir)
	}
	if _, err := os.Stat(filepath.Join(result.ArtifactsDir, "entries.csv")); err != nil {
		t.Fatalf("entries.csv: %v", err)
	}
	cfg, ok, err := stats.ReadRunConfig(artifacts, "run-a")
	if err != nil || !ok || cfg.RunID != "run-a" || cfg.Spawn != "uniform" {
		t.Fatalf("run config: ok=%t err=%v cfg=%+v", ok, err, cfg)
	}
	index, err := stats.ListRunIndex(artifacts)
	if err != nil || len(index) != 1 || index[0].RunID != "run-a" {
		t.Fatalf("run index: err=%v index=%+v", err, index)
	}
	if len(p.ActiveRuns()) != 0 {
		t.Fatalf("run still registered: %v", p.ActiveRuns())
	}
}

func TestRunEvolutionGeneratesRunID(t *testing.T) {
	p := newTestPolis(t, "")
	cfg := testMonitorConfig(5)
	cfg.Generations = 1
	result, err := p.RunEvolution(context.Background(), EvolutionConfig{Monitor: cfg})
	if err != nil {
		t.Fatalf("run evolution: %v", err)
	}
	if _, err := uuid.Parse(result.RunID); err != nil {
		t.Fatalf("run id is not a uuid: %q", result.RunID)
	}
	if result.ArtifactsDir != "" {
		t.Fatalf("artifacts written without a directory: %s", result.ArtifactsDir)
	}
}

func TestStopRunCancelsEvolution(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t, "")
	var stopErr error
	stopped := false
	p.config.Sink = render.SinkFunc(func(render.Frame) {
		if !stopped {
			stopped = true
			stopErr = p.StopRun("run-stop")
		}
	})

	_, err := p.RunEvolution(ctx, EvolutionConfig{RunID: "run-stop", Monitor: testMonitorConfig(7)})
	if stopErr != nil {
		t.Fatalf("stop run: %v", stopErr)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok, _ := p.Store().GetRunSummary(ctx, "run-stop"); ok {
		t.Fatal("run without a finished generation must not be persisted")
	}
	if err := p.StopRun("run-stop"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestPlayBuiltinAgents(t *testing.T) {
	p := newTestPolis(t, "")
	rec := &render.Recorder{}
	loop := population.DefaultConfig()
	loop.MaxTicks = 40
	loop.Sink = rec

	report, err := p.Play(context.Background(), PlayConfig{Loop: loop, Agents: []string{"corner", "greedy", "random"}})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	ids := report.Fitness()
	for _, id := range []string{"corner-0", "greedy-1", "random-2"} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("missing result for %s: %v", id, ids)
		}
	}
	if len(rec.Frames()) == 0 {
		t.Fatal("expected frames")
	}

	if _, err := p.Play(context.Background(), PlayConfig{Loop: loop, Agents: []string{"oracle"}}); err == nil {
		t.Fatal("expected unknown agent error")
	}
	if _, err := p.Play(context.Background(), PlayConfig{Loop: loop}); err == nil {
		t.Fatal("expected missing agents error")
	}
}

func TestPlayFixedOrderAgent(t *testing.T) {
	p := newTestPolis(t, "")
	loop := population.DefaultConfig()
	loop.MaxTicks = 20

	order := []board.Direction{board.Right, board.Down, board.Left, board.Up}
	report, err := p.Play(context.Background(), PlayConfig{Loop: loop, Agents: []string{"fixed", "fixed"}, FixedOrder: order})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	ids := report.Fitness()
	for _, id := range []string{"fixed-0", "fixed-1"} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("missing result for %s: %v", id, ids)
		}
	}

	if _, err := p.Play(context.Background(), PlayConfig{Loop: loop, Agents: []string{"fixed"}}); err == nil {
		t.Fatal("expected missing fixed order error")
	}
}

func TestResetDropsRecords(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t, "")
	cfg := testMonitorConfig(9)
	cfg.Generations = 1
	if _, err := p.RunEvolution(ctx, EvolutionConfig{RunID: "run-r", Monitor: cfg}); err != nil {
		t.Fatalf("run evolution: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !p.Started() {
		t.Fatal("expected polis to be started after reset")
	}
	summaries, err := p.Store().ListRunSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(summaries))
	}
}
