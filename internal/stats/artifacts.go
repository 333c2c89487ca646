package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"evo2048/internal/model"
	"evo2048/internal/population"
)

const (
	runIndexFile = "run_index.json"
	entriesFile  = "entries.csv"
)

var entriesHeader = []string{"entry_id", "fitness", "moves", "points", "max_tile", "misses", "tick", "reason", "error"}

// RunConfig records the settings of a run. CornerPenalty holds the empty and
// small charges per direction.
type RunConfig struct {
	RunID               string        `json:"run_id"`
	Spawn               string        `json:"spawn"`
	EmptyBias           float64       `json:"empty_bias"`
	PerTickReward       float64       `json:"per_tick_reward"`
	DirectionBonus      [4]float64    `json:"direction_bonus"`
	CornerPenalty       [4][2]float64 `json:"corner_penalty"`
	MissPenalty         float64       `json:"miss_penalty"`
	TerminalPenalty     float64       `json:"terminal_penalty"`
	AgentFailurePenalty float64       `json:"agent_failure_penalty"`
	MaxTicks            int           `json:"max_ticks"`
	PopulationSize      int           `json:"population_size"`
	Generations         int           `json:"generations"`
	EliteCount          int           `json:"elite_count"`
	Selection           string        `json:"selection"`
	Postprocessor       string        `json:"fitness_postprocessor,omitempty"`
	HiddenNeurons       int           `json:"hidden_neurons"`
	Activation          string        `json:"activation"`
	InputScaling        string        `json:"input_scaling"`
	MutationsPerChild   int           `json:"mutations_per_child"`
	TuneAttempts        int           `json:"tune_attempts"`
	TunePolicy          string        `json:"tune_policy,omitempty"`
	Seed                int64         `json:"seed"`
	Workers             int           `json:"workers"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	FinalBestFitness      float64                       `json:"final_best_fitness"`
	TopGenomes            []model.TopGenomeRecord       `json:"top_genomes"`
	Lineage               []model.LineageRecord         `json:"lineage"`
	// Entries are the results of the last evaluated generation.
	Entries []population.EntryResult `json:"entries"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	EliteCount       int     `json:"elite_count"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	MaxTile          int     `json:"max_tile"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes one directory per run under baseDir and returns
// its path.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if strings.TrimSpace(artifacts.Config.RunID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), map[string]any{"best_by_generation": nonNil(artifacts.BestByGeneration), "final_best_fitness": artifacts.FinalBestFitness}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), nonNil(artifacts.GenerationDiagnostics)); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "top_genomes.json"), nonNil(artifacts.TopGenomes)); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "lineage.json"), nonNil(artifacts.Lineage)); err != nil {
		return "", err
	}
	if err := WriteEntries(filepath.Join(runDir, entriesFile), artifacts.Entries); err != nil {
		return "", err
	}
	return runDir, nil
}

// WriteEntries writes entry results as CSV, one row per entry.
func WriteEntries(path string, entries []population.EntryResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(entriesHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write([]string{
			e.EntryID,
			strconv.FormatFloat(e.Fitness, 'f', -1, 64),
			strconv.Itoa(e.Moves),
			strconv.Itoa(e.Points),
			strconv.Itoa(e.MaxTile),
			strconv.Itoa(e.Misses),
			strconv.Itoa(e.Tick),
			string(e.Reason),
			e.Error,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadEntries reads entries.csv of a run. The bool is false when the run has
// no such file.
func ReadEntries(baseDir, runID string) ([]population.EntryResult, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, entriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(entriesHeader)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []population.EntryResult{}, true, nil
		}
		return nil, false, err
	}

	out := make([]population.EntryResult, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		entry, err := parseEntry(record)
		if err != nil {
			return nil, false, fmt.Errorf("entries row %d: %w", len(out)+1, err)
		}
		out = append(out, entry)
	}
	return out, true, nil
}

func parseEntry(record []string) (population.EntryResult, error) {
	fitness, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return population.EntryResult{}, err
	}
	ints := make([]int, 0, 5)
	for _, field := range record[2:7] {
		v, err := strconv.Atoi(field)
		if err != nil {
			return population.EntryResult{}, err
		}
		ints = append(ints, v)
	}
	return population.EntryResult{
		EntryID: record[0],
		Fitness: fitness,
		Moves:   ints[0],
		Points:  ints[1],
		MaxTile: ints[2],
		Misses:  ints[3],
		Tick:    ints[4],
		Reason:  population.StopReason(record[7]),
		Error:   record[8],
	}, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if strings.TrimSpace(entry.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the run index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadTopGenomes(baseDir, runID string) ([]model.TopGenomeRecord, bool, error) {
	var top []model.TopGenomeRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "top_genomes.json"), &top)
	return top, ok, err
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	var diagnostics []model.GenerationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, "generation_diagnostics.json"), &diagnostics)
	return diagnostics, ok, err
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
