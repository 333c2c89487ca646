package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is a feed-forward network: neurons are listed in evaluation order
// and InputIDs/OutputIDs name the neurons bound to the board and to the four
// direction scores.
type Genome struct {
	VersionedRecord
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Generation int       `json:"generation"`
	Neurons    []Neuron  `json:"neurons"`
	Synapses   []Synapse `json:"synapses"`
	InputIDs   []string  `json:"input_ids"`
	OutputIDs  []string  `json:"output_ids"`
}

type Neuron struct {
	ID         string  `json:"id"`
	Activation string  `json:"activation"`
	Bias       float64 `json:"bias"`
}

type Synapse struct {
	ID      string  `json:"id"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
}

// Clone returns a deep copy that shares no slices with g.
func (g Genome) Clone() Genome {
	out := g
	out.Neurons = append([]Neuron(nil), g.Neurons...)
	out.Synapses = append([]Synapse(nil), g.Synapses...)
	out.InputIDs = append([]string(nil), g.InputIDs...)
	out.OutputIDs = append([]string(nil), g.OutputIDs...)
	return out
}

type Population struct {
	VersionedRecord
	ID         string   `json:"id"`
	GenomeIDs  []string `json:"genome_ids"`
	Generation int      `json:"generation"`
}

type GenerationDiagnostics struct {
	Generation  int     `json:"generation"`
	BestFitness float64 `json:"best_fitness"`
	MeanFitness float64 `json:"mean_fitness"`
	MinFitness  float64 `json:"min_fitness"`
	MaxTile     int     `json:"max_tile"`
	MeanMoves   float64 `json:"mean_moves"`
	MeanPoints  float64 `json:"mean_points"`
	Ticks       int     `json:"ticks"`
}

type TopGenomeRecord struct {
	Rank    int     `json:"rank"`
	Fitness float64 `json:"fitness"`
	MaxTile int     `json:"max_tile"`
	Genome  Genome  `json:"genome"`
}

type LineageRecord struct {
	GenomeID   string `json:"genome_id"`
	ParentID   string `json:"parent_id"`
	Generation int    `json:"generation"`
	Operation  string `json:"operation"`
}

// RunSummary is the index entry of one evolution run.
type RunSummary struct {
	VersionedRecord
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	Seed           int64     `json:"seed"`
	Generations    int       `json:"generations"`
	PopulationSize int       `json:"population_size"`
	BestFitness    float64   `json:"best_fitness"`
	MaxTile        int       `json:"max_tile"`
}
