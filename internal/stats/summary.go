// Package stats summarizes population runs and writes run artifacts.
package stats

import (
	"sort"

	"evo2048/internal/nn"
	"evo2048/internal/population"
)

// Summary describes the fitness spread of one population report.
type Summary struct {
	Entries     int     `json:"entries"`
	Ticks       int     `json:"ticks"`
	MeanFitness float64 `json:"mean_fitness"`
	StdFitness  float64 `json:"std_fitness"`
	MinFitness  float64 `json:"min_fitness"`
	MaxFitness  float64 `json:"max_fitness"`
	MaxTile     int     `json:"max_tile"`
	// TileHistogram counts entries by the largest tile they reached.
	TileHistogram map[int]int                   `json:"tile_histogram"`
	Reasons       map[population.StopReason]int `json:"reasons"`
}

func Summarize(report population.Report) Summary {
	s := Summary{
		Entries:       len(report.Results),
		Ticks:         report.Ticks,
		MaxTile:       report.MaxTile,
		TileHistogram: make(map[int]int),
		Reasons:       make(map[population.StopReason]int),
	}
	if len(report.Results) == 0 {
		return s
	}

	fitness := make([]float64, 0, len(report.Results))
	for _, res := range report.Results {
		fitness = append(fitness, res.Fitness)
		s.TileHistogram[res.MaxTile]++
		s.Reasons[res.Reason]++
	}
	s.MeanFitness, _ = nn.Avg(fitness)
	s.StdFitness, _ = nn.Std(fitness)
	s.MinFitness, s.MaxFitness = fitness[0], fitness[0]
	for _, f := range fitness[1:] {
		s.MinFitness = min(s.MinFitness, f)
		s.MaxFitness = max(s.MaxFitness, f)
	}
	return s
}

// Tiles returns the histogram keys in ascending order.
func (s Summary) Tiles() []int {
	out := make([]int, 0, len(s.TileHistogram))
	for tile := range s.TileHistogram {
		out = append(out, tile)
	}
	sort.Ints(out)
	return out
}
