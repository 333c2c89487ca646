// Package config loads run settings from HCL or JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"evo2048/internal/agent"
	"evo2048/internal/board"
	"evo2048/internal/evo"
	"evo2048/internal/heuristic"
	"evo2048/internal/nn"
	"evo2048/internal/population"
	"evo2048/internal/tuning"
)

// Run carries every setting of a play or evolve run. Attributes missing from
// a file keep their Default value.
type Run struct {
	Spawn               string             `hcl:"spawn,optional" json:"spawn"`
	EmptyBias           float64            `hcl:"empty_bias,optional" json:"empty_bias"`
	PerTickReward       float64            `hcl:"per_tick_reward,optional" json:"per_tick_reward"`
	DirectionBonus      map[string]float64 `hcl:"direction_bonus,optional" json:"direction_bonus"`
	MissPenalty         float64            `hcl:"miss_penalty,optional" json:"miss_penalty"`
	TerminalPenalty     float64            `hcl:"terminal_penalty,optional" json:"terminal_penalty"`
	AgentFailurePenalty float64            `hcl:"agent_failure_penalty,optional" json:"agent_failure_penalty"`
	MaxTicks            int                `hcl:"max_ticks,optional" json:"max_ticks"`
	Workers             int                `hcl:"workers,optional" json:"workers"`
	Seed                int64              `hcl:"seed,optional" json:"seed"`

	// CornerPenalty is keyed by direction name, e.g.
	// corner_penalty = { right = { empty = 5, small = 100 } }.
	CornerPenalty map[string]Corner `hcl:"corner_penalty,optional" json:"corner_penalty"`

	// Agents lists the built-in strategies of a play run. FixedOrder is the
	// comma-separated ranking played by "fixed" agents.
	Agents     []string `hcl:"agents,optional" json:"agents"`
	FixedOrder string   `hcl:"fixed_order,optional" json:"fixed_order"`

	Population        int                `hcl:"population,optional" json:"population"`
	Generations       int                `hcl:"generations,optional" json:"generations"`
	EliteCount        int                `hcl:"elite_count,optional" json:"elite_count"`
	Selection         string             `hcl:"selection,optional" json:"selection"`
	Postprocessor     string             `hcl:"fitness_postprocessor,optional" json:"fitness_postprocessor"`
	TournamentSize    int                `hcl:"tournament_size,optional" json:"tournament_size"`
	HiddenNeurons     int                `hcl:"hidden_neurons,optional" json:"hidden_neurons"`
	Activation        string             `hcl:"activation,optional" json:"activation"`
	InputScaling      string             `hcl:"input_scaling,optional" json:"input_scaling"`
	MutationsPerChild int                `hcl:"mutations_per_child,optional" json:"mutations_per_child"`
	MutationMaxDelta  float64            `hcl:"mutation_max_delta,optional" json:"mutation_max_delta"`
	MutationWeights   map[string]float64 `hcl:"mutation_weights,optional" json:"mutation_weights"`

	// TuneAttempts > 0 hill-climbs every elite between generations.
	TuneAttempts int     `hcl:"tune_attempts,optional" json:"tune_attempts"`
	TunePolicy   string  `hcl:"tune_policy,optional" json:"tune_policy"`
	TuneSteps    int     `hcl:"tune_steps,optional" json:"tune_steps"`
	TuneStepSize float64 `hcl:"tune_step_size,optional" json:"tune_step_size"`

	Store   string `hcl:"store,optional" json:"store"`
	DBPath  string `hcl:"db_path,optional" json:"db_path"`
	OutDir  string `hcl:"out_dir,optional" json:"out_dir"`
	TopSize int    `hcl:"top_size,optional" json:"top_size"`
}

// Corner holds the top-left cell charges of one direction. HCL objects must
// set both attributes.
type Corner struct {
	Empty float64 `cty:"empty" json:"empty"`
	Small float64 `cty:"small" json:"small"`
}

func Default() Run {
	loop := population.DefaultConfig()
	return Run{
		Spawn:               loop.Spawn.Name,
		EmptyBias:           loop.Evaluator.EmptyBias,
		PerTickReward:       loop.PerTickReward,
		DirectionBonus:      bonusMap(loop.DirectionBonus),
		MissPenalty:         loop.MissPenalty,
		TerminalPenalty:     loop.TerminalPenalty,
		AgentFailurePenalty: loop.AgentFailurePenalty,
		MaxTicks:            5000,
		Workers:             loop.Workers,
		Seed:                loop.Seed,
		CornerPenalty:       cornerMap(loop.CornerPenalty),
		Agents:              []string{agent.KindCorner, agent.KindRandom, agent.KindGreedy},
		FixedOrder:          "left,up,right,down",
		Population:          50,
		Generations:         100,
		EliteCount:          5,
		Selection:           "tournament",
		Postprocessor:       "none",
		HiddenNeurons:       8,
		Activation:          "tanh",
		InputScaling:        string(agent.ScaleLog2),
		MutationsPerChild:   1,
		MutationMaxDelta:    0.5,
		MutationWeights: map[string]float64{
			"mutate_weights":        4,
			"perturb_random_weight": 2,
			"perturb_random_bias":   1,
			"change_activation":     0.5,
		},
		TunePolicy:   "fixed",
		TuneSteps:    3,
		TuneStepSize: 0.2,
		Store:        "memory",
		DBPath:       "evo2048.db",
		OutDir:       "runs",
		TopSize:      5,
	}
}

func bonusMap(bonus [board.NumDirections]float64) map[string]float64 {
	out := make(map[string]float64, board.NumDirections)
	for _, d := range board.AllDirections {
		if bonus[d] != 0 {
			out[d.String()] = bonus[d]
		}
	}
	return out
}

func cornerMap(penalty [board.NumDirections]population.CornerPenalty) map[string]Corner {
	out := make(map[string]Corner, board.NumDirections)
	for _, d := range board.AllDirections {
		if p := penalty[d]; p.Empty != 0 || p.Small != 0 {
			out[d.String()] = Corner{Empty: p.Empty, Small: p.Small}
		}
	}
	return out
}

// Load reads path as HCL (.hcl) or JSON (.json) on top of Default. HCL files
// can read environment variables through env, e.g. seed = env.EVO_SEED.
func Load(path string) (Run, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return loadHCL(path)
	case ".json":
		return loadJSON(path)
	default:
		return Run{}, fmt.Errorf("unsupported config extension %q: want .hcl or .json", filepath.Ext(path))
	}
}

// LoadOrDefault returns Default when path is empty.
func LoadOrDefault(path string) (Run, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

func loadHCL(path string) (Run, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Run{}, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	cfg := Default()
	diags = gohcl.DecodeBody(file.Body, evalContext(), &cfg)
	if diags.HasErrors() {
		return Run{}, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}
	return cfg, nil
}

func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntax.ValidIdentifier(name) {
			continue
		}
		env[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": cty.ObjectVal(env)}}
}

func loadJSON(path string) (Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Run{}, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg := Default()
	// Maps given in the file replace the defaults instead of merging.
	if _, ok := raw["direction_bonus"]; ok {
		cfg.DirectionBonus = nil
	}
	if _, ok := raw["corner_penalty"]; ok {
		cfg.CornerPenalty = nil
	}
	if _, ok := raw["mutation_weights"]; ok {
		cfg.MutationWeights = nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Run{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func (r Run) Validate() error {
	if _, err := board.SpawnPolicyByName(r.Spawn); err != nil {
		return err
	}
	if _, err := r.directionBonus(); err != nil {
		return err
	}
	if _, err := r.cornerPenalty(); err != nil {
		return err
	}
	if _, err := r.LoopConfig(); err != nil {
		return err
	}
	order, err := r.FixedOrderDirections()
	if err != nil {
		return err
	}
	for _, kind := range r.Agents {
		switch kind {
		case agent.KindCorner, agent.KindRandom, agent.KindGreedy:
		case agent.KindFixed:
			if !board.IsPermutation(order) {
				return fmt.Errorf("fixed order must rank all four directions once: %s", r.FixedOrder)
			}
		default:
			return fmt.Errorf("unknown agent kind: %s", kind)
		}
	}
	if r.Population <= 0 {
		return fmt.Errorf("population must be > 0")
	}
	if r.Generations <= 0 {
		return fmt.Errorf("generations must be > 0")
	}
	if r.EliteCount <= 0 || r.EliteCount > r.Population {
		return fmt.Errorf("elite count must be in [1, population]")
	}
	if r.TournamentSize < 0 {
		return fmt.Errorf("tournament size must be >= 0")
	}
	if r.HiddenNeurons < 0 {
		return fmt.Errorf("hidden neurons must be >= 0")
	}
	if _, err := nn.GetActivation(r.Activation); err != nil {
		return err
	}
	if _, err := agent.ParseInputScaling(r.InputScaling); err != nil {
		return err
	}
	if _, err := evo.SelectorByName(r.Selection); err != nil {
		return err
	}
	if _, err := evo.FitnessPostprocessorByName(r.Postprocessor); err != nil {
		return err
	}
	if r.MutationsPerChild <= 0 {
		return fmt.Errorf("mutations per child must be > 0")
	}
	if r.MutationMaxDelta <= 0 {
		return fmt.Errorf("mutation max delta must be > 0")
	}
	positive := false
	for name, w := range r.MutationWeights {
		if w < 0 {
			return fmt.Errorf("mutation weight %s must be >= 0", name)
		}
		if _, err := evo.NewOperator(name, nil, r.MutationMaxDelta); err != nil {
			return err
		}
		positive = positive || w > 0
	}
	if !positive {
		return fmt.Errorf("mutation weights need at least one positive weight")
	}
	if r.TuneAttempts < 0 {
		return fmt.Errorf("tune attempts must be >= 0")
	}
	if _, err := tuning.AttemptPolicyByName(r.TunePolicy); err != nil {
		return err
	}
	if r.TuneAttempts > 0 && (r.TuneSteps <= 0 || r.TuneStepSize <= 0) {
		return fmt.Errorf("tuning needs tune steps and tune step size > 0")
	}
	if r.TopSize < 0 {
		return fmt.Errorf("top size must be >= 0")
	}
	return nil
}

// FixedOrderDirections parses FixedOrder.
func (r Run) FixedOrderDirections() ([]board.Direction, error) {
	order, err := board.ParseDirections(r.FixedOrder)
	if err != nil {
		return nil, fmt.Errorf("fixed order: %w", err)
	}
	return order, nil
}

func (r Run) directionBonus() ([board.NumDirections]float64, error) {
	var out [board.NumDirections]float64
	for name, bonus := range r.DirectionBonus {
		d, err := board.ParseDirection(name)
		if err != nil {
			return out, fmt.Errorf("direction bonus: %w", err)
		}
		out[d] = bonus
	}
	return out, nil
}

func (r Run) cornerPenalty() ([board.NumDirections]population.CornerPenalty, error) {
	var out [board.NumDirections]population.CornerPenalty
	for name, c := range r.CornerPenalty {
		d, err := board.ParseDirection(name)
		if err != nil {
			return out, fmt.Errorf("corner penalty: %w", err)
		}
		out[d] = population.CornerPenalty{Empty: c.Empty, Small: c.Small}
	}
	return out, nil
}

// LoopConfig converts the run to a population loop configuration.
func (r Run) LoopConfig() (population.Config, error) {
	spawn, err := board.SpawnPolicyByName(r.Spawn)
	if err != nil {
		return population.Config{}, err
	}
	bonus, err := r.directionBonus()
	if err != nil {
		return population.Config{}, err
	}
	corner, err := r.cornerPenalty()
	if err != nil {
		return population.Config{}, err
	}
	eval := heuristic.Default()
	eval.EmptyBias = r.EmptyBias

	cfg := population.Config{
		Spawn:               spawn,
		Evaluator:           eval,
		PerTickReward:       r.PerTickReward,
		DirectionBonus:      bonus,
		CornerPenalty:       corner,
		MissPenalty:         r.MissPenalty,
		TerminalPenalty:     r.TerminalPenalty,
		AgentFailurePenalty: r.AgentFailurePenalty,
		MaxTicks:            r.MaxTicks,
		Workers:             r.Workers,
		Seed:                r.Seed,
	}
	if err := cfg.Validate(); err != nil {
		return population.Config{}, err
	}
	return cfg, nil
}

// MonitorConfig converts the run to an evolution configuration. Mutation
// operators and the elite tuner draw from sources derived from Seed.
func (r Run) MonitorConfig() (evo.MonitorConfig, error) {
	if err := r.Validate(); err != nil {
		return evo.MonitorConfig{}, err
	}
	loop, err := r.LoopConfig()
	if err != nil {
		return evo.MonitorConfig{}, err
	}
	selector, err := evo.SelectorByName(r.Selection)
	if err != nil {
		return evo.MonitorConfig{}, err
	}
	if t, ok := selector.(evo.TournamentSelector); ok {
		t.TournamentSize = r.TournamentSize
		selector = t
	}
	scaling, err := agent.ParseInputScaling(r.InputScaling)
	if err != nil {
		return evo.MonitorConfig{}, err
	}
	postprocessor, err := evo.FitnessPostprocessorByName(r.Postprocessor)
	if err != nil {
		return evo.MonitorConfig{}, err
	}
	mutationRand := rand.New(rand.NewSource(r.Seed + 1))
	policy, err := evo.MutationPolicy(r.MutationWeights, mutationRand, r.MutationMaxDelta)
	if err != nil {
		return evo.MonitorConfig{}, err
	}

	cfg := evo.MonitorConfig{
		Loop:              loop,
		Mutation:          &evo.PerturbRandomWeight{Rand: mutationRand, MaxDelta: r.MutationMaxDelta},
		MutationPolicy:    policy,
		Selector:          selector,
		Postprocessor:     postprocessor,
		PopulationSize:    r.Population,
		EliteCount:        r.EliteCount,
		Generations:       r.Generations,
		MutationsPerChild: r.MutationsPerChild,
		Seed:              r.Seed,
		InputScaling:      scaling,
	}
	if r.TuneAttempts > 0 {
		policy, err := tuning.AttemptPolicyByName(r.TunePolicy)
		if err != nil {
			return evo.MonitorConfig{}, err
		}
		cfg.Tuner = &tuning.HillClimber{
			Rand:     rand.New(rand.NewSource(r.Seed + 2)),
			Steps:    r.TuneSteps,
			StepSize: r.TuneStepSize,
		}
		cfg.TuneAttempts = r.TuneAttempts
		cfg.TuneAttemptPolicy = policy
	}
	return cfg, nil
}
