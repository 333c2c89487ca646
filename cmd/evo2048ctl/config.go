package main

import (
	"flag"
	"fmt"
	"strings"

	"evo2048/internal/config"
)

// registerRunFlags binds the run settings that can override a config file.
// Flag defaults mirror config.Default so help output stays truthful.
func registerRunFlags(fs *flag.FlagSet) map[string]any {
	def := config.Default()
	return map[string]any{
		"spawn":            fs.String("spawn", def.Spawn, "spawn policy: uniform|weighted"),
		"empty-bias":       fs.Float64("empty-bias", def.EmptyBias, "added to the empty-cell count of the heuristic"),
		"max-ticks":        fs.Int("max-ticks", def.MaxTicks, "tick limit per population run (0 runs to the end)"),
		"workers":          fs.Int("workers", def.Workers, "entries stepped concurrently per tick"),
		"seed":             fs.Int64("seed", def.Seed, "rng seed"),
		"agents":           fs.String("agents", strings.Join(def.Agents, ","), "comma-separated built-in agents: corner|random|greedy|fixed"),
		"fixed-order":      fs.String("fixed-order", def.FixedOrder, "comma-separated ranking played by fixed agents"),
		"pop":              fs.Int("pop", def.Population, "population size"),
		"gens":             fs.Int("gens", def.Generations, "generation count"),
		"elite":            fs.Int("elite", def.EliteCount, "elites kept unchanged per generation"),
		"selection":        fs.String("selection", def.Selection, "parent selection: elite|tournament"),
		"postprocessor":    fs.String("postprocessor", def.Postprocessor, "fitness postprocessor: none|size_proportional"),
		"hidden":           fs.Int("hidden", def.HiddenNeurons, "hidden neurons of seed genomes"),
		"activation":       fs.String("activation", def.Activation, "activation of seed neurons"),
		"input-scaling":    fs.String("input-scaling", def.InputScaling, "network input scaling: raw|log2|max"),
		"mutations":        fs.Int("mutations", def.MutationsPerChild, "mutations applied per child"),
		"tune":             fs.Int("tune", def.TuneAttempts, "hill-climb attempts per elite and generation (0 disables)"),
		"tune-policy":      fs.String("tune-policy", def.TunePolicy, "tune attempt policy: fixed|linear_decay|weight_scaled"),
		"top":              fs.Int("top", def.TopSize, "top genomes stored per run"),
		"terminal-penalty": fs.Float64("terminal-penalty", def.TerminalPenalty, "fitness removed when a game ends"),
	}
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func overrideFromFlags(cfg *config.Run, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "spawn":
			cfg.Spawn = *v.(*string)
		case "empty-bias":
			cfg.EmptyBias = *v.(*float64)
		case "max-ticks":
			cfg.MaxTicks = *v.(*int)
		case "workers":
			cfg.Workers = *v.(*int)
		case "seed":
			cfg.Seed = *v.(*int64)
		case "agents":
			cfg.Agents = splitList(*v.(*string))
		case "fixed-order":
			cfg.FixedOrder = *v.(*string)
		case "pop":
			cfg.Population = *v.(*int)
		case "gens":
			cfg.Generations = *v.(*int)
		case "elite":
			cfg.EliteCount = *v.(*int)
		case "selection":
			cfg.Selection = *v.(*string)
		case "postprocessor":
			cfg.Postprocessor = *v.(*string)
		case "hidden":
			cfg.HiddenNeurons = *v.(*int)
		case "activation":
			cfg.Activation = *v.(*string)
		case "input-scaling":
			cfg.InputScaling = *v.(*string)
		case "mutations":
			cfg.MutationsPerChild = *v.(*int)
		case "tune":
			cfg.TuneAttempts = *v.(*int)
		case "tune-policy":
			cfg.TunePolicy = *v.(*string)
		case "top":
			cfg.TopSize = *v.(*int)
		case "terminal-penalty":
			cfg.TerminalPenalty = *v.(*float64)
		default:
			return fmt.Errorf("unhandled flag override: %s", name)
		}
	}
	return nil
}

func loadRunConfig(path string, fs *flag.FlagSet, flagValue map[string]any) (config.Run, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return config.Run{}, fmt.Errorf("load config: %w", err)
	}
	if err := overrideFromFlags(&cfg, setFlags(fs), flagValue); err != nil {
		return config.Run{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Run{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
