// Package population advances many 2048 games, one per agent, and
// accumulates a fitness score for each agent.
package population

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"evo2048/internal/board"
	"evo2048/internal/ctxlog"
	"evo2048/internal/game"
	"evo2048/internal/heuristic"
	"evo2048/internal/render"
)

var (
	ErrDuplicateAgent = errors.New("duplicate agent id")
	ErrAlreadyRun     = errors.New("population loop already ran")
	ErrEmpty          = errors.New("population has no entries")
)

// StopReason tells why an entry left the population.
type StopReason string

const (
	StopTerminal     StopReason = "terminal"
	StopAgentFailure StopReason = "agent_failure"
	StopTickLimit    StopReason = "tick_limit"
	StopCancelled    StopReason = "cancelled"
)

type Config struct {
	Spawn     board.SpawnPolicy
	Evaluator heuristic.Evaluator

	// PerTickReward is added on every accepted move.
	PerTickReward float64
	// DirectionBonus is added when the accepted move goes in that direction.
	DirectionBonus [board.NumDirections]float64
	// CornerPenalty is charged when the accepted move in that direction
	// leaves the top-left cell empty or holding a 2 or 4.
	CornerPenalty [board.NumDirections]CornerPenalty
	// MissPenalty is charged when the top-ranked direction does not move.
	MissPenalty         float64
	TerminalPenalty     float64
	AgentFailurePenalty float64

	// MaxTicks bounds the run; 0 runs until every entry is removed.
	MaxTicks int
	// Workers > 1 evaluates the entries of a tick concurrently.
	Workers int
	Seed    int64

	// Sink receives a frame after every accepted move and on removal.
	Sink render.Sink
}

// CornerPenalty charges Empty when the top-left cell is empty after a move
// and Small when it holds a 2 or 4.
type CornerPenalty struct {
	Empty float64
	Small float64
}

func (p CornerPenalty) charge(g board.Grid) float64 {
	switch g[0][0] {
	case 0:
		return p.Empty
	case 2, 4:
		return p.Small
	default:
		return 0
	}
}

// DefaultConfig mirrors the reward shape of the original trainer: one point
// per move, a bonus for moves toward the top-left corner and a large
// penalty for losing. Corner penalties are off.
func DefaultConfig() Config {
	return Config{
		Spawn:               board.SpawnUniform,
		Evaluator:           heuristic.Default(),
		PerTickReward:       1,
		DirectionBonus:      [board.NumDirections]float64{board.Left: 50, board.Up: 50},
		MissPenalty:         1,
		TerminalPenalty:     500,
		AgentFailurePenalty: 500,
		Workers:             1,
		Seed:                1,
	}
}

func (c Config) Validate() error {
	if err := c.Spawn.Validate(); err != nil {
		return err
	}
	if err := c.Evaluator.Validate(); err != nil {
		return err
	}
	if c.MissPenalty < 0 {
		return fmt.Errorf("miss penalty must be >= 0")
	}
	for _, d := range board.AllDirections {
		if p := c.CornerPenalty[d]; p.Empty < 0 || p.Small < 0 {
			return fmt.Errorf("corner penalty for %s must be >= 0", d)
		}
	}
	if c.TerminalPenalty < 0 {
		return fmt.Errorf("terminal penalty must be >= 0")
	}
	if c.AgentFailurePenalty < 0 {
		return fmt.Errorf("agent failure penalty must be >= 0")
	}
	if c.MaxTicks < 0 {
		return fmt.Errorf("max ticks must be >= 0")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	return nil
}

// Entry pairs one game with the agent playing it.
type Entry struct {
	ID       string
	Agent    Agent
	Instance *game.Instance
	Fitness  float64

	rng    *rand.Rand
	misses int
}

type EntryResult struct {
	EntryID string     `json:"entry_id"`
	Fitness float64    `json:"fitness"`
	Moves   int        `json:"moves"`
	Points  int        `json:"points"`
	MaxTile int        `json:"max_tile"`
	Misses  int        `json:"misses"`
	Tick    int        `json:"tick"`
	Reason  StopReason `json:"reason"`
	Error   string     `json:"error,omitempty"`
	// Board breaks down the heuristic score of the final grid.
	Board heuristic.Breakdown `json:"board"`
	// Failure holds the AgentFailure for StopAgentFailure results.
	Failure error `json:"-"`
}

type Report struct {
	Ticks   int `json:"ticks"`
	MaxTile int `json:"max_tile"`
	// Results are ordered by removal; entries removed in the same tick keep
	// their insertion order.
	Results []EntryResult `json:"results"`
}

// Fitness returns the final fitness keyed by entry id.
func (r Report) Fitness() map[string]float64 {
	out := make(map[string]float64, len(r.Results))
	for _, res := range r.Results {
		out[res.EntryID] = res.Fitness
	}
	return out
}

// Best returns the result with the highest fitness.
func (r Report) Best() (EntryResult, bool) {
	if len(r.Results) == 0 {
		return EntryResult{}, false
	}
	best := r.Results[0]
	for _, res := range r.Results[1:] {
		if res.Fitness > best.Fitness {
			best = res
		}
	}
	return best, true
}

// Loop runs one population to completion. A Loop is single use.
type Loop struct {
	cfg     Config
	rng     *rand.Rand
	entries []*Entry
	ids     map[string]struct{}
	ran     bool

	// stepGame advances one game; tests replace it to inject engine faults.
	stepGame func(in *game.Instance, order []board.Direction) (game.Outcome, error)
}

func NewLoop(cfg Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	return &Loop{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		ids:      map[string]struct{}{},
		stepGame: (*game.Instance).Step,
	}, nil
}

// Add starts a fresh game for agent.
func (l *Loop) Add(agent Agent) error {
	rng, err := l.entryRNG(agent)
	if err != nil {
		return err
	}
	inst, err := game.New(rng, l.cfg.Spawn)
	if err != nil {
		return fmt.Errorf("new game for %s: %w", agent.ID(), err)
	}
	l.push(agent, inst, rng)
	return nil
}

// AddFromGrid starts agent on an explicit grid.
func (l *Loop) AddFromGrid(agent Agent, g board.Grid) error {
	rng, err := l.entryRNG(agent)
	if err != nil {
		return err
	}
	inst, err := game.FromGrid(g, rng, l.cfg.Spawn)
	if err != nil {
		return fmt.Errorf("game for %s: %w", agent.ID(), err)
	}
	l.push(agent, inst, rng)
	return nil
}

// AddAll adds a fresh game for every agent.
func (l *Loop) AddAll(agents ...Agent) error {
	for _, a := range agents {
		if err := l.Add(a); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) entryRNG(agent Agent) (*rand.Rand, error) {
	if agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if l.ran {
		return nil, ErrAlreadyRun
	}
	if _, ok := l.ids[agent.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, agent.ID())
	}
	return rand.New(rand.NewSource(l.rng.Int63())), nil
}

func (l *Loop) push(agent Agent, inst *game.Instance, rng *rand.Rand) {
	l.ids[agent.ID()] = struct{}{}
	l.entries = append(l.entries, &Entry{ID: agent.ID(), Agent: agent, Instance: inst, rng: rng})
}

// Len is the number of entries added.
func (l *Loop) Len() int {
	return len(l.entries)
}

type stepResult struct {
	moved   bool
	remove  bool
	reason  StopReason
	failure error
	dir     board.Direction
}

// Run advances every active entry once per tick until none is left, the tick
// limit is reached or ctx is cancelled. Cancellation is observed between
// ticks; a tick in progress always completes.
func (l *Loop) Run(ctx context.Context) (Report, error) {
	if l.ran {
		return Report{}, ErrAlreadyRun
	}
	l.ran = true
	if len(l.entries) == 0 {
		return Report{}, ErrEmpty
	}

	log := ctxlog.FromContext(ctx)
	if l.cfg.Evaluator.EmptyBias == 0 {
		log.Warn("empty bias is zero; full boards score zero regardless of layout")
	}
	log.Info("population run starting",
		"entries", len(l.entries),
		"spawn", l.cfg.Spawn.Name,
		"workers", l.cfg.Workers,
		"max_ticks", l.cfg.MaxTicks,
	)

	report := Report{}
	active := append([]*Entry(nil), l.entries...)
	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, l.stopAll(active, report.Ticks, StopCancelled)...)
			active = nil
			break
		}
		if l.cfg.MaxTicks > 0 && report.Ticks >= l.cfg.MaxTicks {
			report.Results = append(report.Results, l.stopAll(active, report.Ticks, StopTickLimit)...)
			active = nil
			break
		}
		report.Ticks++

		steps, err := l.tick(ctx, active)
		if err != nil {
			return report, fmt.Errorf("tick %d: %w", report.Ticks, err)
		}

		// Removals are applied only after every entry of the tick was stepped.
		kept := active[:0]
		for i, e := range active {
			st := steps[i]
			if st.moved || st.remove {
				l.publish(e, report.Ticks, st)
			}
			if !st.remove {
				kept = append(kept, e)
				continue
			}
			res := l.resultFor(e, report.Ticks, st.reason)
			if st.failure != nil {
				res.Failure = st.failure
				res.Error = st.failure.Error()
			}
			log.Debug("entry removed", "entry", e.ID, "reason", st.reason, "tick", report.Ticks, "fitness", e.Fitness, "max_tile", res.MaxTile)
			report.Results = append(report.Results, res)
		}
		for i := len(kept); i < len(active); i++ {
			active[i] = nil
		}
		active = kept
	}

	for _, e := range l.entries {
		if tile := e.Instance.MaxTile(); tile > report.MaxTile {
			report.MaxTile = tile
		}
	}
	log.Info("population run finished", "ticks", report.Ticks, "max_tile", report.MaxTile, "entries", len(report.Results))
	return report, nil
}

func (l *Loop) tick(ctx context.Context, active []*Entry) ([]stepResult, error) {
	steps := make([]stepResult, len(active))
	if l.cfg.Workers <= 1 || len(active) == 1 {
		for i, e := range active {
			st, err := l.step(ctx, e)
			if err != nil {
				return nil, err
			}
			steps[i] = st
		}
		return steps, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Workers)
	for i, e := range active {
		g.Go(func() error {
			st, err := l.step(gctx, e)
			if err != nil {
				return err
			}
			steps[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return steps, nil
}

// step queries the agent once and applies its ranking. Only engine faults are
// returned as errors; agent problems become an agent_failure removal.
func (l *Loop) step(ctx context.Context, e *Entry) (stepResult, error) {
	order, err := queryAgent(ctx, e.Agent, e.Instance.Tiles(), e.rng)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted agents are not at fault; the entry is stopped as
			// cancelled before the next tick.
			return stepResult{}, nil
		}
		e.Fitness -= l.cfg.AgentFailurePenalty
		return stepResult{remove: true, reason: StopAgentFailure, failure: err}, nil
	}

	out, err := l.stepGame(e.Instance, order)
	if err != nil {
		return stepResult{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if out.Terminal {
		e.Fitness -= l.cfg.TerminalPenalty
		return stepResult{remove: true, reason: StopTerminal}, nil
	}

	if out.Rank > 0 {
		e.misses++
		e.Fitness -= l.cfg.MissPenalty
	}
	e.Fitness += l.cfg.Evaluator.Score(out.Result.Grid)*float64(out.Result.Merges) +
		l.cfg.PerTickReward +
		l.cfg.DirectionBonus[out.Direction] -
		l.cfg.CornerPenalty[out.Direction].charge(out.Result.Grid)
	return stepResult{moved: true, dir: out.Direction}, nil
}

func (l *Loop) publish(e *Entry, tick int, st stepResult) {
	if l.cfg.Sink == nil {
		return
	}
	frame := render.Frame{
		EntryID:  e.ID,
		Tick:     tick,
		Tiles:    e.Instance.Tiles(),
		Points:   e.Instance.Points(),
		Fitness:  e.Fitness,
		Terminal: st.remove,
	}
	if st.moved {
		frame.Direction = st.dir.String()
	}
	l.cfg.Sink.Publish(frame)
}

func (l *Loop) stopAll(active []*Entry, tick int, reason StopReason) []EntryResult {
	out := make([]EntryResult, 0, len(active))
	for _, e := range active {
		out = append(out, l.resultFor(e, tick, reason))
	}
	return out
}

func (l *Loop) resultFor(e *Entry, tick int, reason StopReason) EntryResult {
	return EntryResult{
		EntryID: e.ID,
		Fitness: e.Fitness,
		Moves:   e.Instance.Moves(),
		Points:  e.Instance.Points(),
		MaxTile: e.Instance.MaxTile(),
		Misses:  e.misses,
		Tick:    tick,
		Reason:  reason,
		Board:   l.cfg.Evaluator.Explain(e.Instance.Grid()),
	}
}
