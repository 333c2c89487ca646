package population

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"evo2048/internal/board"
)

// Agent is anything the loop can ask for a move preference. Concrete agents
// implement Decider or StepAgent in addition.
type Agent interface {
	ID() string
}

// Decider returns a full ranking of the four directions, best first.
type Decider interface {
	Agent
	Decide(ctx context.Context, tiles [board.Cells]int) ([]board.Direction, error)
}

// StepAgent returns one preference score per direction ordinal. The loop
// ranks the scores itself.
type StepAgent interface {
	Agent
	RunStep(ctx context.Context, inputs []float64) ([]float64, error)
}

var (
	ErrMalformedRanking  = errors.New("malformed direction ranking")
	ErrUnsupportedAgent  = errors.New("agent implements neither Decider nor StepAgent")
	ErrAgentOutputLength = errors.New("agent output length mismatch")
)

// AgentFailure records an agent that returned an error, panicked or produced
// an unusable ranking. It penalises and removes the entry; it never aborts a run.
type AgentFailure struct {
	AgentID string
	Cause   error
}

func (e *AgentFailure) Error() string {
	return fmt.Sprintf("agent %s failed: %v", e.AgentID, e.Cause)
}

func (e *AgentFailure) Unwrap() error {
	return e.Cause
}

func queryAgent(ctx context.Context, a Agent, tiles [board.Cells]int, rng *rand.Rand) (order []board.Direction, err error) {
	defer func() {
		if r := recover(); r != nil {
			order = nil
			err = &AgentFailure{AgentID: a.ID(), Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch typed := a.(type) {
	case Decider:
		ranking, decideErr := typed.Decide(ctx, tiles)
		if decideErr != nil {
			return nil, &AgentFailure{AgentID: a.ID(), Cause: decideErr}
		}
		if !board.IsPermutation(ranking) {
			return nil, &AgentFailure{AgentID: a.ID(), Cause: fmt.Errorf("%w: %v", ErrMalformedRanking, ranking)}
		}
		return ranking, nil
	case StepAgent:
		inputs := make([]float64, board.Cells)
		for i, v := range tiles {
			inputs[i] = float64(v)
		}
		scores, stepErr := typed.RunStep(ctx, inputs)
		if stepErr != nil {
			return nil, &AgentFailure{AgentID: a.ID(), Cause: stepErr}
		}
		if len(scores) != board.NumDirections {
			return nil, &AgentFailure{AgentID: a.ID(), Cause: fmt.Errorf("%w: got=%d want=%d", ErrAgentOutputLength, len(scores), board.NumDirections)}
		}
		return RankScores(scores, rng), nil
	default:
		return nil, &AgentFailure{AgentID: a.ID(), Cause: ErrUnsupportedAgent}
	}
}

// RankScores orders direction ordinals by descending score. Equal scores are
// ordered by a random key drawn from rng; NaN ranks below every number.
func RankScores(scores []float64, rng *rand.Rand) []board.Direction {
	type ranked struct {
		dir   board.Direction
		score float64
		key   int
	}
	keys := rng.Perm(len(scores))
	items := make([]ranked, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) {
			s = math.Inf(-1)
		}
		items[i] = ranked{dir: board.Direction(i), score: s, key: keys[i]}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].key < items[j].key
	})
	out := make([]board.Direction, len(items))
	for i, item := range items {
		out[i] = item.dir
	}
	return out
}
