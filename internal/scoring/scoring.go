// Package scoring computes a candidate's priority score under a
// strategy version. Scoring is a pure function of the candidate's
// signals and the strategy weights: same inputs, same score, no side
// effects and no wall-clock dependence beyond the stamped ScoredAt.
package scoring

import (
	"time"

	"dropforge/internal/logging"
	"dropforge/internal/types"
)

// missingSignalValue substitutes for a recognized signal the candidate
// carries no data for. The midpoint keeps a missing signal from acting
// as implicit evidence against the candidate, which zero would.
const missingSignalValue = 0.5

// Engine scores candidates. Stateless; safe for concurrent use.
type Engine struct{}

// NewEngine returns a scoring engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Score evaluates a candidate under the given strategy version. Weight
// keys the candidate model does not recognize contribute zero and are
// logged as a strategy gap; they still count toward the weight sum, so
// a strategy carrying unknown keys produces systematically lower scores
// until it evolves them away.
func (e *Engine) Score(c types.Candidate, strat types.StrategyVersion) types.ScoredCandidate {
	total := 0.0
	for name, weight := range strat.Weights {
		value, present, known := c.Signal(name)
		if !known {
			logging.ScoringWarn("Strategy v%d weight %q matches no candidate signal, contributing 0 for %s",
				strat.Version, name, c.ID)
			continue
		}
		if !present {
			value = missingSignalValue
		}
		total += weight * clamp01(value)
	}

	score := clamp01(total)
	logging.Scoring("Scored %s at %.4f under strategy v%d", c.ID, score, strat.Version)

	return types.ScoredCandidate{
		Candidate:       c,
		Score:           score,
		StrategyVersion: strat.Version,
		ScoredAt:        time.Now().UTC(),
	}
}

// ScoreAll evaluates a batch under a single strategy snapshot.
func (e *Engine) ScoreAll(candidates []types.Candidate, strat types.StrategyVersion) []types.ScoredCandidate {
	out := make([]types.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, e.Score(c, strat))
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
