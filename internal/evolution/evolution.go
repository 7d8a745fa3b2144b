// Package evolution adjusts scoring weights from observed campaign
// profit. Each cycle looks at completed campaigns, nudges every weight
// toward the signals that correlated with profit, and emits the next
// strategy version. Adjustments are bounded per cycle so one lucky
// campaign cannot whipsaw the strategy.
package evolution

import (
	"math"
	"sync"
	"time"

	"dropforge/internal/logging"
	"dropforge/internal/types"
)

// covarianceEpsilon is the correlation magnitude below which a signal
// is treated as uninformative and its weight left alone.
const covarianceEpsilon = 1e-9

// Outcome pairs a completed campaign's profit with the candidate whose
// signals produced it.
type Outcome struct {
	CampaignID string
	Candidate  types.Candidate
	Profit     float64
}

// Controller derives new strategy versions from campaign outcomes.
type Controller struct {
	mu   sync.RWMutex
	step float64 // Max per-weight adjustment per cycle
}

// NewController creates an evolution controller with the given bound.
func NewController(step float64) *Controller {
	return &Controller{step: step}
}

// SetStep updates the per-cycle adjustment bound; takes effect on the
// next cycle.
func (c *Controller) SetStep(step float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

// Evolve computes the successor of the current strategy from a cycle's
// completed campaigns. Returns changed=false when the cycle is a no-op:
// no outcomes, or none of the signals correlated with profit.
//
// Each weight moves at most step in either direction, weights are
// clamped at zero, and the result is renormalized so the sum stays at
// the fixed target. The current version is never mutated.
func (c *Controller) Evolve(current types.StrategyVersion, outcomes []Outcome) (types.StrategyVersion, bool) {
	if len(outcomes) == 0 {
		logging.Evolution("Cycle skipped: no completed campaigns to learn from")
		return types.StrategyVersion{}, false
	}

	c.mu.RLock()
	step := c.step
	c.mu.RUnlock()

	next := current.Clone()
	moved := false
	for name, weight := range next.Weights {
		cov := c.profitCovariance(name, outcomes)
		if math.Abs(cov) < covarianceEpsilon {
			continue
		}
		delta := step
		if cov < 0 {
			delta = -step
		}
		adjusted := weight + delta
		if adjusted < 0 {
			adjusted = 0
		}
		if adjusted != weight {
			logging.Evolution("Weight %s: %.4f -> %.4f (profit covariance %+.4f)", name, weight, adjusted, cov)
			next.Weights[name] = adjusted
			moved = true
		}
	}
	if !moved {
		logging.Evolution("Cycle produced no weight movement over %d campaigns", len(outcomes))
		return types.StrategyVersion{}, false
	}

	if !renormalize(next.Weights) {
		logging.EvolutionWarn("All weights collapsed to zero, keeping strategy v%d", current.Version)
		return types.StrategyVersion{}, false
	}

	next.Version = current.Version + 1
	next.CreatedAt = time.Now().UTC()
	next.BasedOnCampaigns = make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		next.BasedOnCampaigns = append(next.BasedOnCampaigns, o.CampaignID)
	}
	logging.Evolution("Evolved strategy v%d -> v%d from %d campaigns", current.Version, next.Version, len(outcomes))
	return next, true
}

// profitCovariance measures how a signal moves with profit across the
// cycle's outcomes. Candidates missing the signal contribute the same
// neutral midpoint scoring uses, so absence stays non-informative.
func (c *Controller) profitCovariance(signal string, outcomes []Outcome) float64 {
	n := float64(len(outcomes))

	meanSignal, meanProfit := 0.0, 0.0
	values := make([]float64, len(outcomes))
	for i, o := range outcomes {
		value, present, known := o.Candidate.Signal(signal)
		if !known {
			// Nothing to correlate; the weight decays only through
			// renormalization against signals that do move.
			return 0
		}
		if !present {
			value = 0.5
		}
		values[i] = value
		meanSignal += value
		meanProfit += o.Profit
	}
	meanSignal /= n
	meanProfit /= n

	cov := 0.0
	for i, o := range outcomes {
		cov += (values[i] - meanSignal) * (o.Profit - meanProfit)
	}
	return cov / n
}

// renormalize scales weights so they sum to the target. Returns false
// when the sum is zero and no scaling exists.
func renormalize(weights map[string]float64) bool {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return false
	}
	for name, w := range weights {
		weights[name] = w * types.WeightTarget / sum
	}
	return true
}
