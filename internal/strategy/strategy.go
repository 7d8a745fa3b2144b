// Package strategy manages the versioned scoring weight sets. A single
// current version is active at any moment; publishing a new version
// swaps the pointer atomically, and every superseded version stays in
// history for score replay.
package strategy

import (
	"math"
	"sync"
	"time"

	"dropforge/internal/logging"
	"dropforge/internal/types"
)

// weightSumEpsilon tolerates float drift from renormalization.
const weightSumEpsilon = 1e-6

// persistence is the slice of the store the strategy layer needs.
type persistence interface {
	SaveStrategyVersion(v types.StrategyVersion) error
	LatestStrategyVersion() (types.StrategyVersion, bool, error)
	ListStrategyVersions() ([]types.StrategyVersion, error)
}

// Store holds the current strategy version and its full history.
// Readers never observe a half-published version: Current returns a
// snapshot taken under the lock, and Publish persists before swapping.
type Store struct {
	mu      sync.RWMutex
	current types.StrategyVersion
	db      persistence
}

// NewStore loads the latest persisted version, or seeds version 1 from
// the bootstrap weights when the store is empty.
func NewStore(db persistence, bootstrap map[string]float64) (*Store, error) {
	s := &Store{db: db}

	latest, ok, err := db.LatestStrategyVersion()
	if err != nil {
		return nil, err
	}
	if ok {
		s.current = latest
		logging.Strategy("Loaded strategy version %d", latest.Version)
		return s, nil
	}

	v1 := types.StrategyVersion{
		Version:   1,
		Weights:   cloneWeights(bootstrap),
		CreatedAt: time.Now().UTC(),
	}
	if err := validateWeights(v1.Weights); err != nil {
		return nil, err
	}
	if err := db.SaveStrategyVersion(v1); err != nil {
		return nil, err
	}
	s.current = v1
	logging.Strategy("Seeded strategy version 1 with weights %v", v1.Weights)
	return s, nil
}

// Current returns a snapshot of the active version. The caller owns the
// returned copy; a concurrent Publish never mutates it.
func (s *Store) Current() types.StrategyVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Publish validates, persists, and activates a new version. The version
// number must be exactly current+1; the swap happens only after the
// write succeeds, so a persistence failure leaves the current version
// untouched.
func (s *Store) Publish(v types.StrategyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.Version != s.current.Version+1 {
		return types.InvalidStatef("strategy version %d does not succeed current %d", v.Version, s.current.Version)
	}
	if err := validateWeights(v.Weights); err != nil {
		return err
	}
	if err := s.db.SaveStrategyVersion(v); err != nil {
		return err
	}
	s.current = v.Clone()
	logging.Strategy("Published strategy version %d with weights %v", v.Version, v.Weights)
	return nil
}

// History returns all versions, oldest first.
func (s *Store) History() ([]types.StrategyVersion, error) {
	return s.db.ListStrategyVersions()
}

// validateWeights enforces the weight invariants: non-negative values
// summing to the normalization target.
func validateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return types.Validationf("strategy weights must not be empty")
	}
	sum := 0.0
	for name, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return types.Validationf("weight %s = %v is not a non-negative finite number", name, w)
		}
		sum += w
	}
	if math.Abs(sum-types.WeightTarget) > weightSumEpsilon {
		return types.Validationf("weights sum to %v, want %v", sum, types.WeightTarget)
	}
	return nil
}

func cloneWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
