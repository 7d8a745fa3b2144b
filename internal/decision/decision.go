// Package decision records the seller's terminal verdict on a scored
// candidate and notifies the campaign layer on acceptance. A candidate
// is decided exactly once; everything downstream depends on that.
package decision

import (
	"context"
	"errors"
	"sync"
	"time"

	"dropforge/internal/logging"
	"dropforge/internal/types"
)

// persistence is the slice of the store the gate needs.
type persistence interface {
	LatestScore(candidateID string) (types.ScoredCandidate, error)
	SaveDecision(d types.Decision) error
	GetDecision(candidateID string) (types.Decision, error)
}

// AcceptFunc is invoked after an accepted decision is durably recorded.
// The decision itself succeeds regardless of what the callback does;
// campaign launch failures are the executor's problem to report.
type AcceptFunc func(ctx context.Context, d types.Decision)

// Gate serializes decision writes so two concurrent verdicts on the
// same candidate cannot both pass the existence check.
type Gate struct {
	mu       sync.Mutex
	db       persistence
	onAccept AcceptFunc
}

// NewGate creates a decision gate. onAccept may be nil.
func NewGate(db persistence, onAccept AcceptFunc) *Gate {
	return &Gate{db: db, onAccept: onAccept}
}

// Decide records a terminal verdict for a scored candidate.
//
// Fails with ErrValidation for an unknown outcome, ErrNotFound when the
// candidate was never scored, and *AlreadyDecidedError (matching
// ErrInvalidState) when a decision already exists. The stored decision
// is never modified by a rejected attempt.
func (g *Gate) Decide(ctx context.Context, candidateID string, outcome types.DecisionOutcome, actor string) (types.Decision, error) {
	if !outcome.Valid() {
		return types.Decision{}, types.Validationf("unknown decision outcome %q", outcome)
	}
	if actor == "" {
		actor = "seller"
	}

	g.mu.Lock()

	if existing, err := g.db.GetDecision(candidateID); err == nil {
		g.mu.Unlock()
		return types.Decision{}, &types.AlreadyDecidedError{Existing: existing}
	} else if !errors.Is(err, types.ErrNotFound) {
		g.mu.Unlock()
		return types.Decision{}, err
	}

	// Decisions attach to scored candidates only; an unscored id is
	// indistinguishable from an unknown one.
	if _, err := g.db.LatestScore(candidateID); err != nil {
		g.mu.Unlock()
		return types.Decision{}, err
	}

	d := types.Decision{
		CandidateID: candidateID,
		Outcome:     outcome,
		DecidedBy:   actor,
		DecidedAt:   time.Now().UTC(),
	}
	if err := g.db.SaveDecision(d); err != nil {
		g.mu.Unlock()
		return types.Decision{}, err
	}
	g.mu.Unlock()

	logging.Decision("Candidate %s %s by %s", candidateID, outcome, actor)

	if outcome == types.OutcomeAccepted && g.onAccept != nil {
		g.onAccept(ctx, d)
	}
	return d, nil
}

// Get returns the decision for a candidate.
func (g *Gate) Get(candidateID string) (types.Decision, error) {
	return g.db.GetDecision(candidateID)
}
