// Package campaign turns accepted decisions into marketing campaigns
// and drives their lifecycle: pending, generating, then active or
// failed. Creative generation runs asynchronously under a bounded
// retry policy so one flaky upstream call does not kill a launch.
package campaign

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"dropforge/internal/creative"
	"dropforge/internal/logging"
	"dropforge/internal/types"
)

// persistence is the slice of the store the executor needs.
type persistence interface {
	GetCandidate(id string) (types.Candidate, error)
	GetDecision(candidateID string) (types.Decision, error)
	CreateCampaign(c types.Campaign) error
	UpdateCampaign(c types.Campaign) error
	GetCampaign(id string) (types.Campaign, error)
	GetCampaignByCandidate(candidateID string) (types.Campaign, error)
	ListCampaignsByStatus(statuses ...types.CampaignStatus) ([]types.Campaign, error)
}

// Options bound the generation retry policy.
type Options struct {
	MaxAttempts    int           // Attempts per campaign before failing
	AttemptTimeout time.Duration // Deadline per attempt
	InitialBackoff time.Duration // Delay before the second attempt, doubled after
	MaxConcurrent  int64         // Simultaneous generations
}

// Executor launches campaigns and runs creative generation in the
// background. Close waits for in-flight generations to finish, so a
// shutdown never abandons a campaign in /generating.
type Executor struct {
	db  persistence
	gen creative.Generator
	opt Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    *semaphore.Weighted

	mu     sync.Mutex
	closed bool
}

// NewExecutor creates a campaign executor.
func NewExecutor(db persistence, gen creative.Generator, opt Options) *Executor {
	if opt.MaxAttempts < 1 {
		opt.MaxAttempts = 1
	}
	if opt.MaxConcurrent < 1 {
		opt.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		db:     db,
		gen:    gen,
		opt:    opt,
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(opt.MaxConcurrent),
	}
}

// Launch creates a campaign for an accepted decision and starts
// creative generation in the background. The returned campaign is in
// /pending; poll Get for the outcome.
//
// Fails with ErrInvalidState when the decision is not an acceptance or
// the candidate already has a campaign, and ErrNotFound when decision
// or candidate is unknown.
func (e *Executor) Launch(ctx context.Context, candidateID string) (types.Campaign, error) {
	d, err := e.db.GetDecision(candidateID)
	if err != nil {
		return types.Campaign{}, err
	}
	if d.Outcome != types.OutcomeAccepted {
		return types.Campaign{}, types.InvalidStatef("candidate %s was declined, cannot launch", candidateID)
	}
	cand, err := e.db.GetCandidate(candidateID)
	if err != nil {
		return types.Campaign{}, err
	}

	now := time.Now().UTC()
	c := types.Campaign{
		ID:          "cmp_" + uuid.NewString(),
		CandidateID: candidateID,
		Status:      types.CampaignPending,
		LaunchedAt:  now,
		UpdatedAt:   now,
	}
	if err := e.db.CreateCampaign(c); err != nil {
		return types.Campaign{}, err
	}
	logging.Campaign("Launched campaign %s for candidate %s", c.ID, candidateID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		// Executor is shutting down; the campaign stays /pending and a
		// restart can resume it.
		return c, nil
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.runGeneration(c, cand)
	}()
	return c, nil
}

// runGeneration drives the bounded retry loop for one campaign.
func (e *Executor) runGeneration(c types.Campaign, cand types.Candidate) {
	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		logging.CampaignDebug("Generation for %s cancelled before start: %v", c.ID, err)
		return
	}
	defer e.sem.Release(1)

	c.Status = types.CampaignGenerating
	c.UpdatedAt = time.Now().UTC()
	if err := e.db.UpdateCampaign(c); err != nil {
		logging.CampaignError("Failed to mark %s generating: %v", c.ID, err)
		return
	}

	req := creative.Request{
		CampaignID: c.ID,
		Title:      cand.Title,
		Category:   cand.Category,
	}

	var lastErr error
	backoff := e.opt.InitialBackoff
	for attempt := 1; attempt <= e.opt.MaxAttempts; attempt++ {
		asset, err := e.attemptOnce(req)
		if err == nil {
			c.Status = types.CampaignActive
			c.Creative = types.CreativeRef{ImageRef: asset.ImageRef, VideoRef: asset.VideoRef}
			c.FailureReason = ""
			c.UpdatedAt = time.Now().UTC()
			if err := e.db.UpdateCampaign(c); err != nil {
				logging.CampaignError("Failed to activate %s: %v", c.ID, err)
			}
			logging.Campaign("Campaign %s active after attempt %d", c.ID, attempt)
			return
		}
		lastErr = err
		logging.CampaignDebug("Generation attempt %d/%d for %s failed: %v", attempt, e.opt.MaxAttempts, c.ID, err)

		if attempt == e.opt.MaxAttempts {
			break
		}
		select {
		case <-e.ctx.Done():
			// Shutdown mid-retry; leave the campaign /generating for a
			// restart to pick up rather than failing it spuriously.
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	c.Status = types.CampaignFailed
	c.FailureReason = types.Upstreamf(lastErr, "creative generation exhausted %d attempts", e.opt.MaxAttempts).Error()
	c.UpdatedAt = time.Now().UTC()
	if err := e.db.UpdateCampaign(c); err != nil {
		logging.CampaignError("Failed to record failure for %s: %v", c.ID, err)
		return
	}
	logging.CampaignError("Campaign %s failed: %s", c.ID, c.FailureReason)
}

// ResumeStalled re-enqueues campaigns a previous process left in
// /pending or /generating, so a crash mid-generation does not strand
// them. Call once at startup; later launches are unaffected. Returns
// how many campaigns were re-enqueued.
func (e *Executor) ResumeStalled() (int, error) {
	stalled, err := e.db.ListCampaignsByStatus(types.CampaignPending, types.CampaignGenerating)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, c := range stalled {
		cand, err := e.db.GetCandidate(c.CandidateID)
		if err != nil {
			logging.CampaignError("Cannot resume campaign %s: %v", c.ID, err)
			continue
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return resumed, nil
		}
		e.wg.Add(1)
		e.mu.Unlock()

		logging.Campaign("Resuming campaign %s from %s", c.ID, c.Status)
		go func(c types.Campaign, cand types.Candidate) {
			defer e.wg.Done()
			e.runGeneration(c, cand)
		}(c, cand)
		resumed++
	}
	return resumed, nil
}

// attemptOnce runs a single generation attempt under its own deadline.
func (e *Executor) attemptOnce(req creative.Request) (creative.Asset, error) {
	ctx := e.ctx
	if e.opt.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opt.AttemptTimeout)
		defer cancel()
	}
	return e.gen.Generate(ctx, req)
}

// Get returns a campaign by id.
func (e *Executor) Get(id string) (types.Campaign, error) {
	return e.db.GetCampaign(id)
}

// GetByCandidate returns the campaign launched for a candidate.
func (e *Executor) GetByCandidate(candidateID string) (types.Campaign, error) {
	return e.db.GetCampaignByCandidate(candidateID)
}

// Complete closes an active campaign's flight window. Only /active
// campaigns can complete; completion makes its metrics eligible for
// the next evolution cycle.
func (e *Executor) Complete(id string) (types.Campaign, error) {
	c, err := e.db.GetCampaign(id)
	if err != nil {
		return types.Campaign{}, err
	}
	if c.Status != types.CampaignActive {
		return types.Campaign{}, types.InvalidStatef("campaign %s is %s, only active campaigns complete",
			id, strings.TrimPrefix(string(c.Status), "/"))
	}
	c.Status = types.CampaignCompleted
	c.UpdatedAt = time.Now().UTC()
	if err := e.db.UpdateCampaign(c); err != nil {
		return types.Campaign{}, err
	}
	logging.Campaign("Campaign %s completed with profit %.2f", id, c.Profit())
	return c, nil
}

// Close stops accepting work and waits for in-flight generations.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Wait blocks until all in-flight generations finish. Test hook and
// drain point for graceful shutdown.
func (e *Executor) Wait() {
	e.wg.Wait()
}
