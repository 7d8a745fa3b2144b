// Package pipeline wires the dropforge stages into one service:
// discovery feeds scoring, scoring feeds the decision gate, accepted
// decisions launch campaigns, campaign metrics feed evolution, and
// evolution rescores whatever is still undecided.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"dropforge/internal/campaign"
	"dropforge/internal/config"
	"dropforge/internal/creative"
	"dropforge/internal/decision"
	"dropforge/internal/discovery"
	"dropforge/internal/evolution"
	"dropforge/internal/logging"
	"dropforge/internal/metrics"
	"dropforge/internal/scoring"
	"dropforge/internal/store"
	"dropforge/internal/strategy"
	"dropforge/internal/types"
)

// Service is the assembled pipeline. All stage collaborators are owned
// here; callers reach stages only through Service methods.
type Service struct {
	cfg *config.Config
	db  *store.Store

	source     discovery.Source
	engine     *scoring.Engine
	strategies *strategy.Store
	gate       *decision.Gate
	executor   *campaign.Executor
	collector  *metrics.Collector
	controller *evolution.Controller

	// Hot-reloadable tunables; see ApplyConfig.
	fetchLimit   atomic.Int64
	minCampaigns atomic.Int64
}

// NewService assembles the pipeline from its collaborators.
func NewService(cfg *config.Config, db *store.Store, source discovery.Source, gen creative.Generator) (*Service, error) {
	strategies, err := strategy.NewStore(db, cfg.Scoring.BootstrapWeights)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		db:         db,
		source:     source,
		engine:     scoring.NewEngine(),
		strategies: strategies,
		collector:  metrics.NewCollector(db),
		controller: evolution.NewController(cfg.Evolution.Step),
	}
	s.executor = campaign.NewExecutor(db, gen, campaign.Options{
		MaxAttempts:    cfg.Creative.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout(),
		InitialBackoff: cfg.InitialBackoff(),
		MaxConcurrent:  int64(cfg.Creative.MaxConcurrent),
	})
	s.gate = decision.NewGate(db, s.onAccept)
	s.fetchLimit.Store(int64(cfg.Discovery.FetchLimit))
	s.minCampaigns.Store(int64(cfg.Evolution.MinCampaigns))
	return s, nil
}

// ApplyConfig hot-swaps the tunables that are safe to change on a
// running pipeline: fetch limit, evolution step, and the campaign
// threshold. Constructor-bound settings (models, retry policy, the
// source itself) need a restart.
func (s *Service) ApplyConfig(next *config.Config) {
	s.fetchLimit.Store(int64(next.Discovery.FetchLimit))
	s.minCampaigns.Store(int64(next.Evolution.MinCampaigns))
	s.controller.SetStep(next.Evolution.Step)
	logging.Boot("Pipeline tunables reloaded: fetch_limit=%d min_campaigns=%d step=%v",
		next.Discovery.FetchLimit, next.Evolution.MinCampaigns, next.Evolution.Step)
}

// onAccept launches a campaign for every accepted decision. The
// decision stands even if the launch fails; operators can re-launch
// from the campaign surface later.
func (s *Service) onAccept(ctx context.Context, d types.Decision) {
	if _, err := s.executor.Launch(ctx, d.CandidateID); err != nil {
		logging.CampaignError("Auto-launch for accepted %s failed: %v", d.CandidateID, err)
	}
}

// =============================================================================
// DISCOVERY AND SCORING
// =============================================================================

// Discover runs one fetch against the source, persists the new
// candidates, and scores them under the current strategy. Candidates
// whose source ref already has an open candidate are skipped.
func (s *Service) Discover(ctx context.Context) ([]types.ScoredCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DiscoveryTimeout())
	defer cancel()

	fetched, err := s.source.FetchCandidates(ctx, int(s.fetchLimit.Load()))
	if err != nil {
		return nil, err
	}

	strat := s.strategies.Current()
	var scored []types.ScoredCandidate
	for _, c := range fetched {
		open, err := s.db.HasOpenCandidateForSourceRef(c.SourceRef)
		if err != nil {
			return scored, err
		}
		if open {
			logging.DiscoveryDebug("Skipping %s: open candidate exists", c.SourceRef)
			continue
		}
		if err := s.db.SaveCandidate(c); err != nil {
			return scored, err
		}
		sc := s.engine.Score(c, strat)
		if err := s.db.SaveScore(sc); err != nil {
			return scored, err
		}
		scored = append(scored, sc)
	}
	logging.Discovery("Discovery pass: %d fetched, %d new", len(fetched), len(scored))
	return scored, nil
}

// ListCandidates returns latest scores, best first, per the filter.
func (s *Service) ListCandidates(f store.ScoreFilter) ([]types.ScoredCandidate, error) {
	return s.db.ListScored(f)
}

// GetCandidate returns a candidate's latest score.
func (s *Service) GetCandidate(id string) (types.ScoredCandidate, error) {
	return s.db.LatestScore(id)
}

// rescoreOpen re-evaluates every undecided candidate under the current
// strategy. Prior scores stay in history under their own version.
func (s *Service) rescoreOpen() error {
	open, err := s.db.ListUndecidedCandidates()
	if err != nil {
		return err
	}
	strat := s.strategies.Current()
	for _, sc := range s.engine.ScoreAll(open, strat) {
		if err := s.db.SaveScore(sc); err != nil {
			return err
		}
	}
	logging.Scoring("Rescored %d open candidates under strategy v%d", len(open), strat.Version)
	return nil
}

// =============================================================================
// DECISIONS AND CAMPAIGNS
// =============================================================================

// Decide records the seller's verdict; acceptance launches a campaign.
func (s *Service) Decide(ctx context.Context, candidateID string, outcome types.DecisionOutcome, actor string) (types.Decision, error) {
	return s.gate.Decide(ctx, candidateID, outcome, actor)
}

// GetDecision returns a candidate's decision.
func (s *Service) GetDecision(candidateID string) (types.Decision, error) {
	return s.gate.Get(candidateID)
}

// GetCampaign returns a campaign by id.
func (s *Service) GetCampaign(id string) (types.Campaign, error) {
	return s.executor.Get(id)
}

// CampaignForCandidate returns the campaign launched for a candidate.
func (s *Service) CampaignForCandidate(candidateID string) (types.Campaign, error) {
	return s.executor.GetByCandidate(candidateID)
}

// ListCampaigns returns campaigns, optionally narrowed by status.
func (s *Service) ListCampaigns(statuses ...types.CampaignStatus) ([]types.Campaign, error) {
	return s.db.ListCampaignsByStatus(statuses...)
}

// ResumeStalledCampaigns re-enqueues campaigns a prior run left in
// /pending or /generating. Called once at startup.
func (s *Service) ResumeStalledCampaigns() (int, error) {
	return s.executor.ResumeStalled()
}

// CompleteCampaign closes an active campaign's flight window.
func (s *Service) CompleteCampaign(id string) (types.Campaign, error) {
	return s.executor.Complete(id)
}

// RecordMetric ingests one performance event.
func (s *Service) RecordMetric(ctx context.Context, e types.MetricEvent) (types.Campaign, bool, error) {
	return s.collector.Record(ctx, e)
}

// CampaignMetrics replays a campaign's event log into totals.
func (s *Service) CampaignMetrics(campaignID string) (metrics.Totals, error) {
	return s.collector.Aggregate(campaignID)
}

// =============================================================================
// STRATEGY AND EVOLUTION
// =============================================================================

// CurrentStrategy returns a snapshot of the active strategy version.
func (s *Service) CurrentStrategy() types.StrategyVersion {
	return s.strategies.Current()
}

// StrategyHistory returns all strategy versions, oldest first.
func (s *Service) StrategyHistory() ([]types.StrategyVersion, error) {
	return s.strategies.History()
}

// StrategyVersion returns one historical version, for replaying how a
// candidate scored under it.
func (s *Service) StrategyVersion(version int) (types.StrategyVersion, error) {
	return s.db.GetStrategyVersion(version)
}

// RunEvolutionCycle runs one weight evolution pass over completed
// campaigns not yet consumed by an earlier version. A published
// version triggers a rescore of all open candidates. Returns the new
// version and whether one was published.
func (s *Service) RunEvolutionCycle(ctx context.Context) (types.StrategyVersion, bool, error) {
	outcomes, err := s.freshOutcomes()
	if err != nil {
		return types.StrategyVersion{}, false, err
	}
	if need := int(s.minCampaigns.Load()); len(outcomes) < need {
		logging.Evolution("Cycle skipped: %d fresh campaigns, need %d", len(outcomes), need)
		return types.StrategyVersion{}, false, nil
	}

	current := s.strategies.Current()
	next, changed := s.controller.Evolve(current, outcomes)
	if !changed {
		return types.StrategyVersion{}, false, nil
	}
	if err := s.strategies.Publish(next); err != nil {
		return types.StrategyVersion{}, false, err
	}
	if err := s.rescoreOpen(); err != nil {
		return next, true, err
	}
	return next, true, nil
}

// freshOutcomes collects completed campaigns no earlier strategy
// version was based on, paired with their candidate signals and
// replayed profit.
func (s *Service) freshOutcomes() ([]evolution.Outcome, error) {
	completed, err := s.db.ListCampaignsByStatus(types.CampaignCompleted)
	if err != nil {
		return nil, err
	}
	history, err := s.strategies.History()
	if err != nil {
		return nil, err
	}
	consumed := make(map[string]bool)
	for _, v := range history {
		for _, id := range v.BasedOnCampaigns {
			consumed[id] = true
		}
	}

	var outcomes []evolution.Outcome
	for _, c := range completed {
		if consumed[c.ID] {
			continue
		}
		cand, err := s.db.GetCandidate(c.CandidateID)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, evolution.Outcome{
			CampaignID: c.ID,
			Candidate:  cand,
			Profit:     c.Profit(),
		})
	}
	return outcomes, nil
}

// =============================================================================
// BACKGROUND LOOPS
// =============================================================================

// Run drives the background discovery and evolution tickers until ctx
// is cancelled. Loop errors are logged, not fatal: one failed fetch
// must not stop the pipeline.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.tick(ctx, s.cfg.DiscoveryInterval(), func() {
			if _, err := s.Discover(ctx); err != nil {
				logging.Get(logging.CategoryDiscovery).Warn("background discovery failed: %v", err)
			}
		})
	})
	g.Go(func() error {
		return s.tick(ctx, s.cfg.CycleInterval(), func() {
			if _, _, err := s.RunEvolutionCycle(ctx); err != nil {
				logging.EvolutionWarn("background evolution cycle failed: %v", err)
			}
		})
	})
	return g.Wait()
}

func (s *Service) tick(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// WaitForCampaigns blocks until in-flight creative generations finish.
func (s *Service) WaitForCampaigns() {
	s.executor.Wait()
}

// Close shuts the pipeline down, draining in-flight generations.
func (s *Service) Close() {
	s.executor.Close()
}
