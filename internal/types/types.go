// Package types defines the shared domain records for the dropforge
// pipeline: product candidates, scoring results, seller decisions,
// marketing campaigns, metric events, and strategy versions.
//
// Records are value types. A record is never mutated in place once it
// reaches a terminal state; later stages create new records that refer
// back by ID, so the full decision path stays reconstructable.
package types

import (
	"fmt"
	"time"
)

// DecisionOutcome represents the seller's verdict on a scored candidate.
type DecisionOutcome string

const (
	OutcomeAccepted DecisionOutcome = "/accepted"
	OutcomeDeclined DecisionOutcome = "/declined"
)

// Valid reports whether the outcome is one of the two terminal verdicts.
func (o DecisionOutcome) Valid() bool {
	return o == OutcomeAccepted || o == OutcomeDeclined
}

// CampaignStatus represents where a campaign is in its lifecycle.
type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "/pending"    // Created, creative not yet requested
	CampaignGenerating CampaignStatus = "/generating" // Creative generation in flight
	CampaignActive     CampaignStatus = "/active"     // Creative ready, campaign running
	CampaignCompleted  CampaignStatus = "/completed"  // Flight window closed
	CampaignFailed     CampaignStatus = "/failed"     // Creative generation exhausted retries
)

// Terminal reports whether no further status transition is allowed.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// MetricKind classifies a performance event.
type MetricKind string

const (
	MetricView              MetricKind = "/view"
	MetricClick             MetricKind = "/click"
	MetricConversion        MetricKind = "/conversion"
	MetricCostAdjustment    MetricKind = "/cost_adjustment"
	MetricRevenueAdjustment MetricKind = "/revenue_adjustment"
)

// Valid reports whether the kind is known.
func (k MetricKind) Valid() bool {
	switch k {
	case MetricView, MetricClick, MetricConversion, MetricCostAdjustment, MetricRevenueAdjustment:
		return true
	}
	return false
}

// Cumulative reports whether the kind only ever adds (views, clicks,
// conversions). Cumulative events must carry non-negative values;
// corrections to cost/revenue go through compensating adjustment
// events instead.
func (k MetricKind) Cumulative() bool {
	switch k {
	case MetricView, MetricClick, MetricConversion:
		return true
	}
	return false
}

// Signal names recognized by the scoring engine. Strategy weight maps
// key on these.
const (
	SignalTrend  = "trend"
	SignalMargin = "margin"
)

// Candidate is a product surfaced by the discovery source, not yet
// evaluated. Immutable once created; identity is ID, deduplicated by
// SourceRef among candidates whose lifecycle is still open.
//
// EstimatedMargin and EstimatedDemand are normalized to [0,1] at
// ingestion. A nil pointer means the source did not report the signal;
// the scoring engine substitutes a neutral midpoint rather than zero.
type Candidate struct {
	ID              string    `json:"id"`
	SourceRef       string    `json:"source_ref"`
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	EstimatedMargin *float64  `json:"estimated_margin,omitempty"`
	EstimatedDemand *float64  `json:"estimated_demand,omitempty"`
	DiscoveredAt    time.Time `json:"discovered_at"`
}

// Signal returns the candidate's value for a named scoring signal.
// known is false when the engine does not recognize the name at all;
// present is false when the signal is recognized but the candidate has
// no data for it.
func (c Candidate) Signal(name string) (value float64, present, known bool) {
	switch name {
	case SignalTrend:
		if c.EstimatedDemand == nil {
			return 0, false, true
		}
		return *c.EstimatedDemand, true, true
	case SignalMargin:
		if c.EstimatedMargin == nil {
			return 0, false, true
		}
		return *c.EstimatedMargin, true, true
	}
	return 0, false, false
}

// ScoredCandidate pairs a candidate with the score it received under a
// specific strategy version. Rescoring under a newer strategy produces
// a new record; earlier ones are never edited, so scores can be
// replayed against their strategy version.
type ScoredCandidate struct {
	Candidate
	Score           float64   `json:"score"`
	StrategyVersion int       `json:"strategy_version"`
	ScoredAt        time.Time `json:"scored_at"`
}

// Decision is the seller's terminal verdict on a candidate. Exactly
// one decision exists per candidate; a second attempt is rejected.
type Decision struct {
	CandidateID string          `json:"candidate_id"`
	Outcome     DecisionOutcome `json:"outcome"`
	DecidedBy   string          `json:"decided_by"`
	DecidedAt   time.Time       `json:"decided_at"`
}

// CreativeRef points at the generated marketing assets for a campaign.
type CreativeRef struct {
	ImageRef string `json:"image_ref,omitempty"`
	VideoRef string `json:"video_ref,omitempty"`
}

// Campaign is a marketing run created from an accepted decision.
// CandidateID is a back-reference for lookup only; the campaign does
// not own the candidate's lifecycle.
//
// Cost and Revenue are derived caches rebuilt from the metric event
// log on every ingestion. Profit is always computed from them, never
// stored independently.
type Campaign struct {
	ID            string         `json:"id"`
	CandidateID   string         `json:"candidate_id"`
	Status        CampaignStatus `json:"status"`
	Creative      CreativeRef    `json:"creative"`
	Cost          float64        `json:"cost"`
	Revenue       float64        `json:"revenue"`
	FailureReason string         `json:"failure_reason,omitempty"`
	LaunchedAt    time.Time      `json:"launched_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Profit is revenue minus cost, recomputed from the current aggregates.
func (c Campaign) Profit() float64 {
	return c.Revenue - c.Cost
}

// MetricEvent is an append-only performance observation for a running
// campaign. Aggregates are produced by replaying and summing events,
// never by overwriting, so late or out-of-order events reconcile.
type MetricEvent struct {
	CampaignID string     `json:"campaign_id"`
	Kind       MetricKind `json:"kind"`
	Value      float64    `json:"value"`
	ObservedAt time.Time  `json:"observed_at"`
}

// DedupeKey identifies an event for idempotent ingestion. Replaying an
// event with the same key must not double-count.
func (e MetricEvent) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%d", e.CampaignID, e.Kind, e.ObservedAt.UnixNano())
}

// StrategyVersion is a named, versioned set of scoring weights.
// Versions are monotonic starting at 1. Weights are non-negative and
// sum to WeightTarget after every evolution step; a new version
// supersedes, never deletes, the prior one.
type StrategyVersion struct {
	Version          int                `json:"version"`
	Weights          map[string]float64 `json:"weights"`
	CreatedAt        time.Time          `json:"created_at"`
	BasedOnCampaigns []string           `json:"based_on_campaigns,omitempty"`
}

// WeightTarget is the fixed normalization target for a strategy's
// weight sum.
const WeightTarget = 1.0

// Clone returns a deep copy so callers can hold a snapshot without
// observing later mutation of the weights map.
func (s StrategyVersion) Clone() StrategyVersion {
	out := s
	out.Weights = make(map[string]float64, len(s.Weights))
	for k, v := range s.Weights {
		out.Weights[k] = v
	}
	if s.BasedOnCampaigns != nil {
		out.BasedOnCampaigns = append([]string(nil), s.BasedOnCampaigns...)
	}
	return out
}

// Float returns a pointer to v, for populating optional signal fields.
func Float(v float64) *float64 {
	return &v
}
