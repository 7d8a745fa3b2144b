// Package metrics ingests campaign performance events. The event log
// is the source of truth: ingestion is idempotent on the event's
// dedupe key, and the campaign's cost/revenue caches are rebuilt from
// the full log after every accepted event, so replays and out-of-order
// arrivals converge on the same aggregates.
package metrics

import (
	"context"
	"math"

	"dropforge/internal/logging"
	"dropforge/internal/store"
	"dropforge/internal/types"
)

// persistence is the slice of the store the collector needs.
type persistence interface {
	GetCampaign(id string) (types.Campaign, error)
	RefreshCampaignAggregates(campaignID string) error
	InsertMetricEvent(e types.MetricEvent) (bool, error)
	ListMetricEvents(campaignID string) ([]types.MetricEvent, error)
	SumMetrics(campaignID string) (store.MetricTotals, error)
}

// Totals extends the replayed aggregates with derived profit.
type Totals struct {
	store.MetricTotals
	Profit float64 `json:"profit"`
}

// Collector validates and records metric events.
type Collector struct {
	db persistence
}

// NewCollector creates a metric collector.
func NewCollector(db persistence) *Collector {
	return &Collector{db: db}
}

// Record ingests one metric event. Returns the campaign with refreshed
// aggregates and whether the event was new; a replay of an already
// recorded event is a successful no-op with accepted=false.
//
// Fails with ErrValidation for a malformed event, ErrNotFound for an
// unknown campaign, and ErrInvalidState when the campaign has not
// produced a creative yet (pending/generating) or failed to.
func (c *Collector) Record(ctx context.Context, e types.MetricEvent) (types.Campaign, bool, error) {
	if err := validateEvent(e); err != nil {
		return types.Campaign{}, false, err
	}

	cmp, err := c.db.GetCampaign(e.CampaignID)
	if err != nil {
		return types.Campaign{}, false, err
	}
	switch cmp.Status {
	case types.CampaignActive, types.CampaignCompleted:
		// Completed campaigns still accept late events; the replay model
		// reconciles them into the aggregates.
	default:
		return types.Campaign{}, false, types.InvalidStatef(
			"campaign %s is %s, metrics attach to active or completed campaigns", e.CampaignID, cmp.Status)
	}

	inserted, err := c.db.InsertMetricEvent(e)
	if err != nil {
		return types.Campaign{}, false, err
	}
	if !inserted {
		logging.MetricsDebug("Duplicate event %s ignored", e.DedupeKey())
		return cmp, false, nil
	}

	// Rebuild the derived caches from the whole log rather than
	// incrementing, so the stored numbers always equal a replay. The
	// refresh writes only cost/revenue: the campaign row read above is
	// stale by now if a lifecycle transition raced this ingestion, and
	// writing the whole row back would silently revert it.
	if err := c.db.RefreshCampaignAggregates(e.CampaignID); err != nil {
		return types.Campaign{}, false, err
	}
	cmp, err = c.db.GetCampaign(e.CampaignID)
	if err != nil {
		return types.Campaign{}, false, err
	}

	logging.Metrics("Recorded %s %.2f for %s (profit now %.2f)", e.Kind, e.Value, e.CampaignID, cmp.Profit())
	return cmp, true, nil
}

// Aggregate replays a campaign's event log into totals.
func (c *Collector) Aggregate(campaignID string) (Totals, error) {
	if _, err := c.db.GetCampaign(campaignID); err != nil {
		return Totals{}, err
	}
	sums, err := c.db.SumMetrics(campaignID)
	if err != nil {
		return Totals{}, err
	}
	return Totals{MetricTotals: sums, Profit: sums.Revenue - sums.Cost}, nil
}

// Events returns a campaign's raw event log in observation order.
func (c *Collector) Events(campaignID string) ([]types.MetricEvent, error) {
	if _, err := c.db.GetCampaign(campaignID); err != nil {
		return nil, err
	}
	return c.db.ListMetricEvents(campaignID)
}

func validateEvent(e types.MetricEvent) error {
	if e.CampaignID == "" {
		return types.Validationf("metric event missing campaign id")
	}
	if !e.Kind.Valid() {
		return types.Validationf("unknown metric kind %q", e.Kind)
	}
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return types.Validationf("metric value must be finite, got %v", e.Value)
	}
	// Cumulative counts only grow; corrections to money flow through
	// signed adjustment events instead.
	if e.Kind.Cumulative() && e.Value < 0 {
		return types.Validationf("%s events must carry non-negative values, got %v", e.Kind, e.Value)
	}
	if e.ObservedAt.IsZero() {
		return types.Validationf("metric event missing observation time")
	}
	return nil
}
