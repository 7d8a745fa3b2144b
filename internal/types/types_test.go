package types

import (
	"errors"
	"testing"
	"time"
)

func TestDecisionOutcome_Valid(t *testing.T) {
	if !OutcomeAccepted.Valid() {
		t.Error("Expected /accepted to be valid")
	}
	if !OutcomeDeclined.Valid() {
		t.Error("Expected /declined to be valid")
	}
	if DecisionOutcome("/maybe").Valid() {
		t.Error("Expected /maybe to be invalid")
	}
}

func TestCampaignStatus_Terminal(t *testing.T) {
	terminal := []CampaignStatus{CampaignCompleted, CampaignFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	open := []CampaignStatus{CampaignPending, CampaignGenerating, CampaignActive}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestMetricKind_Cumulative(t *testing.T) {
	if !MetricView.Cumulative() || !MetricClick.Cumulative() || !MetricConversion.Cumulative() {
		t.Error("Expected view/click/conversion to be cumulative")
	}
	if MetricCostAdjustment.Cumulative() || MetricRevenueAdjustment.Cumulative() {
		t.Error("Expected adjustments to be non-cumulative")
	}
	if MetricKind("/bounce").Valid() {
		t.Error("Expected unknown kind to be invalid")
	}
}

func TestCandidate_Signal(t *testing.T) {
	c := Candidate{
		ID:              "cand_1",
		EstimatedDemand: Float(0.9),
	}

	v, present, known := c.Signal(SignalTrend)
	if !known || !present {
		t.Fatal("Expected trend signal to be known and present")
	}
	if v != 0.9 {
		t.Errorf("trend = %v, want 0.9", v)
	}

	_, present, known = c.Signal(SignalMargin)
	if !known {
		t.Error("Expected margin signal to be known")
	}
	if present {
		t.Error("Expected margin signal to be absent")
	}

	_, _, known = c.Signal("novelty")
	if known {
		t.Error("Expected novelty signal to be unrecognized")
	}
}

func TestCampaign_Profit(t *testing.T) {
	c := Campaign{Revenue: 120.5, Cost: 45.25}
	if got := c.Profit(); got != 75.25 {
		t.Errorf("Profit() = %v, want 75.25", got)
	}
}

func TestMetricEvent_DedupeKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := MetricEvent{CampaignID: "cmp_1", Kind: MetricConversion, Value: 1, ObservedAt: at}
	b := MetricEvent{CampaignID: "cmp_1", Kind: MetricConversion, Value: 1, ObservedAt: at}
	if a.DedupeKey() != b.DedupeKey() {
		t.Error("Identical events must share a dedupe key")
	}

	c := MetricEvent{CampaignID: "cmp_1", Kind: MetricClick, Value: 1, ObservedAt: at}
	if a.DedupeKey() == c.DedupeKey() {
		t.Error("Different kinds must not share a dedupe key")
	}
}

func TestStrategyVersion_Clone(t *testing.T) {
	orig := StrategyVersion{
		Version:   3,
		Weights:   map[string]float64{SignalTrend: 0.6, SignalMargin: 0.4},
		CreatedAt: time.Now(),
	}
	clone := orig.Clone()
	clone.Weights[SignalTrend] = 0.9

	if orig.Weights[SignalTrend] != 0.6 {
		t.Error("Clone must not share the weights map")
	}
}

func TestAlreadyDecidedError(t *testing.T) {
	err := &AlreadyDecidedError{Existing: Decision{
		CandidateID: "cand_1",
		Outcome:     OutcomeAccepted,
		DecidedBy:   "seller@example.com",
		DecidedAt:   time.Now(),
	}}

	if !errors.Is(err, ErrInvalidState) {
		t.Error("AlreadyDecidedError must match ErrInvalidState")
	}

	var ad *AlreadyDecidedError
	if !errors.As(err, &ad) {
		t.Fatal("errors.As failed")
	}
	if ad.Existing.Outcome != OutcomeAccepted {
		t.Error("Blocking decision not retained")
	}
}

func TestErrorWrappers(t *testing.T) {
	if !errors.Is(NotFoundf("campaign %s", "cmp_9"), ErrNotFound) {
		t.Error("NotFoundf must match ErrNotFound")
	}
	if !errors.Is(Validationf("negative cost"), ErrValidation) {
		t.Error("Validationf must match ErrValidation")
	}
	cause := errors.New("connection reset")
	err := Upstreamf(cause, "creative generation after 3 attempts")
	if !errors.Is(err, ErrUpstream) {
		t.Error("Upstreamf must match ErrUpstream")
	}
}
