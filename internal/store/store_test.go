package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dropforge/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCandidate(id, ref string) types.Candidate {
	return types.Candidate{
		ID:              id,
		SourceRef:       ref,
		Title:           "LED Dog Collar",
		Category:        "pets",
		EstimatedMargin: types.Float(0.5),
		EstimatedDemand: types.Float(0.9),
		DiscoveredAt:    time.Now().UTC(),
	}
}

func TestCandidateRoundTrip(t *testing.T) {
	s := testStore(t)

	c := testCandidate("cand_1", "linkup:led-dog-collar")
	if err := s.SaveCandidate(c); err != nil {
		t.Fatalf("SaveCandidate failed: %v", err)
	}

	got, err := s.GetCandidate("cand_1")
	if err != nil {
		t.Fatalf("GetCandidate failed: %v", err)
	}
	if got.Title != c.Title || got.SourceRef != c.SourceRef {
		t.Errorf("Round trip mismatch: got %+v", got)
	}
	if got.EstimatedMargin == nil || *got.EstimatedMargin != 0.5 {
		t.Errorf("EstimatedMargin = %v, want 0.5", got.EstimatedMargin)
	}
}

func TestGetCandidate_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetCandidate("cand_missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCandidate_NilSignalsSurviveRoundTrip(t *testing.T) {
	s := testStore(t)

	c := testCandidate("cand_2", "linkup:mystery")
	c.EstimatedMargin = nil
	if err := s.SaveCandidate(c); err != nil {
		t.Fatalf("SaveCandidate failed: %v", err)
	}

	got, err := s.GetCandidate("cand_2")
	if err != nil {
		t.Fatalf("GetCandidate failed: %v", err)
	}
	if got.EstimatedMargin != nil {
		t.Errorf("EstimatedMargin = %v, want nil (absent signal)", *got.EstimatedMargin)
	}
	if got.EstimatedDemand == nil {
		t.Error("EstimatedDemand lost in round trip")
	}
}

func TestHasOpenCandidateForSourceRef(t *testing.T) {
	s := testStore(t)

	c := testCandidate("cand_1", "linkup:widget")
	if err := s.SaveCandidate(c); err != nil {
		t.Fatal(err)
	}

	open, err := s.HasOpenCandidateForSourceRef("linkup:widget")
	if err != nil {
		t.Fatal(err)
	}
	if !open {
		t.Error("Expected open candidate for source ref")
	}

	// A decision closes the lifecycle and frees the source ref.
	d := types.Decision{CandidateID: "cand_1", Outcome: types.OutcomeDeclined, DecidedBy: "seller", DecidedAt: time.Now()}
	if err := s.SaveDecision(d); err != nil {
		t.Fatal(err)
	}
	open, err = s.HasOpenCandidateForSourceRef("linkup:widget")
	if err != nil {
		t.Fatal(err)
	}
	if open {
		t.Error("Decided candidate must not block its source ref")
	}
}

func TestScoreRoundTripAndLatest(t *testing.T) {
	s := testStore(t)

	c := testCandidate("cand_1", "linkup:widget")
	if err := s.SaveCandidate(c); err != nil {
		t.Fatal(err)
	}

	for version, score := range map[int]float64{1: 0.74, 2: 0.69} {
		sc := types.ScoredCandidate{Candidate: c, Score: score, StrategyVersion: version, ScoredAt: time.Now()}
		if err := s.SaveScore(sc); err != nil {
			t.Fatalf("SaveScore v%d failed: %v", version, err)
		}
	}

	got, err := s.LatestScore("cand_1")
	if err != nil {
		t.Fatalf("LatestScore failed: %v", err)
	}
	if got.StrategyVersion != 2 {
		t.Errorf("StrategyVersion = %d, want 2", got.StrategyVersion)
	}
	if got.Score != 0.69 {
		t.Errorf("Score = %v, want 0.69", got.Score)
	}
}

func TestListScored_UndecidedFilterAndOrder(t *testing.T) {
	s := testStore(t)

	for _, row := range []struct {
		id    string
		score float64
	}{
		{"cand_a", 0.30},
		{"cand_b", 0.90},
		{"cand_c", 0.60},
	} {
		c := testCandidate(row.id, "linkup:"+row.id)
		if err := s.SaveCandidate(c); err != nil {
			t.Fatal(err)
		}
		sc := types.ScoredCandidate{Candidate: c, Score: row.score, StrategyVersion: 1, ScoredAt: time.Now()}
		if err := s.SaveScore(sc); err != nil {
			t.Fatal(err)
		}
	}
	d := types.Decision{CandidateID: "cand_b", Outcome: types.OutcomeAccepted, DecidedBy: "seller", DecidedAt: time.Now()}
	if err := s.SaveDecision(d); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListScored(ScoreFilter{Undecided: true})
	if err != nil {
		t.Fatalf("ListScored failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (decided candidate excluded)", len(got))
	}
	if got[0].ID != "cand_c" || got[1].ID != "cand_a" {
		t.Errorf("Order = [%s %s], want best score first", got[0].ID, got[1].ID)
	}
}

func TestSaveDecision_WriteOnce(t *testing.T) {
	s := testStore(t)

	c := testCandidate("cand_1", "linkup:widget")
	if err := s.SaveCandidate(c); err != nil {
		t.Fatal(err)
	}
	d := types.Decision{CandidateID: "cand_1", Outcome: types.OutcomeAccepted, DecidedBy: "seller", DecidedAt: time.Now()}
	if err := s.SaveDecision(d); err != nil {
		t.Fatalf("First SaveDecision failed: %v", err)
	}

	d.Outcome = types.OutcomeDeclined
	err := s.SaveDecision(d)
	if !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Second SaveDecision: expected ErrInvalidState, got %v", err)
	}

	got, err := s.GetDecision("cand_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome != types.OutcomeAccepted {
		t.Errorf("Stored outcome = %s, want original /accepted", got.Outcome)
	}
}

func TestCampaignLifecycleRoundTrip(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC()
	c := types.Campaign{
		ID:          "cmp_1",
		CandidateID: "cand_1",
		Status:      types.CampaignPending,
		LaunchedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.CreateCampaign(c); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}

	// One campaign per candidate.
	dup := c
	dup.ID = "cmp_2"
	if err := s.CreateCampaign(dup); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Duplicate candidate campaign: expected ErrInvalidState, got %v", err)
	}

	c.Status = types.CampaignActive
	c.Creative = types.CreativeRef{ImageRef: "outputs/cmp_1.png", VideoRef: "outputs/cmp_1.mp4"}
	c.UpdatedAt = now.Add(time.Minute)
	if err := s.UpdateCampaign(c); err != nil {
		t.Fatalf("UpdateCampaign failed: %v", err)
	}

	got, err := s.GetCampaign("cmp_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.CampaignActive {
		t.Errorf("Status = %s, want /active", got.Status)
	}
	if got.Creative.VideoRef != "outputs/cmp_1.mp4" {
		t.Errorf("VideoRef = %q", got.Creative.VideoRef)
	}

	byCand, err := s.GetCampaignByCandidate("cand_1")
	if err != nil {
		t.Fatal(err)
	}
	if byCand.ID != "cmp_1" {
		t.Errorf("GetCampaignByCandidate = %s, want cmp_1", byCand.ID)
	}
}

func TestUpdateCampaign_NotFound(t *testing.T) {
	s := testStore(t)

	c := types.Campaign{ID: "cmp_ghost", CandidateID: "cand_x", Status: types.CampaignActive}
	if err := s.UpdateCampaign(c); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListCampaignsByStatus(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC()
	for i, st := range []types.CampaignStatus{types.CampaignActive, types.CampaignFailed, types.CampaignCompleted} {
		c := types.Campaign{
			ID:          "cmp_" + string(rune('a'+i)),
			CandidateID: "cand_" + string(rune('a'+i)),
			Status:      st,
			LaunchedAt:  now.Add(time.Duration(i) * time.Second),
			UpdatedAt:   now,
		}
		if err := s.CreateCampaign(c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListCampaignsByStatus(types.CampaignCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != types.CampaignCompleted {
		t.Errorf("ListCampaignsByStatus(/completed) = %+v", got)
	}

	all, err := s.ListCampaignsByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestInsertMetricEvent_Idempotent(t *testing.T) {
	s := testStore(t)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := types.MetricEvent{CampaignID: "cmp_1", Kind: types.MetricConversion, Value: 1, ObservedAt: at}

	inserted, err := s.InsertMetricEvent(e)
	if err != nil {
		t.Fatalf("InsertMetricEvent failed: %v", err)
	}
	if !inserted {
		t.Fatal("First insert must report inserted=true")
	}

	inserted, err = s.InsertMetricEvent(e)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if inserted {
		t.Error("Replay of the same dedupe key must be a no-op")
	}

	events, err := s.ListMetricEvents("cmp_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if !events[0].ObservedAt.Equal(at) {
		t.Errorf("ObservedAt = %v, want %v", events[0].ObservedAt, at)
	}
}

func TestSumMetrics(t *testing.T) {
	s := testStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []types.MetricEvent{
		{CampaignID: "cmp_1", Kind: types.MetricView, Value: 100, ObservedAt: base},
		{CampaignID: "cmp_1", Kind: types.MetricView, Value: 50, ObservedAt: base.Add(time.Minute)},
		{CampaignID: "cmp_1", Kind: types.MetricConversion, Value: 3, ObservedAt: base.Add(2 * time.Minute)},
		{CampaignID: "cmp_1", Kind: types.MetricCostAdjustment, Value: 40, ObservedAt: base.Add(3 * time.Minute)},
		{CampaignID: "cmp_1", Kind: types.MetricCostAdjustment, Value: -10, ObservedAt: base.Add(4 * time.Minute)},
		{CampaignID: "cmp_1", Kind: types.MetricRevenueAdjustment, Value: 90, ObservedAt: base.Add(5 * time.Minute)},
		// Different campaign, must not bleed in.
		{CampaignID: "cmp_2", Kind: types.MetricView, Value: 999, ObservedAt: base},
	}
	for _, e := range events {
		if _, err := s.InsertMetricEvent(e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SumMetrics("cmp_1")
	if err != nil {
		t.Fatalf("SumMetrics failed: %v", err)
	}
	if got.Views != 150 {
		t.Errorf("Views = %d, want 150", got.Views)
	}
	if got.Conversions != 3 {
		t.Errorf("Conversions = %d, want 3", got.Conversions)
	}
	if got.Cost != 30 {
		t.Errorf("Cost = %v, want 30 (40 - 10 adjustment)", got.Cost)
	}
	if got.Revenue != 90 {
		t.Errorf("Revenue = %v, want 90", got.Revenue)
	}
}

func TestStrategyVersions(t *testing.T) {
	s := testStore(t)

	_, ok, err := s.LatestStrategyVersion()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Empty store must report no latest version")
	}

	v1 := types.StrategyVersion{
		Version:   1,
		Weights:   map[string]float64{"trend": 0.6, "margin": 0.4},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveStrategyVersion(v1); err != nil {
		t.Fatalf("SaveStrategyVersion failed: %v", err)
	}
	v2 := types.StrategyVersion{
		Version:          2,
		Weights:          map[string]float64{"trend": 0.65, "margin": 0.35},
		CreatedAt:        time.Now().UTC(),
		BasedOnCampaigns: []string{"cmp_1", "cmp_2"},
	}
	if err := s.SaveStrategyVersion(v2); err != nil {
		t.Fatal(err)
	}

	// Versions are immutable.
	if err := s.SaveStrategyVersion(v1); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Re-insert of version 1: expected ErrInvalidState, got %v", err)
	}

	latest, ok, err := s.LatestStrategyVersion()
	if err != nil || !ok {
		t.Fatalf("LatestStrategyVersion = %v, ok=%v", err, ok)
	}
	if latest.Version != 2 {
		t.Errorf("Latest version = %d, want 2", latest.Version)
	}
	if diff := cmp.Diff(v2.Weights, latest.Weights); diff != "" {
		t.Errorf("Weights mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(v2.BasedOnCampaigns, latest.BasedOnCampaigns); diff != "" {
		t.Errorf("BasedOnCampaigns mismatch (-want +got):\n%s", diff)
	}

	history, err := s.ListStrategyVersions()
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Version != 1 || history[1].Version != 2 {
		t.Errorf("History order wrong: %+v", history)
	}
}
