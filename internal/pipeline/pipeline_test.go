package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"dropforge/internal/config"
	"dropforge/internal/creative"
	"dropforge/internal/discovery"
	"dropforge/internal/store"
	"dropforge/internal/types"
)

func TestMain(m *testing.M) {
	// go.opencensus.io starts a background worker in package init that can
	// never be stopped; ignore it per goleak's documented known issues.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// okGenerator succeeds immediately.
type okGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *okGenerator) Generate(ctx context.Context, req creative.Request) (creative.Asset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return creative.Asset{
		ImageRef: "outputs/" + req.CampaignID + ".png",
		VideoRef: "outputs/" + req.CampaignID + ".mp4",
	}, nil
}

// failGenerator always fails.
type failGenerator struct{}

func (failGenerator) Generate(ctx context.Context, req creative.Request) (creative.Asset, error) {
	return creative.Asset{}, errors.New("render farm on fire")
}

func testService(t *testing.T, source discovery.Source, gen creative.Generator) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Creative.InitialBackoff = "1ms"
	cfg.Creative.AttemptTimeout = "1s"
	cfg.Discovery.FetchLimit = 5

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc, err := NewService(cfg, db, source, gen)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestDiscover_ScoresAndPersists(t *testing.T) {
	svc := testService(t, discovery.NewStaticSource(nil), &okGenerator{})

	scored, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(scored) != 5 {
		t.Fatalf("len = %d, want 5", len(scored))
	}
	for _, sc := range scored {
		if sc.Score < 0 || sc.Score > 1 {
			t.Errorf("Score %v outside [0,1]", sc.Score)
		}
		if sc.StrategyVersion != 1 {
			t.Errorf("StrategyVersion = %d, want bootstrap 1", sc.StrategyVersion)
		}
	}

	// Re-running discovery dedupes on source ref: all open, none new.
	again, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("Second pass surfaced %d candidates, want 0 (all open)", len(again))
	}
}

func TestDecideAccept_LaunchesCampaign(t *testing.T) {
	svc := testService(t, discovery.NewStaticSource(nil), &okGenerator{})

	scored, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	id := scored[0].ID

	if _, err := svc.Decide(context.Background(), id, types.OutcomeAccepted, "alice"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	svc.WaitForCampaigns()

	c, err := svc.CampaignForCandidate(id)
	if err != nil {
		t.Fatalf("CampaignForCandidate failed: %v", err)
	}
	if c.Status != types.CampaignActive {
		t.Errorf("Status = %s, want /active", c.Status)
	}
}

func TestDecideDecline_NoCampaign(t *testing.T) {
	svc := testService(t, discovery.NewStaticSource(nil), &okGenerator{})

	scored, _ := svc.Discover(context.Background())
	id := scored[0].ID

	if _, err := svc.Decide(context.Background(), id, types.OutcomeDeclined, "alice"); err != nil {
		t.Fatal(err)
	}
	svc.WaitForCampaigns()

	if _, err := svc.CampaignForCandidate(id); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Declined candidate must have no campaign, got %v", err)
	}

	// A decided source ref is open for rediscovery.
	again, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, sc := range again {
		if sc.SourceRef == scored[0].SourceRef {
			found = true
			if sc.ID == id {
				t.Error("Rediscovery must mint a new candidate id")
			}
		}
	}
	if !found {
		t.Error("Declined product must resurface on the next fetch")
	}
}

func TestFailedGeneration_RetainsReason(t *testing.T) {
	svc := testService(t, discovery.NewStaticSource(nil), failGenerator{})

	scored, _ := svc.Discover(context.Background())
	id := scored[0].ID
	if _, err := svc.Decide(context.Background(), id, types.OutcomeAccepted, "alice"); err != nil {
		t.Fatal(err)
	}
	svc.WaitForCampaigns()

	c, err := svc.CampaignForCandidate(id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != types.CampaignFailed {
		t.Errorf("Status = %s, want /failed", c.Status)
	}
	if c.FailureReason == "" {
		t.Error("FailureReason must be retained")
	}
}

func TestEvolutionCycle_EndToEnd(t *testing.T) {
	svc := testService(t, discovery.NewStaticSource(nil), &okGenerator{})
	ctx := context.Background()

	scored, err := svc.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(scored) < 2 {
		t.Fatalf("Need at least 2 candidates, got %d", len(scored))
	}

	// Run two campaigns to completion with opposite fortunes.
	profits := []float64{200, -80}
	var campaignIDs []string
	for i := 0; i < 2; i++ {
		id := scored[i].ID
		if _, err := svc.Decide(ctx, id, types.OutcomeAccepted, "alice"); err != nil {
			t.Fatal(err)
		}
		svc.WaitForCampaigns()

		c, err := svc.CampaignForCandidate(id)
		if err != nil {
			t.Fatal(err)
		}
		at := time.Now().UTC().Add(time.Duration(i) * time.Second)
		if _, _, err := svc.RecordMetric(ctx, types.MetricEvent{
			CampaignID: c.ID, Kind: types.MetricCostAdjustment, Value: 100, ObservedAt: at,
		}); err != nil {
			t.Fatal(err)
		}
		if _, _, err := svc.RecordMetric(ctx, types.MetricEvent{
			CampaignID: c.ID, Kind: types.MetricRevenueAdjustment, Value: 100 + profits[i], ObservedAt: at.Add(time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CompleteCampaign(c.ID); err != nil {
			t.Fatal(err)
		}
		campaignIDs = append(campaignIDs, c.ID)
	}

	next, published, err := svc.RunEvolutionCycle(ctx)
	if err != nil {
		t.Fatalf("RunEvolutionCycle failed: %v", err)
	}
	if !published {
		t.Fatal("Expected a published version")
	}
	if next.Version != 2 {
		t.Errorf("Version = %d, want 2", next.Version)
	}
	provenance := make(map[string]bool, len(next.BasedOnCampaigns))
	for _, id := range next.BasedOnCampaigns {
		provenance[id] = true
	}
	for _, id := range campaignIDs {
		if !provenance[id] {
			t.Errorf("BasedOnCampaigns = %v, missing %s", next.BasedOnCampaigns, id)
		}
	}

	// Open candidates got rescored under the new version.
	open, err := svc.ListCandidates(store.ScoreFilter{Undecided: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, sc := range open {
		if sc.StrategyVersion != 2 {
			t.Errorf("Candidate %s scored under v%d, want rescore to v2", sc.ID, sc.StrategyVersion)
		}
	}

	// A second cycle sees no fresh campaigns: no-op.
	if _, published, err := svc.RunEvolutionCycle(ctx); err != nil || published {
		t.Errorf("Second cycle: published=%v err=%v, want no-op", published, err)
	}

	history, err := svc.StrategyHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("History length = %d, want 2", len(history))
	}
}

func TestApplyConfig_HotSwapsTunables(t *testing.T) {
	svc := testService(t, discovery.NewStaticSource(nil), &okGenerator{})

	next := config.DefaultConfig()
	next.Discovery.FetchLimit = 2
	next.Evolution.MinCampaigns = 99
	svc.ApplyConfig(next)

	scored, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(scored) != 2 {
		t.Errorf("len = %d, want reloaded fetch limit 2", len(scored))
	}

	// The raised campaign threshold turns cycles into no-ops.
	if _, published, err := svc.RunEvolutionCycle(context.Background()); err != nil || published {
		t.Errorf("Cycle after reload: published=%v err=%v, want no-op", published, err)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	svc := testService(t, discovery.NewStaticSource(nil), &okGenerator{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
