package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dropforge/internal/config"
	"dropforge/internal/creative"
	"dropforge/internal/discovery"
	"dropforge/internal/pipeline"
	"dropforge/internal/store"
	"dropforge/internal/types"
)

type okGenerator struct{}

func (okGenerator) Generate(ctx context.Context, req creative.Request) (creative.Asset, error) {
	return creative.Asset{
		ImageRef: "outputs/" + req.CampaignID + ".png",
		VideoRef: "outputs/" + req.CampaignID + ".mp4",
	}, nil
}

type testHarness struct {
	srv *Server
	svc *pipeline.Service
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Creative.InitialBackoff = "1ms"

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc, err := pipeline.NewService(cfg, db, discovery.NewStaticSource(nil), okGenerator{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Close)

	return &testHarness{
		srv: New(svc, cfg, prometheus.NewRegistry()),
		svc: svc,
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("Response undecodable: %v\n%s", err, w.Body.String())
	}
}

// discoverOne seeds candidates and returns the top candidate id.
func (h *testHarness) discoverOne(t *testing.T) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/discover", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("discover = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Candidates []types.ScoredCandidate `json:"candidates"`
	}
	decode(t, w, &resp)
	if len(resp.Candidates) == 0 {
		t.Fatal("No candidates discovered")
	}
	return resp.Candidates[0].ID
}

// launchActive accepts a candidate and waits for its campaign.
func (h *testHarness) launchActive(t *testing.T, candidateID string) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/candidates/"+candidateID+"/decision",
		map[string]string{"outcome": "accepted", "actor": "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("decision = %d: %s", w.Code, w.Body.String())
	}
	h.svc.WaitForCampaigns()

	w = h.do(t, http.MethodGet, "/api/candidates/"+candidateID+"/campaign", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("campaign fetch = %d: %s", w.Code, w.Body.String())
	}
	var cmp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, w, &cmp)
	if cmp.Status != string(types.CampaignActive) {
		t.Fatalf("Campaign status = %s, want /active", cmp.Status)
	}
	return cmp.ID
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	var resp map[string]interface{}
	decode(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("status = %v", resp["status"])
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodGet, "/health", nil)
	w := h.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("dropforge_api_requests_total")) {
		t.Error("Request counter missing from exposition")
	}
}

func TestListCandidates_Filters(t *testing.T) {
	h := newHarness(t)
	id := h.discoverOne(t)

	w := h.do(t, http.MethodGet, "/api/candidates?undecided=true&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp struct {
		Candidates []types.ScoredCandidate `json:"candidates"`
	}
	decode(t, w, &resp)
	if len(resp.Candidates) != 2 {
		t.Errorf("len = %d, want 2", len(resp.Candidates))
	}
	if resp.Candidates[0].Score < resp.Candidates[1].Score {
		t.Error("Candidates must be sorted best score first")
	}

	w = h.do(t, http.MethodGet, "/api/candidates?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}

	w = h.do(t, http.MethodGet, "/api/candidates/"+id, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get candidate = %d", w.Code)
	}
	w = h.do(t, http.MethodGet, "/api/candidates/cand_ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown candidate = %d, want 404", w.Code)
	}
}

func TestDecisionFlow(t *testing.T) {
	h := newHarness(t)
	id := h.discoverOne(t)
	h.launchActive(t, id)

	// Second decision conflicts and reports the existing one.
	w := h.do(t, http.MethodPost, "/api/candidates/"+id+"/decision",
		map[string]string{"outcome": "declined"})
	if w.Code != http.StatusConflict {
		t.Fatalf("double decide = %d, want 409: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Existing types.Decision `json:"existing_decision"`
	}
	decode(t, w, &resp)
	if resp.Existing.Outcome != types.OutcomeAccepted {
		t.Errorf("existing_decision = %+v", resp.Existing)
	}

	// Unknown outcome is a validation error.
	w = h.do(t, http.MethodPost, "/api/candidates/"+id+"/decision",
		map[string]string{"outcome": "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad outcome = %d, want 400", w.Code)
	}
}

func TestMetricIngestionAndAggregates(t *testing.T) {
	h := newHarness(t)
	id := h.discoverOne(t)
	cmpID := h.launchActive(t, id)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	body := map[string]interface{}{
		"campaign_id": cmpID,
		"kind":        "conversion",
		"value":       2,
		"observed_at": at.Format(time.RFC3339),
	}

	w := h.do(t, http.MethodPost, "/api/metrics", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("record = %d: %s", w.Code, w.Body.String())
	}

	// Replay is 200, not 201, and does not double count.
	w = h.do(t, http.MethodPost, "/api/metrics", body)
	if w.Code != http.StatusOK {
		t.Fatalf("replay = %d, want 200: %s", w.Code, w.Body.String())
	}

	w = h.do(t, http.MethodGet, "/api/campaigns/"+cmpID+"/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("aggregates = %d", w.Code)
	}
	var totals struct {
		Conversions int64   `json:"conversions"`
		Profit      float64 `json:"profit"`
	}
	decode(t, w, &totals)
	if totals.Conversions != 2 {
		t.Errorf("Conversions = %d, want 2", totals.Conversions)
	}

	// Negative cumulative value rejected.
	body["value"] = -1
	body["observed_at"] = at.Add(time.Hour).Format(time.RFC3339)
	w = h.do(t, http.MethodPost, "/api/metrics", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative view = %d, want 400", w.Code)
	}

	// Unknown campaign 404.
	w = h.do(t, http.MethodPost, "/api/metrics", map[string]interface{}{
		"campaign_id": "cmp_ghost", "kind": "view", "value": 1,
		"observed_at": at.Format(time.RFC3339),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown campaign = %d, want 404", w.Code)
	}
}

func TestCampaignCompleteAndProfit(t *testing.T) {
	h := newHarness(t)
	id := h.discoverOne(t)
	cmpID := h.launchActive(t, id)

	at := time.Now().UTC()
	for i, ev := range []map[string]interface{}{
		{"kind": "cost_adjustment", "value": 40},
		{"kind": "revenue_adjustment", "value": 100},
	} {
		ev["campaign_id"] = cmpID
		ev["observed_at"] = at.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		if w := h.do(t, http.MethodPost, "/api/metrics", ev); w.Code != http.StatusCreated {
			t.Fatalf("record = %d: %s", w.Code, w.Body.String())
		}
	}

	w := h.do(t, http.MethodPost, "/api/campaigns/"+cmpID+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete = %d: %s", w.Code, w.Body.String())
	}
	var cmp struct {
		Status string  `json:"status"`
		Profit float64 `json:"profit"`
	}
	decode(t, w, &cmp)
	if cmp.Status != string(types.CampaignCompleted) {
		t.Errorf("Status = %s", cmp.Status)
	}
	if cmp.Profit != 60 {
		t.Errorf("Profit = %v, want 60", cmp.Profit)
	}

	// Completing twice conflicts.
	if w := h.do(t, http.MethodPost, "/api/campaigns/"+cmpID+"/complete", nil); w.Code != http.StatusConflict {
		t.Errorf("double complete = %d, want 409", w.Code)
	}

	// Status filter.
	w = h.do(t, http.MethodGet, "/api/campaigns?status=completed", nil)
	var list struct {
		Campaigns []map[string]interface{} `json:"campaigns"`
	}
	decode(t, w, &list)
	if len(list.Campaigns) != 1 {
		t.Errorf("completed campaigns = %d, want 1", len(list.Campaigns))
	}
}

func TestStrategyEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/strategy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("strategy = %d", w.Code)
	}
	var v types.StrategyVersion
	decode(t, w, &v)
	if v.Version != 1 {
		t.Errorf("Version = %d, want bootstrap 1", v.Version)
	}

	// Evolve with no completed campaigns is a published=false no-op.
	w = h.do(t, http.MethodPost, "/api/evolve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("evolve = %d: %s", w.Code, w.Body.String())
	}
	var evolve struct {
		Published bool `json:"published"`
	}
	decode(t, w, &evolve)
	if evolve.Published {
		t.Error("Evolve with no campaigns must not publish")
	}

	w = h.do(t, http.MethodGet, "/api/strategy/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d", w.Code)
	}
	var history struct {
		Versions []types.StrategyVersion `json:"versions"`
	}
	decode(t, w, &history)
	if len(history.Versions) != 1 {
		t.Errorf("history = %d versions, want 1", len(history.Versions))
	}

	// Individual versions are addressable.
	w = h.do(t, http.MethodGet, "/api/strategy/versions/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("version 1 = %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/strategy/versions/9", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing version = %d, want 404", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/strategy/versions/first", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad version = %d, want 400", w.Code)
	}
}

func TestErrorBodyShape(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/campaigns/cmp_ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["error"] == "" {
		t.Error("Error body missing message")
	}
	if !json.Valid(w.Body.Bytes()) {
		t.Error("Error body is not JSON")
	}
}
