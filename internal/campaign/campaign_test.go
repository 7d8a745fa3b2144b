package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dropforge/internal/creative"
	"dropforge/internal/types"
)

// memStore is an in-memory persistence double.
type memStore struct {
	mu         sync.Mutex
	candidates map[string]types.Candidate
	decisions  map[string]types.Decision
	campaigns  map[string]types.Campaign
}

func newMemStore() *memStore {
	return &memStore{
		candidates: make(map[string]types.Candidate),
		decisions:  make(map[string]types.Decision),
		campaigns:  make(map[string]types.Campaign),
	}
}

func (m *memStore) GetCandidate(id string) (types.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return types.Candidate{}, types.NotFoundf("candidate")
	}
	return c, nil
}

func (m *memStore) GetDecision(candidateID string) (types.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[candidateID]
	if !ok {
		return types.Decision{}, types.NotFoundf("decision for candidate %s", candidateID)
	}
	return d, nil
}

func (m *memStore) CreateCampaign(c types.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.campaigns {
		if existing.CandidateID == c.CandidateID {
			return types.InvalidStatef("campaign already exists for candidate %s", c.CandidateID)
		}
	}
	m.campaigns[c.ID] = c
	return nil
}

func (m *memStore) UpdateCampaign(c types.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.ID]; !ok {
		return types.NotFoundf("campaign %s", c.ID)
	}
	m.campaigns[c.ID] = c
	return nil
}

func (m *memStore) GetCampaign(id string) (types.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return types.Campaign{}, types.NotFoundf("campaign")
	}
	return c, nil
}

func (m *memStore) GetCampaignByCandidate(candidateID string) (types.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.campaigns {
		if c.CandidateID == candidateID {
			return c, nil
		}
	}
	return types.Campaign{}, types.NotFoundf("campaign for candidate %s", candidateID)
}

func (m *memStore) ListCampaignsByStatus(statuses ...types.CampaignStatus) ([]types.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Campaign
	for _, c := range m.campaigns {
		if len(statuses) == 0 {
			out = append(out, c)
			continue
		}
		for _, st := range statuses {
			if c.Status == st {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) addAccepted(candidateID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[candidateID] = types.Candidate{ID: candidateID, Title: "LED Dog Collar", Category: "pets"}
	m.decisions[candidateID] = types.Decision{
		CandidateID: candidateID, Outcome: types.OutcomeAccepted, DecidedBy: "seller", DecidedAt: time.Now(),
	}
}

// fakeGenerator fails failures times, then succeeds.
type fakeGenerator struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeGenerator) Generate(ctx context.Context, req creative.Request) (creative.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return creative.Asset{}, fmt.Errorf("render service 503 (call %d)", f.calls)
	}
	return creative.Asset{
		ImageRef: "outputs/" + req.CampaignID + ".png",
		VideoRef: "outputs/" + req.CampaignID + ".mp4",
	}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testOptions() Options {
	return Options{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		InitialBackoff: time.Millisecond,
		MaxConcurrent:  2,
	}
}

func TestLaunch_SuccessActivatesCampaign(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_1")
	gen := &fakeGenerator{}
	e := NewExecutor(db, gen, testOptions())
	defer e.Close()

	c, err := e.Launch(context.Background(), "cand_1")
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if c.Status != types.CampaignPending {
		t.Errorf("Initial status = %s, want /pending", c.Status)
	}
	e.Wait()

	got, err := e.Get(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.CampaignActive {
		t.Errorf("Status = %s, want /active", got.Status)
	}
	if got.Creative.ImageRef == "" || got.Creative.VideoRef == "" {
		t.Errorf("Creative refs missing: %+v", got.Creative)
	}
	if got.FailureReason != "" {
		t.Errorf("FailureReason = %q, want empty", got.FailureReason)
	}
}

func TestLaunch_RetriesThenSucceeds(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_1")
	gen := &fakeGenerator{failures: 2}
	e := NewExecutor(db, gen, testOptions())
	defer e.Close()

	c, err := e.Launch(context.Background(), "cand_1")
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()

	got, _ := e.Get(c.ID)
	if got.Status != types.CampaignActive {
		t.Errorf("Status = %s, want /active after retry", got.Status)
	}
	if n := gen.callCount(); n != 3 {
		t.Errorf("Attempts = %d, want 3 (two failures then success)", n)
	}
}

func TestLaunch_ExhaustedRetriesFailCampaign(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_1")
	gen := &fakeGenerator{failures: 99}
	e := NewExecutor(db, gen, testOptions())
	defer e.Close()

	c, err := e.Launch(context.Background(), "cand_1")
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()

	got, _ := e.Get(c.ID)
	if got.Status != types.CampaignFailed {
		t.Errorf("Status = %s, want /failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Error("FailureReason must be retained")
	}
	if n := gen.callCount(); n != 3 {
		t.Errorf("Attempts = %d, want exactly 3 (no fourth attempt)", n)
	}
}

func TestLaunch_RejectsDeclinedAndUnknown(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_ok")
	db.mu.Lock()
	db.candidates["cand_no"] = types.Candidate{ID: "cand_no"}
	db.decisions["cand_no"] = types.Decision{CandidateID: "cand_no", Outcome: types.OutcomeDeclined}
	db.mu.Unlock()

	e := NewExecutor(db, &fakeGenerator{}, testOptions())
	defer e.Close()

	if _, err := e.Launch(context.Background(), "cand_no"); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Declined launch: expected ErrInvalidState, got %v", err)
	}
	if _, err := e.Launch(context.Background(), "cand_ghost"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Unknown launch: expected ErrNotFound, got %v", err)
	}
}

func TestLaunch_OneCampaignPerCandidate(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_1")
	e := NewExecutor(db, &fakeGenerator{}, testOptions())
	defer e.Close()

	if _, err := e.Launch(context.Background(), "cand_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Launch(context.Background(), "cand_1"); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Second launch: expected ErrInvalidState, got %v", err)
	}
	e.Wait()
}

func TestResumeStalled_FinishesStrandedCampaigns(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_1")
	db.addAccepted("cand_2")
	db.addAccepted("cand_3")
	now := time.Now().UTC()
	db.mu.Lock()
	// Rows a crashed process would leave behind, plus one that finished.
	db.campaigns["cmp_pend"] = types.Campaign{ID: "cmp_pend", CandidateID: "cand_1", Status: types.CampaignPending, LaunchedAt: now, UpdatedAt: now}
	db.campaigns["cmp_gen"] = types.Campaign{ID: "cmp_gen", CandidateID: "cand_2", Status: types.CampaignGenerating, LaunchedAt: now, UpdatedAt: now}
	db.campaigns["cmp_done"] = types.Campaign{ID: "cmp_done", CandidateID: "cand_3", Status: types.CampaignCompleted, LaunchedAt: now, UpdatedAt: now}
	db.mu.Unlock()

	gen := &fakeGenerator{}
	e := NewExecutor(db, gen, testOptions())
	defer e.Close()

	n, err := e.ResumeStalled()
	if err != nil {
		t.Fatalf("ResumeStalled failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Resumed = %d, want 2", n)
	}
	e.Wait()

	for _, id := range []string{"cmp_pend", "cmp_gen"} {
		got, err := e.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != types.CampaignActive {
			t.Errorf("Campaign %s status = %s, want /active after resume", id, got.Status)
		}
	}
	done, _ := e.Get("cmp_done")
	if done.Status != types.CampaignCompleted {
		t.Errorf("Completed campaign must not be re-run, status = %s", done.Status)
	}
	if calls := gen.callCount(); calls != 2 {
		t.Errorf("Generation calls = %d, want 2", calls)
	}
}

func TestComplete(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_1")
	e := NewExecutor(db, &fakeGenerator{}, testOptions())
	defer e.Close()

	c, err := e.Launch(context.Background(), "cand_1")
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()

	done, err := e.Complete(c.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != types.CampaignCompleted {
		t.Errorf("Status = %s, want /completed", done.Status)
	}

	// Terminal states reject further transitions.
	if _, err := e.Complete(c.ID); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Double complete: expected ErrInvalidState, got %v", err)
	}
}

func TestComplete_FailedCampaignRejected(t *testing.T) {
	db := newMemStore()
	db.addAccepted("cand_1")
	gen := &fakeGenerator{failures: 99}
	e := NewExecutor(db, gen, testOptions())
	defer e.Close()

	c, err := e.Launch(context.Background(), "cand_1")
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if _, err := e.Complete(c.ID); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Completing a failed campaign: expected ErrInvalidState, got %v", err)
	}
}
