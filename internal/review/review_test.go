package review

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dropforge/internal/store"
	"dropforge/internal/types"
)

// fakeService serves a fixed queue and records verdicts.
type fakeService struct {
	queue    []types.ScoredCandidate
	decided  map[string]types.DecisionOutcome
	failNext error
}

func newFakeService(titles ...string) *fakeService {
	f := &fakeService{decided: make(map[string]types.DecisionOutcome)}
	for i, title := range titles {
		f.queue = append(f.queue, types.ScoredCandidate{
			Candidate: types.Candidate{
				ID:        "cand_" + title,
				SourceRef: "static:" + title,
				Title:     title,
				Category:  "pets",
			},
			Score:           0.9 - float64(i)*0.1,
			StrategyVersion: 1,
			ScoredAt:        time.Now(),
		})
	}
	return f
}

func (f *fakeService) ListCandidates(_ store.ScoreFilter) ([]types.ScoredCandidate, error) {
	var open []types.ScoredCandidate
	for _, sc := range f.queue {
		if _, done := f.decided[sc.ID]; !done {
			open = append(open, sc)
		}
	}
	return open, nil
}

func (f *fakeService) Decide(_ context.Context, id string, outcome types.DecisionOutcome, actor string) (types.Decision, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return types.Decision{}, err
	}
	f.decided[id] = outcome
	return types.Decision{CandidateID: id, Outcome: outcome, DecidedBy: actor, DecidedAt: time.Now()}, nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModel_LoadsQueue(t *testing.T) {
	svc := newFakeService("collar", "corrector")
	m, err := NewModel(svc, "alice")
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if got := len(m.list.Items()); got != 2 {
		t.Errorf("Queue length = %d, want 2", got)
	}
	if !strings.Contains(m.list.Title, "2 pending") {
		t.Errorf("Title = %q", m.list.Title)
	}
}

func TestAcceptKey_DecidesAndShrinksQueue(t *testing.T) {
	svc := newFakeService("collar", "corrector")
	m, err := NewModel(svc, "alice")
	if err != nil {
		t.Fatal(err)
	}

	updated, _ := m.Update(key("a"))
	next := updated.(Model)

	if got := svc.decided["cand_collar"]; got != types.OutcomeAccepted {
		t.Errorf("Verdict = %s, want /accepted", got)
	}
	if got := len(next.list.Items()); got != 1 {
		t.Errorf("Queue length = %d, want 1 after verdict", got)
	}
}

func TestDeclineKey(t *testing.T) {
	svc := newFakeService("collar")
	m, err := NewModel(svc, "alice")
	if err != nil {
		t.Fatal(err)
	}

	m.Update(key("d"))

	if got := svc.decided["cand_collar"]; got != types.OutcomeDeclined {
		t.Errorf("Verdict = %s, want /declined", got)
	}
}

func TestDecideError_SurfacesInView(t *testing.T) {
	svc := newFakeService("collar")
	svc.failNext = types.InvalidStatef("candidate cand_collar already decided")
	m, err := NewModel(svc, "alice")
	if err != nil {
		t.Fatal(err)
	}

	updated, _ := m.Update(key("a"))
	next := updated.(Model)

	if next.err == nil {
		t.Fatal("Expected error to be retained")
	}
	if !strings.Contains(next.View(), "already decided") {
		t.Error("View must surface the error")
	}
}

func TestQuitKey(t *testing.T) {
	svc := newFakeService("collar")
	m, err := NewModel(svc, "alice")
	if err != nil {
		t.Fatal(err)
	}

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Errorf("Command = %v, want tea.QuitMsg", msg)
	}
}

func TestEmptyQueue_DecideIsNoOp(t *testing.T) {
	svc := newFakeService()
	m, err := NewModel(svc, "alice")
	if err != nil {
		t.Fatal(err)
	}

	m.Update(key("a"))
	if len(svc.decided) != 0 {
		t.Error("Decide on empty queue must be a no-op")
	}
}
