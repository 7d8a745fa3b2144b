package strategy

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dropforge/internal/types"
)

// memStore is an in-memory persistence double.
type memStore struct {
	mu       sync.Mutex
	versions []types.StrategyVersion
	failNext bool
}

func (m *memStore) SaveStrategyVersion(v types.StrategyVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("disk full")
	}
	for _, existing := range m.versions {
		if existing.Version == v.Version {
			return types.InvalidStatef("strategy version %d already exists", v.Version)
		}
	}
	m.versions = append(m.versions, v.Clone())
	return nil
}

func (m *memStore) LatestStrategyVersion() (types.StrategyVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.versions) == 0 {
		return types.StrategyVersion{}, false, nil
	}
	return m.versions[len(m.versions)-1].Clone(), true, nil
}

func (m *memStore) ListStrategyVersions() ([]types.StrategyVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.StrategyVersion, 0, len(m.versions))
	for _, v := range m.versions {
		out = append(out, v.Clone())
	}
	return out, nil
}

func bootstrapWeights() map[string]float64 {
	return map[string]float64{"trend": 0.6, "margin": 0.4}
}

func TestNewStore_SeedsVersionOne(t *testing.T) {
	db := &memStore{}
	s, err := NewStore(db, bootstrapWeights())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	cur := s.Current()
	if cur.Version != 1 {
		t.Errorf("Version = %d, want 1", cur.Version)
	}
	if cur.Weights["trend"] != 0.6 {
		t.Errorf("Weights[trend] = %v, want 0.6", cur.Weights["trend"])
	}
	if len(db.versions) != 1 {
		t.Error("Seed version must be persisted")
	}
}

func TestNewStore_LoadsExistingVersion(t *testing.T) {
	db := &memStore{}
	db.versions = append(db.versions, types.StrategyVersion{
		Version:   4,
		Weights:   map[string]float64{"trend": 0.7, "margin": 0.3},
		CreatedAt: time.Now(),
	})

	s, err := NewStore(db, bootstrapWeights())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if got := s.Current().Version; got != 4 {
		t.Errorf("Version = %d, want persisted 4 (bootstrap ignored)", got)
	}
}

func TestCurrent_ReturnsIsolatedSnapshot(t *testing.T) {
	db := &memStore{}
	s, err := NewStore(db, bootstrapWeights())
	if err != nil {
		t.Fatal(err)
	}

	snap := s.Current()
	snap.Weights["trend"] = 99

	if got := s.Current().Weights["trend"]; got != 0.6 {
		t.Errorf("Snapshot mutation leaked into store: trend = %v", got)
	}
}

func TestPublish_SwapsCurrentAndKeepsHistory(t *testing.T) {
	db := &memStore{}
	s, err := NewStore(db, bootstrapWeights())
	if err != nil {
		t.Fatal(err)
	}

	v2 := types.StrategyVersion{
		Version:          2,
		Weights:          map[string]float64{"trend": 0.65, "margin": 0.35},
		CreatedAt:        time.Now(),
		BasedOnCampaigns: []string{"cmp_1"},
	}
	if err := s.Publish(v2); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := s.Current().Version; got != 2 {
		t.Errorf("Current version = %d, want 2", got)
	}
	history, err := s.History()
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("History length = %d, want 2 (superseded version retained)", len(history))
	}
}

func TestPublish_RejectsBadVersions(t *testing.T) {
	db := &memStore{}
	s, err := NewStore(db, bootstrapWeights())
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		v    types.StrategyVersion
		want error
	}{
		{
			"version gap",
			types.StrategyVersion{Version: 3, Weights: bootstrapWeights()},
			types.ErrInvalidState,
		},
		{
			"same version",
			types.StrategyVersion{Version: 1, Weights: bootstrapWeights()},
			types.ErrInvalidState,
		},
		{
			"negative weight",
			types.StrategyVersion{Version: 2, Weights: map[string]float64{"trend": 1.2, "margin": -0.2}},
			types.ErrValidation,
		},
		{
			"sum not one",
			types.StrategyVersion{Version: 2, Weights: map[string]float64{"trend": 0.6, "margin": 0.6}},
			types.ErrValidation,
		},
		{
			"empty weights",
			types.StrategyVersion{Version: 2, Weights: nil},
			types.ErrValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Publish(tc.v); !errors.Is(err, tc.want) {
				t.Errorf("Publish = %v, want %v", err, tc.want)
			}
		})
	}

	if got := s.Current().Version; got != 1 {
		t.Errorf("Failed publishes must not move the pointer: version = %d", got)
	}
}

func TestPublish_PersistFailureLeavesCurrentUntouched(t *testing.T) {
	db := &memStore{}
	s, err := NewStore(db, bootstrapWeights())
	if err != nil {
		t.Fatal(err)
	}

	db.failNext = true
	v2 := types.StrategyVersion{Version: 2, Weights: map[string]float64{"trend": 0.65, "margin": 0.35}}
	if err := s.Publish(v2); err == nil {
		t.Fatal("Expected persistence error")
	}
	if got := s.Current().Version; got != 1 {
		t.Errorf("Current version = %d, want 1 after failed publish", got)
	}
}
