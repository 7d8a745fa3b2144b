// Package store implements the durable persistence collaborator using
// SQLite. It holds the six record kinds of the pipeline: candidates,
// scores, decisions, campaigns, metric events, and strategy versions.
//
// The store guarantees read-your-writes within a single process: every
// write goes through the single connection before the call returns.
// Metric events are append-only with a composite primary key acting as
// the dedupe key, so concurrent replays of the same event are no-ops.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dropforge/internal/logging"
	"dropforge/internal/types"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	logging.Store("Opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Schema initialized")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candidates (
		id TEXT PRIMARY KEY,
		source_ref TEXT NOT NULL,
		title TEXT NOT NULL,
		category TEXT,
		estimated_margin REAL,
		estimated_demand REAL,
		discovered_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_candidates_source_ref ON candidates(source_ref);

	CREATE TABLE IF NOT EXISTS scored_candidates (
		candidate_id TEXT NOT NULL,
		strategy_version INTEGER NOT NULL,
		score REAL NOT NULL,
		scored_at TEXT NOT NULL,
		PRIMARY KEY (candidate_id, strategy_version)
	);

	CREATE TABLE IF NOT EXISTS decisions (
		candidate_id TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		decided_by TEXT NOT NULL,
		decided_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		candidate_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		image_ref TEXT,
		video_ref TEXT,
		cost REAL NOT NULL DEFAULT 0,
		revenue REAL NOT NULL DEFAULT 0,
		failure_reason TEXT,
		launched_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);

	CREATE TABLE IF NOT EXISTS metric_events (
		campaign_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		value REAL NOT NULL,
		observed_at INTEGER NOT NULL,
		PRIMARY KEY (campaign_id, kind, observed_at)
	);

	CREATE TABLE IF NOT EXISTS strategy_versions (
		version INTEGER PRIMARY KEY,
		weights TEXT NOT NULL,
		created_at TEXT NOT NULL,
		based_on TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// =============================================================================
// CANDIDATES
// =============================================================================

// SaveCandidate persists a newly discovered candidate.
func (s *Store) SaveCandidate(c types.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var margin, demand sql.NullFloat64
	if c.EstimatedMargin != nil {
		margin = sql.NullFloat64{Float64: *c.EstimatedMargin, Valid: true}
	}
	if c.EstimatedDemand != nil {
		demand = sql.NullFloat64{Float64: *c.EstimatedDemand, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO candidates (id, source_ref, title, category, estimated_margin, estimated_demand, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourceRef, c.Title, c.Category, margin, demand, formatTime(c.DiscoveredAt))
	if err != nil {
		return fmt.Errorf("failed to save candidate %s: %w", c.ID, err)
	}
	return nil
}

// GetCandidate returns a candidate by id.
func (s *Store) GetCandidate(id string) (types.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, source_ref, title, category, estimated_margin, estimated_demand, discovered_at
		FROM candidates WHERE id = ?`, id)
	return scanCandidate(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCandidate(row rowScanner) (types.Candidate, error) {
	var c types.Candidate
	var margin, demand sql.NullFloat64
	var discoveredAt string
	err := row.Scan(&c.ID, &c.SourceRef, &c.Title, &c.Category, &margin, &demand, &discoveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, types.NotFoundf("candidate")
	}
	if err != nil {
		return c, fmt.Errorf("failed to scan candidate: %w", err)
	}
	if margin.Valid {
		c.EstimatedMargin = types.Float(margin.Float64)
	}
	if demand.Valid {
		c.EstimatedDemand = types.Float(demand.Float64)
	}
	c.DiscoveredAt = parseTime(discoveredAt)
	return c, nil
}

// HasOpenCandidateForSourceRef reports whether a candidate with this
// sourceRef exists whose lifecycle is still open (no decision yet).
// Dedup only considers open candidates: a terminally decided candidate
// does not block the same product from resurfacing in a later fetch.
func (s *Store) HasOpenCandidateForSourceRef(ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM candidates c
		WHERE c.source_ref = ?
		  AND NOT EXISTS (SELECT 1 FROM decisions d WHERE d.candidate_id = c.id)`,
		ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check source ref %s: %w", ref, err)
	}
	return n > 0, nil
}

// ListUndecidedCandidates returns candidates that have no decision yet,
// oldest first.
func (s *Store) ListUndecidedCandidates() ([]types.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT c.id, c.source_ref, c.title, c.category, c.estimated_margin, c.estimated_demand, c.discovered_at
		FROM candidates c
		WHERE NOT EXISTS (SELECT 1 FROM decisions d WHERE d.candidate_id = c.id)
		ORDER BY c.discovered_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list undecided candidates: %w", err)
	}
	defer rows.Close()

	var out []types.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// SCORES
// =============================================================================

// SaveScore persists a scored candidate. Rescoring the same candidate
// under the same strategy version replaces the row (the score is a
// pure function of both, so the value is identical by construction).
func (s *Store) SaveScore(sc types.ScoredCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO scored_candidates (candidate_id, strategy_version, score, scored_at)
		VALUES (?, ?, ?, ?)`,
		sc.ID, sc.StrategyVersion, sc.Score, formatTime(sc.ScoredAt))
	if err != nil {
		return fmt.Errorf("failed to save score for %s: %w", sc.ID, err)
	}
	return nil
}

// LatestScore returns the candidate's score under the highest strategy
// version it was scored with.
func (s *Store) LatestScore(candidateID string) (types.ScoredCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT c.id, c.source_ref, c.title, c.category, c.estimated_margin, c.estimated_demand, c.discovered_at,
		       sc.score, sc.strategy_version, sc.scored_at
		FROM scored_candidates sc
		JOIN candidates c ON c.id = sc.candidate_id
		WHERE sc.candidate_id = ?
		ORDER BY sc.strategy_version DESC
		LIMIT 1`, candidateID)
	return scanScored(row)
}

func scanScored(row rowScanner) (types.ScoredCandidate, error) {
	var sc types.ScoredCandidate
	var margin, demand sql.NullFloat64
	var discoveredAt, scoredAt string
	err := row.Scan(&sc.ID, &sc.SourceRef, &sc.Title, &sc.Category, &margin, &demand, &discoveredAt,
		&sc.Score, &sc.StrategyVersion, &scoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, types.NotFoundf("scored candidate")
	}
	if err != nil {
		return sc, fmt.Errorf("failed to scan scored candidate: %w", err)
	}
	if margin.Valid {
		sc.EstimatedMargin = types.Float(margin.Float64)
	}
	if demand.Valid {
		sc.EstimatedDemand = types.Float(demand.Float64)
	}
	sc.DiscoveredAt = parseTime(discoveredAt)
	sc.ScoredAt = parseTime(scoredAt)
	return sc, nil
}

// ScoreFilter narrows ListScored results.
type ScoreFilter struct {
	Undecided bool   // Only candidates without a decision
	Category  string // Exact category match when non-empty
	Limit     int    // 0 = unlimited
}

// ListScored returns the latest score per candidate, best score first.
func (s *Store) ListScored(f ScoreFilter) ([]types.ScoredCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(`
		SELECT c.id, c.source_ref, c.title, c.category, c.estimated_margin, c.estimated_demand, c.discovered_at,
		       sc.score, sc.strategy_version, sc.scored_at
		FROM scored_candidates sc
		JOIN candidates c ON c.id = sc.candidate_id
		WHERE sc.strategy_version = (
			SELECT MAX(strategy_version) FROM scored_candidates WHERE candidate_id = sc.candidate_id
		)`)
	var args []interface{}
	if f.Undecided {
		sb.WriteString(` AND NOT EXISTS (SELECT 1 FROM decisions d WHERE d.candidate_id = c.id)`)
	}
	if f.Category != "" {
		sb.WriteString(` AND c.category = ?`)
		args = append(args, f.Category)
	}
	sb.WriteString(` ORDER BY sc.score DESC`)
	if f.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scored candidates: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredCandidate
	for rows.Next() {
		sc, err := scanScored(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// =============================================================================
// DECISIONS
// =============================================================================

// SaveDecision persists a terminal decision. The primary key on
// candidate_id backs the write-once rule at the storage layer; callers
// should check for an existing decision first for a richer error.
func (s *Store) SaveDecision(d types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO decisions (candidate_id, outcome, decided_by, decided_at)
		VALUES (?, ?, ?, ?)`,
		d.CandidateID, string(d.Outcome), d.DecidedBy, formatTime(d.DecidedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return types.InvalidStatef("candidate %s already decided", d.CandidateID)
		}
		return fmt.Errorf("failed to save decision for %s: %w", d.CandidateID, err)
	}
	return nil
}

// GetDecision returns the terminal decision for a candidate.
func (s *Store) GetDecision(candidateID string) (types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d types.Decision
	var outcome, decidedAt string
	err := s.db.QueryRow(`
		SELECT candidate_id, outcome, decided_by, decided_at
		FROM decisions WHERE candidate_id = ?`, candidateID).
		Scan(&d.CandidateID, &outcome, &d.DecidedBy, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, types.NotFoundf("decision for candidate %s", candidateID)
	}
	if err != nil {
		return d, fmt.Errorf("failed to get decision: %w", err)
	}
	d.Outcome = types.DecisionOutcome(outcome)
	d.DecidedAt = parseTime(decidedAt)
	return d, nil
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

// CreateCampaign persists a newly launched campaign.
func (s *Store) CreateCampaign(c types.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO campaigns (id, candidate_id, status, image_ref, video_ref, cost, revenue, failure_reason, launched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CandidateID, string(c.Status), c.Creative.ImageRef, c.Creative.VideoRef,
		c.Cost, c.Revenue, c.FailureReason, formatTime(c.LaunchedAt), formatTime(c.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return types.InvalidStatef("campaign already exists for candidate %s", c.CandidateID)
		}
		return fmt.Errorf("failed to create campaign %s: %w", c.ID, err)
	}
	return nil
}

// UpdateCampaign rewrites a campaign's mutable fields.
func (s *Store) UpdateCampaign(c types.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE campaigns
		SET status = ?, image_ref = ?, video_ref = ?, cost = ?, revenue = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Status), c.Creative.ImageRef, c.Creative.VideoRef,
		c.Cost, c.Revenue, c.FailureReason, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update campaign %s: %w", c.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.NotFoundf("campaign %s", c.ID)
	}
	return nil
}

// RefreshCampaignAggregates recomputes the campaign's cost/revenue
// caches from the event log in a single statement. Only the caches and
// updated_at change: a lifecycle transition landing between a caller's
// read and this write is never clobbered, and the recompute is atomic
// against concurrent ingestion.
func (s *Store) RefreshCampaignAggregates(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE campaigns SET
			cost = (SELECT COALESCE(SUM(value), 0) FROM metric_events
			        WHERE campaign_id = campaigns.id AND kind = ?),
			revenue = (SELECT COALESCE(SUM(value), 0) FROM metric_events
			           WHERE campaign_id = campaigns.id AND kind = ?),
			updated_at = ?
		WHERE id = ?`,
		string(types.MetricCostAdjustment), string(types.MetricRevenueAdjustment),
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to refresh aggregates for campaign %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.NotFoundf("campaign %s", id)
	}
	return nil
}

// GetCampaign returns a campaign by id.
func (s *Store) GetCampaign(id string) (types.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, candidate_id, status, image_ref, video_ref, cost, revenue, failure_reason, launched_at, updated_at
		FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

// GetCampaignByCandidate returns the campaign launched for a candidate.
func (s *Store) GetCampaignByCandidate(candidateID string) (types.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, candidate_id, status, image_ref, video_ref, cost, revenue, failure_reason, launched_at, updated_at
		FROM campaigns WHERE candidate_id = ?`, candidateID)
	return scanCampaign(row)
}

func scanCampaign(row rowScanner) (types.Campaign, error) {
	var c types.Campaign
	var status string
	var imageRef, videoRef, failureReason sql.NullString
	var launchedAt, updatedAt string
	err := row.Scan(&c.ID, &c.CandidateID, &status, &imageRef, &videoRef,
		&c.Cost, &c.Revenue, &failureReason, &launchedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, types.NotFoundf("campaign")
	}
	if err != nil {
		return c, fmt.Errorf("failed to scan campaign: %w", err)
	}
	c.Status = types.CampaignStatus(status)
	c.Creative.ImageRef = imageRef.String
	c.Creative.VideoRef = videoRef.String
	c.FailureReason = failureReason.String
	c.LaunchedAt = parseTime(launchedAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// ListCampaignsByStatus returns campaigns in any of the given statuses,
// most recently launched first. Empty statuses lists all campaigns.
func (s *Store) ListCampaignsByStatus(statuses ...types.CampaignStatus) ([]types.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, candidate_id, status, image_ref, video_ref, cost, revenue, failure_reason, launched_at, updated_at
		FROM campaigns`
	var args []interface{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY launched_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var out []types.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// METRIC EVENTS
// =============================================================================

// InsertMetricEvent appends a metric event. Returns false when an event
// with the same dedupe key (campaign, kind, observedAt) already exists;
// the event log is never modified in that case.
func (s *Store) InsertMetricEvent(e types.MetricEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO metric_events (campaign_id, kind, value, observed_at)
		VALUES (?, ?, ?, ?)`,
		e.CampaignID, string(e.Kind), e.Value, e.ObservedAt.UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to insert metric event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListMetricEvents returns a campaign's events in observation order.
func (s *Store) ListMetricEvents(campaignID string) ([]types.MetricEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT campaign_id, kind, value, observed_at
		FROM metric_events WHERE campaign_id = ?
		ORDER BY observed_at ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric events: %w", err)
	}
	defer rows.Close()

	var out []types.MetricEvent
	for rows.Next() {
		var e types.MetricEvent
		var kind string
		var observedAt int64
		if err := rows.Scan(&e.CampaignID, &kind, &e.Value, &observedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric event: %w", err)
		}
		e.Kind = types.MetricKind(kind)
		e.ObservedAt = time.Unix(0, observedAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// MetricTotals holds aggregates replayed from the event log.
type MetricTotals struct {
	Views       int64   `json:"views"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Cost        float64 `json:"cost"`
	Revenue     float64 `json:"revenue"`
}

// SumMetrics replays a campaign's event log into aggregates. Cumulative
// kinds sum counts; adjustments sum signed values into cost/revenue.
func (s *Store) SumMetrics(campaignID string) (MetricTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT kind, SUM(value) FROM metric_events
		WHERE campaign_id = ? GROUP BY kind`, campaignID)
	if err != nil {
		return MetricTotals{}, fmt.Errorf("failed to sum metrics: %w", err)
	}
	defer rows.Close()

	var t MetricTotals
	for rows.Next() {
		var kind string
		var sum float64
		if err := rows.Scan(&kind, &sum); err != nil {
			return MetricTotals{}, fmt.Errorf("failed to scan metric sum: %w", err)
		}
		switch types.MetricKind(kind) {
		case types.MetricView:
			t.Views = int64(sum)
		case types.MetricClick:
			t.Clicks = int64(sum)
		case types.MetricConversion:
			t.Conversions = int64(sum)
		case types.MetricCostAdjustment:
			t.Cost = sum
		case types.MetricRevenueAdjustment:
			t.Revenue = sum
		}
	}
	return t, rows.Err()
}

// =============================================================================
// STRATEGY VERSIONS
// =============================================================================

// SaveStrategyVersion persists a strategy version. Versions are
// immutable; inserting an existing version number is an error.
func (s *Store) SaveStrategyVersion(v types.StrategyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	weights, err := json.Marshal(v.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	basedOn, err := json.Marshal(v.BasedOnCampaigns)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign refs: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO strategy_versions (version, weights, created_at, based_on)
		VALUES (?, ?, ?, ?)`,
		v.Version, string(weights), formatTime(v.CreatedAt), string(basedOn))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return types.InvalidStatef("strategy version %d already exists", v.Version)
		}
		return fmt.Errorf("failed to save strategy version %d: %w", v.Version, err)
	}
	return nil
}

// LatestStrategyVersion returns the highest persisted version, or
// ok=false when the store holds none.
func (s *Store) LatestStrategyVersion() (types.StrategyVersion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT version, weights, created_at, based_on
		FROM strategy_versions ORDER BY version DESC LIMIT 1`)
	v, err := scanStrategy(row)
	if errors.Is(err, types.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// GetStrategyVersion returns a specific version.
func (s *Store) GetStrategyVersion(version int) (types.StrategyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT version, weights, created_at, based_on
		FROM strategy_versions WHERE version = ?`, version)
	return scanStrategy(row)
}

// ListStrategyVersions returns the full history, oldest first.
func (s *Store) ListStrategyVersions() ([]types.StrategyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT version, weights, created_at, based_on
		FROM strategy_versions ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategy versions: %w", err)
	}
	defer rows.Close()

	var out []types.StrategyVersion
	for rows.Next() {
		v, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanStrategy(row rowScanner) (types.StrategyVersion, error) {
	var v types.StrategyVersion
	var weights, createdAt string
	var basedOn sql.NullString
	err := row.Scan(&v.Version, &weights, &createdAt, &basedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return v, types.NotFoundf("strategy version")
	}
	if err != nil {
		return v, fmt.Errorf("failed to scan strategy version: %w", err)
	}
	if err := json.Unmarshal([]byte(weights), &v.Weights); err != nil {
		return v, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	if basedOn.Valid && basedOn.String != "" && basedOn.String != "null" {
		if err := json.Unmarshal([]byte(basedOn.String), &v.BasedOnCampaigns); err != nil {
			return v, fmt.Errorf("failed to unmarshal campaign refs: %w", err)
		}
	}
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}
