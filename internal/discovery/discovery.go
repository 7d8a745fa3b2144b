// Package discovery surfaces product candidates from trend sources.
// Sources emit unscored candidates with whatever signals they can
// estimate; anything they cannot estimate stays absent rather than
// being guessed at zero.
package discovery

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"dropforge/internal/types"
)

// Source fetches trending product candidates.
type Source interface {
	// FetchCandidates returns up to limit fresh candidates. Candidates
	// carry new IDs; dedup against existing open candidates happens in
	// the pipeline, keyed on SourceRef.
	FetchCandidates(ctx context.Context, limit int) ([]types.Candidate, error)

	// Name identifies the source in logs and source refs.
	Name() string
}

// newCandidate builds a candidate shell for a discovered product.
// Demand is estimated from rank position: the hotter the trend result,
// the earlier it appears. Margin is unknown at discovery time and left
// absent for the scoring midpoint to cover.
func newCandidate(source, title, category string, rank, limit int) types.Candidate {
	demand := 1.0 - float64(rank)/float64(limit)
	if demand < 0 {
		demand = 0
	}
	return types.Candidate{
		ID:              "cand_" + uuid.NewString(),
		SourceRef:       source + ":" + slugify(title),
		Title:           title,
		Category:        category,
		EstimatedDemand: types.Float(demand),
		DiscoveredAt:    time.Now().UTC(),
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slugify folds a product title into a stable source ref fragment, so
// the same product re-surfacing across fetches dedupes.
func slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
