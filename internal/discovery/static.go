package discovery

import (
	"context"

	"dropforge/internal/types"
)

// =============================================================================
// STATIC FIXTURE SOURCE
// =============================================================================

// StaticProduct is one entry of a fixture catalog.
type StaticProduct struct {
	Title    string
	Category string
	Margin   *float64 // nil when unknown
	Demand   *float64 // nil to use rank-derived demand
}

// StaticSource serves a fixed catalog, for local development and demos
// without a Linkup key. Fetches walk the catalog in order.
type StaticSource struct {
	products []StaticProduct
}

// NewStaticSource creates a fixture source. With an empty catalog it
// serves a small built-in set.
func NewStaticSource(products []StaticProduct) *StaticSource {
	if len(products) == 0 {
		products = []StaticProduct{
			{Title: "LED Dog Collar", Category: "pets", Margin: types.Float(0.5), Demand: types.Float(0.9)},
			{Title: "Posture Corrector", Category: "health", Margin: types.Float(0.7)},
			{Title: "Magnetic Phone Mount", Category: "auto", Margin: types.Float(0.4), Demand: types.Float(0.6)},
			{Title: "Collapsible Water Bottle", Category: "outdoors", Demand: types.Float(0.5)},
			{Title: "Sunset Projection Lamp", Category: "home", Margin: types.Float(0.6), Demand: types.Float(0.8)},
		}
	}
	return &StaticSource{products: products}
}

// Name identifies the source.
func (s *StaticSource) Name() string { return "static" }

// FetchCandidates returns up to limit catalog entries.
func (s *StaticSource) FetchCandidates(ctx context.Context, limit int) ([]types.Candidate, error) {
	if limit > len(s.products) {
		limit = len(s.products)
	}
	out := make([]types.Candidate, 0, limit)
	for i := 0; i < limit; i++ {
		p := s.products[i]
		c := newCandidate(s.Name(), p.Title, p.Category, i, limit)
		c.EstimatedMargin = p.Margin
		if p.Demand != nil {
			c.EstimatedDemand = p.Demand
		}
		out = append(out, c)
	}
	return out, nil
}
