// Package creative generates marketing assets for accepted candidates.
// The production generator runs a two-stage Gemini flow: refine the
// product into an image prompt and an animation prompt, render a base
// image, then animate it into a short video.
package creative

import (
	"context"
)

// Request describes the product a campaign needs assets for.
type Request struct {
	CampaignID string
	Title      string
	Category   string
}

// Asset points at the generated files. Refs are paths or URIs the
// campaign record stores verbatim.
type Asset struct {
	ImageRef string
	VideoRef string
}

// Generator produces a campaign's creative assets. A single call is
// one attempt: the campaign executor owns retries, backoff, and the
// per-attempt deadline carried by ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (Asset, error)
}
