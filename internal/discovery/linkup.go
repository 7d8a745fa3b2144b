package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"dropforge/internal/logging"
	"dropforge/internal/types"
)

// =============================================================================
// LINKUP TREND SOURCE
// =============================================================================

const defaultLinkupBaseURL = "https://api.linkup.so/v1"

// LinkupSource asks the Linkup search API for trending dropshipping
// products and extracts product names from the sourced answer.
type LinkupSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLinkupSource creates a Linkup-backed source.
func NewLinkupSource(baseURL, apiKey string, timeout time.Duration) (*LinkupSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("linkup API key is required (set LINKUP_API_KEY)")
	}
	if baseURL == "" {
		baseURL = defaultLinkupBaseURL
	}
	return &LinkupSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the source.
func (s *LinkupSource) Name() string { return "linkup" }

type linkupRequest struct {
	Query      string `json:"q"`
	Depth      string `json:"depth"`
	OutputType string `json:"outputType"`
}

type linkupResponse struct {
	Answer string `json:"answer"`
}

// FetchCandidates queries Linkup for trending products and parses the
// numbered list out of the answer.
func (s *LinkupSource) FetchCandidates(ctx context.Context, limit int) ([]types.Candidate, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "linkup.FetchCandidates")
	defer timer.Stop()

	query := fmt.Sprintf(
		"What are the top %d trending dropshipping products right now? Answer with a numbered list of product names only.",
		limit)
	body, err := json.Marshal(linkupRequest{Query: query, Depth: "standard", OutputType: "sourcedAnswer"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, types.Upstreamf(err, "linkup search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.Upstreamf(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			"linkup search rejected")
	}

	var parsed linkupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.Upstreamf(err, "linkup response undecodable")
	}

	titles := ExtractProductTitles(parsed.Answer, limit)
	if len(titles) == 0 {
		return nil, types.Upstreamf(fmt.Errorf("answer contained no numbered products"), "linkup answer unusable")
	}
	logging.Discovery("Linkup surfaced %d products", len(titles))

	candidates := make([]types.Candidate, 0, len(titles))
	for i, title := range titles {
		candidates = append(candidates, newCandidate(s.Name(), title, "", i, limit))
	}
	return candidates, nil
}

// numberedItem matches "1. Product" and "2) Product" list lines.
var numberedItem = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)

// ExtractProductTitles pulls product names from a numbered-list answer.
// Markdown emphasis is stripped and trailing descriptions after a dash
// or colon are dropped.
func ExtractProductTitles(answer string, limit int) []string {
	var titles []string
	for _, line := range strings.Split(answer, "\n") {
		m := numberedItem.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := m[1]
		for _, sep := range []string{" - ", " — ", ": "} {
			if idx := strings.Index(title, sep); idx > 0 {
				title = title[:idx]
			}
		}
		title = strings.Trim(strings.TrimSpace(title), "*_`")
		if title == "" {
			continue
		}
		titles = append(titles, title)
		if len(titles) == limit {
			break
		}
	}
	return titles
}
