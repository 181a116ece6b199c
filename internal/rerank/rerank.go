// Package rerank provides the optional cross-encoder rescoring stage.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Candidate is one (query, document) pair the reranker scores.
type Candidate struct {
	ID    string
	Text  string
	Score float64
}

// Reranker re-scores a candidate list with a pairwise relevance model. The
// returned slice is ordered best-first. Implementations must be safe for
// concurrent use.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}

// Passthrough returns candidates unchanged. Selected when reranking is
// disabled or no model endpoint is configured.
type Passthrough struct{}

func (Passthrough) Rerank(_ context.Context, _ string, candidates []Candidate) ([]Candidate, error) {
	return candidates, nil
}

const (
	defaultTimeout  = 3 * time.Second
	maxResponseSize = 1 << 20
)

// HTTPReranker calls an external cross-encoder scoring service over HTTP.
// The service receives the query and candidate texts and returns one score
// per candidate in input order.
type HTTPReranker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPReranker creates a reranker against the given scoring endpoint.
func NewHTTPReranker(endpoint string, timeout time.Duration) *HTTPReranker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPReranker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	if len(parsed.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d candidates", len(parsed.Scores), len(candidates))
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = parsed.Scores[i]
	}
	sortByScore(out)
	return out, nil
}

func sortByScore(candidates []Candidate) {
	// Insertion sort keeps equal-score candidates in input order, which in
	// turn keeps reranked output deterministic.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Score > candidates[j-1].Score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}
