// Package libsearch queries the LeanSearch web service for Mathlib
// declarations matching a concept name. Transient network failures are
// retried with a bounded attempt count and delay; exhausted retries
// degrade to an empty result so the pipeline never blocks on search.
package libsearch

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

	"proofforge/internal/logging"
)

// Result is one candidate declaration returned by the search service.
type Result struct {
	// FullName is the canonical declaration name, e.g. "Subgroup.index".
	FullName string
	// Description is the informal description or docstring, if any.
	Description string
}

// Searcher is the reference lookup capability consumed by the grounding
// probe.
type Searcher interface {
	Search(ctx context.Context, conceptName string) ([]Result, error)
}

// Config holds search client settings.
type Config struct {
	BaseURL    string
	NumResults int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns sensible defaults for the public LeanSearch API.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://leansearch.net/search",
		NumResults: 8,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

// Client implements Searcher against the LeanSearch HTTP API.
type Client struct {
	baseURL    string
	numResults int
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
}

// NewClient creates a search client from config, filling zero fields with
// defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.NumResults <= 0 {
		cfg.NumResults = def.NumResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		numResults: cfg.NumResults,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type searchRequest struct {
	Query      []string `json:"query"`
	NumResults string   `json:"num_results"`
}

// Search posts the concept name to the search service. It retries up to
// MaxRetries times on transport or server errors, sleeping RetryDelay
// between attempts, and returns an empty slice once retries are exhausted.
func (c *Client) Search(ctx context.Context, conceptName string) ([]Result, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "libsearch.Search")
	defer timer.Stop()

	payload, err := json.Marshal(searchRequest{
		Query:      []string{conceptName},
		NumResults: fmt.Sprintf("%d", c.numResults),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		body, err := c.post(ctx, payload)
		if err != nil {
			lastErr = err
			logging.APIWarn("search %q attempt %d/%d failed: %v", conceptName, attempt+1, c.maxRetries+1, err)
			continue
		}

		results := ParseResults(body)
		logging.APIDebug("search %q returned %d candidates", conceptName, len(results))
		return results, nil
	}

	// Degrade to empty rather than failing the pipeline.
	logging.APIWarn("search %q gave up after %d attempts: %v", conceptName, c.maxRetries+1, lastErr)
	return nil, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ParseResults extracts candidates from the raw response. It first tries
// the JSON shape returned by the web API, then falls back to the
// human-readable text format emitted by the local search script. Anything
// unparseable yields an empty slice, never an error.
func ParseResults(raw string) []Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		if results, ok := parseJSONResults(trimmed); ok {
			return results
		}
	}
	return parseTextResults(trimmed)
}

// jsonHit mirrors one entry of the web API response. The API wraps each
// hit in a "result" object and may return names either as a string or as
// a list of path segments.
type jsonHit struct {
	Result *jsonHitBody `json:"result"`
	jsonHitBody
}

type jsonHitBody struct {
	Name                json.RawMessage `json:"name"`
	InformalDescription string          `json:"informal_description"`
	Docstring           string          `json:"docstring"`
}

func parseJSONResults(raw string) ([]Result, bool) {
	// The API returns a list of per-query hit lists; flatten the first.
	var nested [][]jsonHit
	var hits []jsonHit
	if err := json.Unmarshal([]byte(raw), &nested); err == nil && len(nested) > 0 {
		hits = nested[0]
	} else if err := json.Unmarshal([]byte(raw), &hits); err != nil {
		return nil, false
	}

	var results []Result
	for _, hit := range hits {
		body := hit.jsonHitBody
		if hit.Result != nil {
			body = *hit.Result
		}

		name := decodeName(body.Name)
		if name == "" {
			continue
		}

		desc := body.InformalDescription
		if desc == "" || strings.Contains(desc, "[TRANSLATION_FAILED]") {
			if body.Docstring != "" {
				desc = "(Docstring): " + truncate(body.Docstring, 150)
			} else {
				desc = ""
			}
		}

		results = append(results, Result{FullName: name, Description: desc})
	}
	return results, true
}

func decodeName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, ".")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

var (
	textChunkRE = regexp.MustCompile(`\n\d+:\n`)
	textDeclRE  = regexp.MustCompile(`(?:definition|theorem|def|lemma|structure|inductive|class|instance)\s+([^\s({]+)`)
)

// parseTextResults handles the local search script's human-readable output:
// numbered blocks each containing a declaration header and a distance line.
func parseTextResults(raw string) []Result {
	var results []Result
	for _, chunk := range textChunkRE.Split("\n"+raw, -1) {
		if !strings.Contains(chunk, "Distance:") {
			continue
		}
		m := textDeclRE.FindStringSubmatch(chunk)
		if m == nil {
			continue
		}

		desc := ""
		if _, after, found := strings.Cut(chunk, "Elaborated type:"); found {
			lines := strings.Split(strings.TrimSpace(after), "\n")
			if len(lines) > 1 {
				desc = strings.TrimSpace(strings.Join(lines[1:], "\n"))
			}
		}

		results = append(results, Result{FullName: strings.TrimSpace(m[1]), Description: desc})
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
