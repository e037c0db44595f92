// Package news fetches a short headline digest for the oracle prompt.
// News is flavor, not a gate: a failed fetch degrades the digest to empty
// and the cycle continues.
package news

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
)

const defaultBaseURL = "https://api.tavily.com"

// TavilyClient queries the Tavily search API for recent FX headlines.
type TavilyClient struct {
	cfg        config.NewsConfig
	baseURL    string
	httpClient *http.Client
	logger     core.ILogger
}

// NewTavilyClient creates a news client from config.
func NewTavilyClient(cfg config.NewsConfig, logger core.ILogger) *TavilyClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &TavilyClient{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger:     logger.WithField("component", "news"),
	}
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	Topic      string `json:"topic"`
	Days       int    `json:"days"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// FetchDigest returns a newline-joined headline digest for the pair.
func (c *TavilyClient) FetchDigest(ctx context.Context, pair string) (string, error) {
	query := fmt.Sprintf("%s exchange rate central bank policy", strings.ReplaceAll(pair, "_", "/"))

	body, err := json.Marshal(searchRequest{
		APIKey:     c.cfg.APIKey.Value(),
		Query:      query,
		Topic:      "news",
		Days:       3,
		MaxResults: c.cfg.MaxResults,
	})
	if err != nil {
		return "", fmt.Errorf("marshal news request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create news request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read news response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("news status %d", resp.StatusCode)
	}

	var search searchResponse
	if err := json.Unmarshal(respBody, &search); err != nil {
		return "", fmt.Errorf("decode news response: %w", err)
	}

	lines := make([]string, 0, len(search.Results))
	for _, r := range search.Results {
		lines = append(lines, "- "+r.Title)
	}
	c.logger.Debug("Fetched news digest", "headlines", len(lines))
	return strings.Join(lines, "\n"), nil
}

// StaticClient returns a fixed digest. Used for dry runs and tests.
type StaticClient struct {
	Digest string
	Err    error
}

func (s *StaticClient) FetchDigest(ctx context.Context, pair string) (string, error) {
	return s.Digest, s.Err
}
