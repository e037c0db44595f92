// Package oracle asks an LLM for a directional proposal. The answer is
// advisory only; callers validate it and degrade to hold on any failure.
package oracle

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
	"swap_trader/pkg/telemetry"
)

const defaultBaseURL = "https://api.openai.com/v1"

const systemPrompt = `You are an FX carry-trade analyst. Given a market snapshot,
account state, and a news digest, respond with a single JSON object:
{"side": "BUY"|"SELL"|"HOLD", "confidence": 0.0-1.0, "rationale": "..."}
Recommend a direction only when swap income clearly favors it and the news
digest shows no elevated event risk. When in doubt, respond HOLD.`

// Client calls the OpenAI chat completions API with a bounded timeout.
type Client struct {
	cfg        config.OracleConfig
	httpClient *http.Client
	baseURL    string
	logger     core.ILogger
}

// NewClient creates an oracle client from config.
func NewClient(cfg config.OracleConfig, logger core.ILogger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger:     logger.WithField("component", "oracle"),
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type proposalPayload struct {
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Propose sends one request and parses the structured answer. Any failure,
// timeout, or malformed reply is returned as an error; the caller holds.
func (c *Client) Propose(ctx context.Context, req core.OracleRequest) (*core.Proposal, error) {
	userContent, err := buildUserContent(req)
	if err != nil {
		return nil, err
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey.Value())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		telemetry.GetGlobalMetrics().RecordOracleCall("error")
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.GetGlobalMetrics().RecordOracleCall("error")
		return nil, fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.GetGlobalMetrics().RecordOracleCall("error")
		return nil, fmt.Errorf("oracle status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		telemetry.GetGlobalMetrics().RecordOracleCall("error")
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	if chat.Error != nil {
		telemetry.GetGlobalMetrics().RecordOracleCall("error")
		return nil, fmt.Errorf("oracle error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		telemetry.GetGlobalMetrics().RecordOracleCall("error")
		return nil, fmt.Errorf("oracle returned no choices")
	}

	proposal, err := parseProposal(chat.Choices[0].Message.Content)
	if err != nil {
		telemetry.GetGlobalMetrics().RecordOracleCall("malformed")
		return nil, err
	}
	telemetry.GetGlobalMetrics().RecordOracleCall("ok")

	proposal.GeneratedAt = time.Now().UTC()
	c.logger.Info("Oracle proposal",
		"side", string(proposal.Side),
		"confidence", proposal.Confidence)
	return proposal, nil
}

func buildUserContent(req core.OracleRequest) (string, error) {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal oracle context: %w", err)
	}
	return string(data), nil
}

// parseProposal decodes the model's JSON answer, tolerating a markdown
// code fence around it.
func parseProposal(content string) (*core.Proposal, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var p proposalPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("parse proposal %q: %w", truncate(content, 120), err)
	}

	return &core.Proposal{
		Side:       core.Side(strings.ToUpper(strings.TrimSpace(p.Side))),
		Confidence: p.Confidence,
		Rationale:  p.Rationale,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
