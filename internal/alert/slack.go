package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"swap_trader/internal/config"
)

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL config.Secret
	httpClient *http.Client
}

// NewSlackChannel creates a Slack webhook channel.
func NewSlackChannel(webhookURL config.Secret) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, alert Alert) error {
	emoji := ":information_source:"
	switch alert.Level {
	case LevelWarn:
		emoji = ":warning:"
	case LevelCritical:
		emoji = ":rotating_light:"
	}

	payload := map[string]string{
		"text": fmt.Sprintf("%s *%s*\n%s", emoji, alert.Title, alert.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL.Value(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
