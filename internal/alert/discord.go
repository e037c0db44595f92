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

// Discord embed colors per level.
const (
	colorInfo     = 0x2ecc71
	colorWarn     = 0xf1c40f
	colorCritical = 0xe74c3c
)

// DiscordChannel posts alerts to a Discord webhook as embeds.
type DiscordChannel struct {
	webhookURL config.Secret
	httpClient *http.Client
}

// NewDiscordChannel creates a Discord webhook channel.
func NewDiscordChannel(webhookURL config.Secret) *DiscordChannel {
	return &DiscordChannel{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

func (d *DiscordChannel) Send(ctx context.Context, alert Alert) error {
	color := colorInfo
	switch alert.Level {
	case LevelWarn:
		color = colorWarn
	case LevelCritical:
		color = colorCritical
	}

	payload := map[string]interface{}{
		"embeds": []discordEmbed{{
			Title:       alert.Title,
			Description: alert.Message,
			Color:       color,
			Timestamp:   alert.Timestamp.Format(time.RFC3339),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL.Value(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Discord replies 204 on success.
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord returned status %d", resp.StatusCode)
	}
	return nil
}
