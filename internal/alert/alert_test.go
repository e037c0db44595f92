package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})          {}
func (m *mockLogger) Info(msg string, fields ...interface{})           {}
func (m *mockLogger) Warn(msg string, fields ...interface{})           {}
func (m *mockLogger) Error(msg string, fields ...interface{})          {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})          {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

type recordingChannel struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingChannel) Name() string { return "recorder" }

func (r *recordingChannel) Send(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

func (r *recordingChannel) received() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func TestManager_DeliversToAllChannels(t *testing.T) {
	ch1 := &recordingChannel{}
	ch2 := &recordingChannel{}
	m := NewManager([]Channel{ch1, ch2}, &mockLogger{})

	m.Notify(LevelCritical, "Trading halted", "ambiguous outcome")
	m.Close()

	require.Len(t, ch1.received(), 1)
	require.Len(t, ch2.received(), 1)
	assert.Equal(t, "Trading halted", ch1.received()[0].Title)
	assert.Equal(t, LevelCritical, ch1.received()[0].Level)
}

func TestManager_ChannelFailureDoesNotPanic(t *testing.T) {
	ch := &recordingChannel{err: errors.New("webhook down")}
	m := NewManager([]Channel{ch}, &mockLogger{})

	m.Notify(LevelInfo, "Position opened", "USD_JPY BUY 10000")
	m.Close()

	assert.Len(t, ch.received(), 1)
}

func TestSlackChannel_Send(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	ch := NewSlackChannel(config.Secret(server.URL))
	err := ch.Send(context.Background(), Alert{
		Level:   LevelWarn,
		Title:   "Swap data stale",
		Message: "last update 9 days ago",
	})
	require.NoError(t, err)

	assert.Contains(t, got["text"], "Swap data stale")
	assert.Contains(t, got["text"], ":warning:")
}

func TestDiscordChannel_Send(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ch := NewDiscordChannel(config.Secret(server.URL))
	err := ch.Send(context.Background(), Alert{
		Level:     LevelCritical,
		Title:     "Trading halted",
		Message:   "manual reconciliation required",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	embeds := got["embeds"].([]interface{})
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]interface{})
	assert.Equal(t, "Trading halted", embed["title"])
	assert.Equal(t, float64(colorCritical), embed["color"])
}

func TestDiscordChannel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer server.Close()

	ch := NewDiscordChannel(config.Secret(server.URL))
	err := ch.Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}
