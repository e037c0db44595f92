package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), &mockLogger{})
	require.NoError(t, err)
	defer s.Close()

	state, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSQLiteStore_SaveReplacesSingleRow(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), &mockLogger{})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &core.PersistedState{State: core.StateIdle}))
	require.NoError(t, s.Save(ctx, &core.PersistedState{State: core.StateSubmitting}))

	state, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, core.StateSubmitting, state.State)
}

func TestSQLiteStore_RoundTripsOpenPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, &mockLogger{})
	require.NoError(t, err)

	in := &core.PersistedState{
		State: core.StateConfirmedOpen,
		OpenPosition: &core.Position{
			ID:         "pos-42",
			Pair:       "USD_JPY",
			Side:       core.SideBuy,
			Size:       decimal.NewFromInt(10000),
			EntryPrice: decimal.RequireFromString("147.215"),
		},
		LastIntent: &core.OrderIntent{
			IdempotencyKey: "O-abc",
			Action:         core.ActionOpen,
			Side:           core.SideBuy,
		},
	}
	require.NoError(t, s.Save(ctx, in))
	require.NoError(t, s.Close())

	// Reopen to prove durability across process restart.
	s2, err := NewSQLiteStore(path, &mockLogger{})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.StateConfirmedOpen, got.State)
	require.NotNil(t, got.OpenPosition)
	assert.Equal(t, "pos-42", got.OpenPosition.ID)
	assert.True(t, got.OpenPosition.EntryPrice.Equal(decimal.RequireFromString("147.215")))
	require.NotNil(t, got.LastIntent)
	assert.Equal(t, "O-abc", got.LastIntent.IdempotencyKey)
}

func TestSQLiteStore_PersistsHaltReason(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), &mockLogger{})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &core.PersistedState{
		State:      core.StateHalted,
		HaltReason: "ambiguous outcome on open",
	}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StateHalted, got.State)
	assert.Equal(t, "ambiguous outcome on open", got.HaltReason)
}
