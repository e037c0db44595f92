package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

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

func validProposal() *core.Proposal {
	return &core.Proposal{
		Side:        core.SideBuy,
		Confidence:  0.8,
		Rationale:   "positive long swap",
		GeneratedAt: time.Now(),
		SnapshotID:  "snap-1",
	}
}

func TestGate_AcceptsValidProposal(t *testing.T) {
	g := NewGate(&mockLogger{})

	out := g.Sanitize(&ProposalResult{Proposal: validProposal()}, "snap-1")

	assert.Equal(t, core.SideBuy, out.Side)
	assert.Equal(t, 0.8, out.Confidence)
}

func TestGate_NilResultDegradesToHold(t *testing.T) {
	g := NewGate(&mockLogger{})

	out := g.Sanitize(nil, "snap-1")

	assert.Equal(t, core.SideHold, out.Side)
	assert.Contains(t, out.Rationale, "oracle unavailable")
}

func TestGate_OracleErrorDegradesToHold(t *testing.T) {
	g := NewGate(&mockLogger{})

	out := g.Sanitize(&ProposalResult{Err: errors.New("deadline exceeded")}, "snap-1")

	assert.Equal(t, core.SideHold, out.Side)
	assert.Contains(t, out.Rationale, "deadline exceeded")
}

func TestGate_InvalidSideDegradesToHold(t *testing.T) {
	g := NewGate(&mockLogger{})
	p := validProposal()
	p.Side = "LONG" // not a valid wire value

	out := g.Sanitize(&ProposalResult{Proposal: p}, "snap-1")

	assert.Equal(t, core.SideHold, out.Side)
	assert.Contains(t, out.Rationale, "unknown side")
}

func TestGate_ConfidenceOutOfRange(t *testing.T) {
	g := NewGate(&mockLogger{})

	for _, conf := range []float64{-0.1, 1.5} {
		p := validProposal()
		p.Confidence = conf
		out := g.Sanitize(&ProposalResult{Proposal: p}, "snap-1")
		assert.Equal(t, core.SideHold, out.Side)
	}
}

func TestGate_DirectionalWithoutRationale(t *testing.T) {
	g := NewGate(&mockLogger{})
	p := validProposal()
	p.Rationale = ""

	out := g.Sanitize(&ProposalResult{Proposal: p}, "snap-1")

	assert.Equal(t, core.SideHold, out.Side)
}

func TestGate_SnapshotMismatch(t *testing.T) {
	g := NewGate(&mockLogger{})
	p := validProposal()
	p.SnapshotID = "snap-0"

	out := g.Sanitize(&ProposalResult{Proposal: p}, "snap-1")

	assert.Equal(t, core.SideHold, out.Side)
	assert.Contains(t, out.Rationale, "snap-0")
}

func TestGate_StaleProposal(t *testing.T) {
	g := NewGate(&mockLogger{})
	p := validProposal()
	p.GeneratedAt = time.Now().Add(-10 * time.Minute)

	out := g.Sanitize(&ProposalResult{Proposal: p}, "snap-1")

	assert.Equal(t, core.SideHold, out.Side)
}

func TestGate_HoldProposalNeedsNoRationale(t *testing.T) {
	g := NewGate(&mockLogger{})
	p := validProposal()
	p.Side = core.SideHold
	p.Rationale = ""

	out := g.Sanitize(&ProposalResult{Proposal: p}, "snap-1")

	assert.Equal(t, core.SideHold, out.Side)
}
