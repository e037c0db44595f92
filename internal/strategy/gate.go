// Package strategy runs the decision cycle: collect market and account
// snapshots, consult the proposal oracle, validate its output, and hand a
// sanitized proposal to the safety interlock.
package strategy

import (
	"fmt"
	"time"

	"swap_trader/internal/core"
	apperrors "swap_trader/pkg/errors"
)

// maxProposalAge bounds how stale a proposal may be relative to the cycle
// that consumes it. Anything older refers to market conditions that no
// longer hold.
const maxProposalAge = 5 * time.Minute

// Gate validates untrusted oracle output. A proposal that fails any check
// is replaced by a Hold; the gate never errors a cycle out.
type Gate struct {
	logger core.ILogger
	now    func() time.Time
}

// NewGate creates a proposal gate.
func NewGate(logger core.ILogger) *Gate {
	return &Gate{
		logger: logger.WithField("component", "gate"),
		now:    time.Now,
	}
}

// Sanitize checks a proposal against the snapshot the cycle is acting on
// and returns a proposal safe to feed the interlock. The returned proposal
// is either the validated input or a degraded Hold with the failure reason
// in the rationale.
func (g *Gate) Sanitize(proposal *ProposalResult, snapshotID string) core.Proposal {
	if proposal == nil || proposal.Err != nil {
		reason := "oracle unavailable"
		if proposal != nil && proposal.Err != nil {
			reason = fmt.Sprintf("oracle failed: %v", proposal.Err)
		}
		g.logger.Warn("Degrading to hold", "reason", reason)
		return g.hold(reason, snapshotID)
	}

	p := proposal.Proposal
	if err := g.validate(p, snapshotID); err != nil {
		g.logger.Warn("Rejected proposal, degrading to hold",
			"side", string(p.Side),
			"confidence", p.Confidence,
			"error", err.Error())
		return g.hold(err.Error(), snapshotID)
	}

	return *p
}

func (g *Gate) validate(p *core.Proposal, snapshotID string) error {
	if p == nil {
		return fmt.Errorf("%w: nil proposal", apperrors.ErrInvalidProposal)
	}
	if !p.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", apperrors.ErrInvalidProposal, string(p.Side))
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", apperrors.ErrInvalidProposal, p.Confidence)
	}
	if p.Side != core.SideHold && p.Rationale == "" {
		return fmt.Errorf("%w: directional proposal without rationale", apperrors.ErrInvalidProposal)
	}
	if p.SnapshotID != "" && p.SnapshotID != snapshotID {
		return fmt.Errorf("%w: proposal for snapshot %s, cycle is on %s",
			apperrors.ErrInvalidProposal, p.SnapshotID, snapshotID)
	}
	if !p.GeneratedAt.IsZero() && g.now().Sub(p.GeneratedAt) > maxProposalAge {
		return fmt.Errorf("%w: proposal generated %s ago", apperrors.ErrInvalidProposal,
			g.now().Sub(p.GeneratedAt).Round(time.Second))
	}
	return nil
}

func (g *Gate) hold(reason, snapshotID string) core.Proposal {
	return core.Proposal{
		Side:        core.SideHold,
		Confidence:  0,
		Rationale:   reason,
		GeneratedAt: g.now(),
		SnapshotID:  snapshotID,
	}
}

// ProposalResult pairs an oracle response with its error so the gate can
// fold both paths into one degrade decision.
type ProposalResult struct {
	Proposal *core.Proposal
	Err      error
}
