package apperrors

import "errors"

// Standardized gateway errors
var (
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrNetworkTimeout       = errors.New("network timeout")
	ErrOrderRejected        = errors.New("order rejected")
	ErrOrderNotFound        = errors.New("order not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrExchangeMaintenance  = errors.New("exchange maintenance")
	ErrInsufficientFunds    = errors.New("insufficient funds")
)

// Safety and execution errors
var (
	ErrNotArmed           = errors.New("live trading not armed")
	ErrPositionCapReached = errors.New("position cap reached")
	ErrKillSwitchActive   = errors.New("kill switch active")
	ErrAmbiguousOutcome   = errors.New("ambiguous order outcome")
	ErrHalted             = errors.New("coordinator halted: manual reconciliation required")
	ErrAuditUnavailable   = errors.New("audit log unavailable")
	ErrInvalidProposal    = errors.New("invalid proposal")
)
