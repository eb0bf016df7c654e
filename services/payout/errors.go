package payout

import (
	"errors"

	"payout-engine/pkg/locker"
	"payout-engine/pkg/processor"
	"payout-engine/services/affiliate"
	"payout-engine/services/ledger"
)

var (
	ErrBelowMinimum                = errors.New("available balance below payout minimum")
	ErrDestinationNotVerified      = errors.New("payout destination not verified")
	ErrInsufficientPlatformBalance = errors.New("insufficient platform balance")
	ErrComplianceBlocked           = errors.New("tax form required before payout")
	ErrIntegrity                   = errors.New("ledger commit failed after transfer")
)

const (
	ReasonBelowMinimum           = "below_minimum"
	ReasonDestinationNotVerified = "destination_not_verified"
	ReasonInsufficientBalance    = "insufficient_platform_balance"
	ReasonComplianceBlocked      = "compliance_blocked"
	ReasonOutcomeUnknown         = "transfer_outcome_unknown"
	ReasonTransferFailed         = "transfer_failed"
	ReasonNotFound               = "affiliate_not_found"
	ReasonLockTimeout            = "lock_timeout"
	ReasonIntegrity              = "integrity_violation"
	ReasonInternal               = "internal_error"
)

// FailureReason maps a payout error to the reason code reported per affiliate.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBelowMinimum):
		return ReasonBelowMinimum
	case errors.Is(err, ErrDestinationNotVerified):
		return ReasonDestinationNotVerified
	case errors.Is(err, ErrInsufficientPlatformBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, ErrComplianceBlocked):
		return ReasonComplianceBlocked
	case errors.Is(err, ErrIntegrity), errors.Is(err, ledger.ErrInvalidTransition):
		return ReasonIntegrity
	case errors.Is(err, processor.ErrOutcomeUnknown):
		return ReasonOutcomeUnknown
	case errors.Is(err, processor.ErrTransient), errors.Is(err, processor.ErrRejected):
		return ReasonTransferFailed
	case errors.Is(err, affiliate.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, locker.ErrLockTimeout):
		return ReasonLockTimeout
	default:
		return ReasonInternal
	}
}
