package processor

//go:generate mockgen -source=processor.go -destination=mock/processor.go -package=mock_processor

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds means the platform account cannot cover the transfer.
	ErrInsufficientFunds = errors.New("processor: insufficient platform funds")
	// ErrOutcomeUnknown means the request may or may not have been executed
	// (timeout, connection reset, 5xx). Retry only with the same idempotency key.
	ErrOutcomeUnknown = errors.New("processor: transfer outcome unknown")
	// ErrTransient is a retryable rejection that certainly did not execute.
	ErrTransient = errors.New("processor: transient failure")
	// ErrRejected is a definitive rejection of the request.
	ErrRejected = errors.New("processor: request rejected")
)

type Balance struct {
	Available decimal.Decimal
	Pending   decimal.Decimal
	Currency  string
}

type TransferRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Destination    string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

type Transfer struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
}

// Processor is the external payment processor holding platform funds.
type Processor interface {
	RetrieveBalance(ctx context.Context, currency string) (*Balance, error)
	Transfer(ctx context.Context, req *TransferRequest) (*Transfer, error)
}
