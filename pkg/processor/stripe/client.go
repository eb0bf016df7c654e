package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"payout-engine/pkg/config"
	"payout-engine/pkg/money"
	"payout-engine/pkg/processor"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("processor.stripe", fx.Provide(Provide))

func Provide(cfg *config.Config) processor.Processor {
	return New(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.Processor.Timeout)
}

// Client talks to the Stripe REST API for balance reads and connected-account
// transfers.
type Client struct {
	http *resty.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetAuthToken(apiKey).
			SetTimeout(timeout).
			SetHeader("Stripe-Version", "2024-06-20"),
	}
}

type amountByCurrency struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type balanceResponse struct {
	Available []amountByCurrency `json:"available"`
	Pending   []amountByCurrency `json:"pending"`
}

type transferResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx response. It unwraps to one of the processor errors.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %d %s/%s: %s", e.StatusCode, e.Type, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

func classify(status int, body *errorResponse, mutating bool) error {
	apiErr := &APIError{StatusCode: status}
	if body != nil {
		apiErr.Type = body.Error.Type
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}

	switch {
	case apiErr.Code == "balance_insufficient" || apiErr.Code == "insufficient_funds":
		apiErr.kind = processor.ErrInsufficientFunds
	case status == http.StatusTooManyRequests:
		apiErr.kind = processor.ErrTransient
	case status >= http.StatusInternalServerError && mutating:
		apiErr.kind = processor.ErrOutcomeUnknown
	case status >= http.StatusInternalServerError:
		apiErr.kind = processor.ErrTransient
	default:
		apiErr.kind = processor.ErrRejected
	}
	return apiErr
}

func sumCurrency(amounts []amountByCurrency, currency string) int64 {
	var total int64
	for _, a := range amounts {
		if strings.EqualFold(a.Currency, currency) {
			total += a.Amount
		}
	}
	return total
}

func (c *Client) RetrieveBalance(ctx context.Context, currency string) (*processor.Balance, error) {
	var out balanceResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/balance")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", processor.ErrTransient, err)
	}
	if resp.IsError() {
		return nil, classify(resp.StatusCode(), &apiErr, false)
	}

	return &processor.Balance{
		Available: money.FromCents(sumCurrency(out.Available, currency)),
		Pending:   money.FromCents(sumCurrency(out.Pending, currency)),
		Currency:  strings.ToLower(currency),
	}, nil
}

func (c *Client) Transfer(ctx context.Context, req *processor.TransferRequest) (*processor.Transfer, error) {
	form := map[string]string{
		"amount":      fmt.Sprintf("%d", money.ToCents(req.Amount)),
		"currency":    strings.ToLower(req.Currency),
		"destination": req.Destination,
	}
	if req.Description != "" {
		form["description"] = req.Description
	}
	for k, v := range req.Metadata {
		form[fmt.Sprintf("metadata[%s]", k)] = v
	}

	var out transferResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/transfers")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			zap.L().Warn("transfer request cancelled", zap.String("idempotency_key", req.IdempotencyKey))
		}
		return nil, fmt.Errorf("%w: %v", processor.ErrOutcomeUnknown, err)
	}
	if resp.IsError() {
		return nil, classify(resp.StatusCode(), &apiErr, true)
	}

	return &processor.Transfer{
		ID:       out.ID,
		Amount:   money.FromCents(out.Amount),
		Currency: out.Currency,
	}, nil
}
