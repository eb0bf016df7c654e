package payout

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// AffiliatePayout is one transfer to an affiliate. It is written as pending
// before the processor is called and carries everything needed to re-send the
// same transfer: key, amounts, destination and the claimed entries. Amount
// equals the sum of the entries whose payout_id points at it.
type AffiliatePayout struct {
	ID             string                      `gorm:"column:id;primaryKey" json:"id"`
	Reference      string                      `gorm:"column:reference;type:varchar(32);uniqueIndex;not null" json:"reference"`
	AffiliateID    string                      `gorm:"column:affiliate_id;not null;index" json:"affiliate_id"`
	Amount         decimal.Decimal             `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	FeeAmount      decimal.Decimal             `gorm:"column:fee_amount;type:decimal(20,2);not null" json:"fee_amount"`
	NetAmount      decimal.Decimal             `gorm:"column:net_amount;type:decimal(20,2);not null" json:"net_amount"`
	Currency       string                      `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Destination    string                      `gorm:"column:destination;not null" json:"destination"`
	Status         Status                      `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	TransferID     string                      `gorm:"column:transfer_id;index" json:"transfer_id"`
	IdempotencyKey string                      `gorm:"column:idempotency_key;uniqueIndex;not null" json:"idempotency_key"`
	EntryIDs       datatypes.JSONSlice[string] `gorm:"column:entry_ids" json:"entry_ids"`
	EntryCount     int                         `gorm:"column:entry_count;not null" json:"entry_count"`
	Attempts       int                         `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastAttemptAt  *time.Time                  `gorm:"column:last_attempt_at" json:"last_attempt_at,omitempty"`
	FailureReason  string                      `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	PaidAt         *time.Time                  `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CancelledAt    *time.Time                  `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time                   `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (AffiliatePayout) TableName() string { return "affiliate_payouts" }

type QueueItem struct {
	AffiliateID       string          `json:"affiliate_id"`
	Slug              string          `json:"slug"`
	Balance           decimal.Decimal `json:"balance"`
	Fee               decimal.Decimal `json:"fee"`
	Net               decimal.Decimal `json:"net"`
	EntryCount        int             `json:"entry_count"`
	OldestEarnedAt    time.Time       `json:"oldest_earned_at"`
	DestinationReady  bool            `json:"destination_ready"`
	ComplianceBlocked bool            `json:"compliance_blocked"`
	LastPayoutAt      *time.Time      `json:"last_payout_at,omitempty"`
	NextPayoutAt      *time.Time      `json:"next_payout_at,omitempty"`
}

type Result struct {
	PayoutID    string          `json:"payout_id"`
	Reference   string          `json:"reference"`
	AffiliateID string          `json:"affiliate_id"`
	Gross       decimal.Decimal `json:"gross"`
	Fee         decimal.Decimal `json:"fee"`
	Net         decimal.Decimal `json:"net"`
	Currency    string          `json:"currency"`
	TransferID  string          `json:"transfer_id"`
	EntryIDs    []string        `json:"entry_ids"`
	PaidAt      time.Time       `json:"paid_at"`
	Resumed     bool            `json:"resumed,omitempty"`
}

type BulkItem struct {
	AffiliateID string  `json:"affiliate_id"`
	Success     bool    `json:"success"`
	Reason      string  `json:"reason,omitempty"`
	Error       string  `json:"error,omitempty"`
	Result      *Result `json:"result,omitempty"`
}

type BulkResult struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	TotalGross decimal.Decimal `json:"total_gross"`
	TotalNet   decimal.Decimal `json:"total_net"`
	Items      []BulkItem      `json:"items"`
}
