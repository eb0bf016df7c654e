package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAvailable Status = "available"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// RewardTransaction is one commission obligation owed to a referrer.
// At most one non-cancelled entry exists per (referrer, source payment).
type RewardTransaction struct {
	ID              string           `gorm:"column:id;primaryKey" json:"id"`
	ReferrerID      string           `gorm:"column:referrer_id;not null;index;uniqueIndex:idx_reward_source_active,where:status <> 'cancelled'" json:"referrer_id"`
	RefereeID       string           `gorm:"column:referee_id;index" json:"referee_id"`
	Amount          decimal.Decimal  `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	SaleAmount      *decimal.Decimal `gorm:"column:sale_amount;type:decimal(20,2)" json:"sale_amount,omitempty"`
	CommissionRate  *decimal.Decimal `gorm:"column:commission_rate;type:decimal(5,2)" json:"commission_rate,omitempty"`
	Status          Status           `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	SourcePaymentID string           `gorm:"column:source_payment_id;not null;index;uniqueIndex:idx_reward_source_active,where:status <> 'cancelled'" json:"source_payment_id"`
	HoldEndsAt      time.Time        `gorm:"column:hold_ends_at;not null;index" json:"hold_ends_at"`
	AvailableAt     *time.Time       `gorm:"column:available_at" json:"available_at,omitempty"`
	PaidAt          *time.Time       `gorm:"column:paid_at" json:"paid_at,omitempty"`
	PayoutID        *string          `gorm:"column:payout_id;index" json:"payout_id,omitempty"`
	CancelledAt     *time.Time       `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason    string           `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	Metadata        datatypes.JSON   `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time        `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (RewardTransaction) TableName() string { return "reward_transactions" }

type CreateEntryParams struct {
	ReferrerID      string
	RefereeID       string
	Amount          decimal.Decimal
	SourcePaymentID string
	Metadata        datatypes.JSON
}

type SaleParams struct {
	ReferrerID      string          `json:"referrer_id"`
	RefereeID       string          `json:"referee_id"`
	SaleAmount      decimal.Decimal `json:"sale_amount"`
	SourcePaymentID string          `json:"source_payment_id"`
}

type BalanceSummary struct {
	AffiliateID    string          `json:"affiliate_id"`
	Pending        decimal.Decimal `json:"pending"`
	Available      decimal.Decimal `json:"available"`
	Paid           decimal.Decimal `json:"paid"`
	Cancelled      decimal.Decimal `json:"cancelled"`
	PendingCount   int             `json:"pending_count"`
	AvailableCount int             `json:"available_count"`
	PaidCount      int             `json:"paid_count"`
	NextReleaseAt  *time.Time      `json:"next_release_at,omitempty"`
}

// AvailableAggregate is the available balance of one affiliate.
type AvailableAggregate struct {
	AffiliateID    string
	Balance        decimal.Decimal
	EntryCount     int
	OldestEarnedAt time.Time
}

type CancelResult struct {
	Cancelled []string `json:"cancelled"`
	Skipped   []string `json:"skipped"`
}

type AmountDiscrepancy struct {
	EntryID  string          `json:"entry_id"`
	Status   Status          `json:"status"`
	Stored   decimal.Decimal `json:"stored"`
	Expected decimal.Decimal `json:"expected"`
}
