package affiliate

import (
	"time"

	"payout-engine/services/commission"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusRejected Status = "REJECTED"
)

type PayoutAccountStatus string

const (
	AccountPending    PayoutAccountStatus = "pending"
	AccountActive     PayoutAccountStatus = "active"
	AccountRestricted PayoutAccountStatus = "restricted"
)

type Affiliate struct {
	ID                   string              `gorm:"column:id;primaryKey" json:"id"`
	UserID               string              `gorm:"column:user_id;uniqueIndex;not null" json:"user_id"`
	Status               Status              `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	Slug                 string              `gorm:"column:slug;uniqueIndex;not null" json:"slug"`
	CommissionLevel      *commission.Level   `gorm:"column:commission_level;type:varchar(8)" json:"commission_level,omitempty"`
	LockedCommissionRate *decimal.Decimal    `gorm:"column:locked_commission_rate;type:decimal(5,2)" json:"locked_commission_rate,omitempty"`
	CustomCommissionRate *decimal.Decimal    `gorm:"column:custom_commission_rate;type:decimal(5,2)" json:"custom_commission_rate,omitempty"`
	PayoutAccountID      string              `gorm:"column:payout_account_id" json:"payout_account_id,omitempty"`
	PayoutAccountStatus  PayoutAccountStatus `gorm:"column:payout_account_status;type:varchar(16);default:pending" json:"payout_account_status"`
	TaxFormCompleted     bool                `gorm:"column:tax_form_completed;not null;default:false" json:"tax_form_completed"`
	TotalEarnings        decimal.Decimal     `gorm:"column:total_earnings;type:decimal(20,2);not null;default:0" json:"total_earnings"`
	TotalPaid            decimal.Decimal     `gorm:"column:total_paid;type:decimal(20,2);not null;default:0" json:"total_paid"`
	LastPayoutAt         *time.Time          `gorm:"column:last_payout_at" json:"last_payout_at,omitempty"`
	ApprovedAt           *time.Time          `gorm:"column:approved_at" json:"approved_at,omitempty"`
	CreatedAt            time.Time           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (Affiliate) TableName() string { return "affiliates" }

func (a *Affiliate) LockedRate() *decimal.Decimal { return a.LockedCommissionRate }
func (a *Affiliate) CustomRate() *decimal.Decimal { return a.CustomCommissionRate }
func (a *Affiliate) Level() *commission.Level { return a.CommissionLevel }

func (a *Affiliate) IsActive() bool { return a.Status == StatusActive }

// CanReceiveTransfers reports whether the payout destination is verified.
func (a *Affiliate) CanReceiveTransfers() bool {
	return a.PayoutAccountID != "" && a.PayoutAccountStatus == AccountActive
}

type ApplyParams struct {
	UserID          string
	DisplayName     string
	CommissionLevel *commission.Level
	AutoApprove     bool
}
