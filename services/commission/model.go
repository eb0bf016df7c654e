package commission

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const SettingsID = "global"

type Level string

const (
	LevelLow  Level = "LOW"
	LevelMed  Level = "MED"
	LevelHigh Level = "HIGH"
)

func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMed, LevelHigh:
		return true
	}
	return false
}

// PlatformSettings is the single row of commission and payout policy.
type PlatformSettings struct {
	ID                     string          `gorm:"column:id;primaryKey" json:"id"`
	LowCommission          decimal.Decimal `gorm:"column:low_commission;type:decimal(5,2);not null" json:"low_commission"`
	MedCommission          decimal.Decimal `gorm:"column:med_commission;type:decimal(5,2);not null" json:"med_commission"`
	HighCommission         decimal.Decimal `gorm:"column:high_commission;type:decimal(5,2);not null" json:"high_commission"`
	DefaultCommissionLevel Level           `gorm:"column:default_commission_level;type:varchar(8);not null" json:"default_commission_level"`
	RefundHoldDays         int             `gorm:"column:refund_hold_days;not null" json:"refund_hold_days"`
	PayoutCycleDays        int             `gorm:"column:payout_cycle_days;not null" json:"payout_cycle_days"`
	TransactionFeePercent  decimal.Decimal `gorm:"column:transaction_fee_percent;type:decimal(5,2);not null" json:"transaction_fee_percent"`
	PayoutMinimum          decimal.Decimal `gorm:"column:payout_minimum;type:decimal(20,2);not null" json:"payout_minimum"`
	TaxFormThreshold       decimal.Decimal `gorm:"column:tax_form_threshold;type:decimal(20,2);not null" json:"tax_form_threshold"`
	UpdatedBy              string          `gorm:"column:updated_by" json:"updated_by,omitempty"`
	CreatedAt              time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (PlatformSettings) TableName() string { return "platform_settings" }

// DefaultSettings is used whenever no settings row exists yet.
func DefaultSettings() *PlatformSettings {
	return &PlatformSettings{
		ID:                     SettingsID,
		LowCommission:          decimal.NewFromInt(10),
		MedCommission:          decimal.NewFromInt(20),
		HighCommission:         decimal.NewFromInt(30),
		DefaultCommissionLevel: LevelLow,
		RefundHoldDays:         14,
		PayoutCycleDays:        30,
		TransactionFeePercent:  decimal.RequireFromString("3.4"),
		PayoutMinimum:          decimal.NewFromInt(100),
		TaxFormThreshold:       decimal.Zero,
	}
}

// SettingsAudit records every mutation of PlatformSettings.
type SettingsAudit struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	Actor     string         `gorm:"column:actor;not null" json:"actor"`
	Before    datatypes.JSON `gorm:"column:before" json:"before"`
	After     datatypes.JSON `gorm:"column:after" json:"after"`
	CreatedAt time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (SettingsAudit) TableName() string { return "platform_settings_audits" }

// SettingsInput is a partial update; nil fields are left unchanged.
type SettingsInput struct {
	LowCommission          *decimal.Decimal `json:"low_commission"`
	MedCommission          *decimal.Decimal `json:"med_commission"`
	HighCommission         *decimal.Decimal `json:"high_commission"`
	DefaultCommissionLevel *Level           `json:"default_commission_level"`
	RefundHoldDays         *int             `json:"refund_hold_days"`
	PayoutCycleDays        *int             `json:"payout_cycle_days"`
	TransactionFeePercent  *decimal.Decimal `json:"transaction_fee_percent"`
	PayoutMinimum          *decimal.Decimal `json:"payout_minimum"`
	TaxFormThreshold       *decimal.Decimal `json:"tax_form_threshold"`
}

func (in SettingsInput) apply(s *PlatformSettings) {
	if in.LowCommission != nil {
		s.LowCommission = *in.LowCommission
	}
	if in.MedCommission != nil {
		s.MedCommission = *in.MedCommission
	}
	if in.HighCommission != nil {
		s.HighCommission = *in.HighCommission
	}
	if in.DefaultCommissionLevel != nil {
		s.DefaultCommissionLevel = *in.DefaultCommissionLevel
	}
	if in.RefundHoldDays != nil {
		s.RefundHoldDays = *in.RefundHoldDays
	}
	if in.PayoutCycleDays != nil {
		s.PayoutCycleDays = *in.PayoutCycleDays
	}
	if in.TransactionFeePercent != nil {
		s.TransactionFeePercent = *in.TransactionFeePercent
	}
	if in.PayoutMinimum != nil {
		s.PayoutMinimum = *in.PayoutMinimum
	}
	if in.TaxFormThreshold != nil {
		s.TaxFormThreshold = *in.TaxFormThreshold
	}
}
