package commission

import (
	"fmt"
	"time"

	"payout-engine/pkg/errutil"

	"github.com/shopspring/decimal"
)

// RateProfile is the per-affiliate input of the resolver.
type RateProfile interface {
	LockedRate() *decimal.Decimal
	CustomRate() *decimal.Decimal
	Level() *Level
}

type RateSource string

const (
	SourceLocked  RateSource = "locked"
	SourceCustom  RateSource = "custom"
	SourceTier    RateSource = "tier"
	SourceDefault RateSource = "default"
)

type Resolution struct {
	Rate   decimal.Decimal `json:"rate"`
	Source RateSource      `json:"source"`
}

// RateForLevel maps a tier to its configured percentage. Unknown tiers fall
// back to the default tier.
func RateForLevel(level Level, s *PlatformSettings) decimal.Decimal {
	switch level {
	case LevelLow:
		return s.LowCommission
	case LevelMed:
		return s.MedCommission
	case LevelHigh:
		return s.HighCommission
	}
	if level != s.DefaultCommissionLevel && s.DefaultCommissionLevel.Valid() {
		return RateForLevel(s.DefaultCommissionLevel, s)
	}
	return s.LowCommission
}

// Resolve applies locked > custom > tier > default and reports which one won.
func Resolve(p RateProfile, s *PlatformSettings) Resolution {
	if s == nil {
		s = DefaultSettings()
	}
	if p != nil {
		if r := p.LockedRate(); r != nil {
			return Resolution{Rate: *r, Source: SourceLocked}
		}
		if r := p.CustomRate(); r != nil {
			return Resolution{Rate: *r, Source: SourceCustom}
		}
		if lvl := p.Level(); lvl != nil && lvl.Valid() {
			return Resolution{Rate: RateForLevel(*lvl, s), Source: SourceTier}
		}
	}
	return Resolution{Rate: RateForLevel(s.DefaultCommissionLevel, s), Source: SourceDefault}
}

// ResolveRate never fails; a missing profile resolves to the default tier.
func ResolveRate(p RateProfile, s *PlatformSettings) decimal.Decimal {
	return Resolve(p, s).Rate
}

func ResolveHoldDays(s *PlatformSettings) int {
	if s == nil || s.RefundHoldDays < 0 {
		return DefaultSettings().RefundHoldDays
	}
	return s.RefundHoldDays
}

// HoldEndsAt is the release time frozen onto an entry created at now.
func HoldEndsAt(now time.Time, s *PlatformSettings) time.Time {
	return now.AddDate(0, 0, ResolveHoldDays(s))
}

var hundred = decimal.NewFromInt(100)

func validRate(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}

// Validate checks the settings invariants.
func (s *PlatformSettings) Validate() error {
	var details []errutil.Detail
	add := func(field, msg string) {
		details = append(details, errutil.Detail{Field: field, Message: msg})
	}

	rates := []struct {
		field string
		value decimal.Decimal
	}{
		{"low_commission", s.LowCommission},
		{"med_commission", s.MedCommission},
		{"high_commission", s.HighCommission},
	}
	for _, r := range rates {
		if !validRate(r.value) {
			add(r.field, "must be between 0 and 100")
		}
	}
	if !s.DefaultCommissionLevel.Valid() {
		add("default_commission_level", fmt.Sprintf("unknown level %q", s.DefaultCommissionLevel))
	}
	if s.RefundHoldDays < 0 {
		add("refund_hold_days", "must not be negative")
	}
	if s.PayoutCycleDays < 0 {
		add("payout_cycle_days", "must not be negative")
	}
	if s.TransactionFeePercent.IsNegative() || s.TransactionFeePercent.GreaterThanOrEqual(hundred) {
		add("transaction_fee_percent", "must be at least 0 and below 100")
	}
	if s.PayoutMinimum.IsNegative() {
		add("payout_minimum", "must not be negative")
	}
	if s.TaxFormThreshold.IsNegative() {
		add("tax_form_threshold", "must not be negative")
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid platform settings", nil, errutil.WithDetails(details...))
	}
	return nil
}
