package ledger

import (
	"context"
	"sort"
	"time"

	"payout-engine/pkg/db/option"
	"payout-engine/pkg/logger"
	"payout-engine/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AvailableBalance is the sum of the affiliate's available entries, read from
// the ledger on every call.
func (s *Service) AvailableBalance(ctx context.Context, affiliateID string) (decimal.Decimal, error) {
	entries, err := s.AvailableEntries(ctx, nil, affiliateID)
	if err != nil {
		return decimal.Zero, err
	}
	return SumAmounts(entries), nil
}

// CachedAvailableBalance serves display reads; payouts must use AvailableBalance.
func (s *Service) CachedAvailableBalance(ctx context.Context, affiliateID string) (decimal.Decimal, error) {
	v, version, ok := s.cache.Get(ctx, affiliateID)
	if ok {
		return v, nil
	}
	balance, err := s.AvailableBalance(ctx, affiliateID)
	if err != nil {
		return decimal.Zero, err
	}
	s.cache.Set(ctx, affiliateID, balance, version)
	return balance, nil
}

// AvailableEntries lists available entries oldest first. With a non-nil tx the
// rows are locked for the rest of the transaction.
func (s *Service) AvailableEntries(ctx context.Context, tx *gorm.DB, affiliateID string) ([]*RewardTransaction, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	}
	if tx != nil {
		opts = append(opts, option.WithLockingUpdate())
	}
	return s.entries.WithTrx(tx).Find(ctx, &RewardTransaction{ReferrerID: affiliateID, Status: StatusAvailable}, opts...)
}

// PayableEntries lists available entries not claimed by an unsettled payout,
// oldest first.
func (s *Service) PayableEntries(ctx context.Context, affiliateID string) ([]*RewardTransaction, error) {
	return s.entries.Find(ctx, &RewardTransaction{ReferrerID: affiliateID, Status: StatusAvailable},
		option.ApplyOperator(option.Condition{Field: "payout_id", Operator: option.IsNull}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
}

func SumAmounts(entries []*RewardTransaction) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// Summary totals the affiliate's entries per status.
func (s *Service) Summary(ctx context.Context, affiliateID string) (*BalanceSummary, error) {
	entries, err := s.Entries(ctx, affiliateID, "")
	if err != nil {
		return nil, err
	}

	sum := &BalanceSummary{
		AffiliateID: affiliateID,
		Pending:     decimal.Zero,
		Available:   decimal.Zero,
		Paid:        decimal.Zero,
		Cancelled:   decimal.Zero,
	}
	for _, e := range entries {
		switch e.Status {
		case StatusPending:
			sum.Pending = sum.Pending.Add(e.Amount)
			sum.PendingCount++
			if sum.NextReleaseAt == nil || e.HoldEndsAt.Before(*sum.NextReleaseAt) {
				at := e.HoldEndsAt
				sum.NextReleaseAt = &at
			}
		case StatusAvailable:
			sum.Available = sum.Available.Add(e.Amount)
			sum.AvailableCount++
		case StatusPaid:
			sum.Paid = sum.Paid.Add(e.Amount)
			sum.PaidCount++
		case StatusCancelled:
			sum.Cancelled = sum.Cancelled.Add(e.Amount)
		}
	}
	return sum, nil
}

// AvailableByAffiliate aggregates every available entry per affiliate, ordered
// by affiliate id.
func (s *Service) AvailableByAffiliate(ctx context.Context) ([]AvailableAggregate, error) {
	entries, err := s.entries.Find(ctx, &RewardTransaction{Status: StatusAvailable},
		option.WithSelect("id", "referrer_id", "amount", "created_at"))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*AvailableAggregate)
	for _, e := range entries {
		agg, ok := byID[e.ReferrerID]
		if !ok {
			agg = &AvailableAggregate{AffiliateID: e.ReferrerID, Balance: decimal.Zero, OldestEarnedAt: e.CreatedAt}
			byID[e.ReferrerID] = agg
		}
		agg.Balance = agg.Balance.Add(e.Amount)
		agg.EntryCount++
		if e.CreatedAt.Before(agg.OldestEarnedAt) {
			agg.OldestEarnedAt = e.CreatedAt
		}
	}

	out := make([]AvailableAggregate, 0, len(byID))
	for _, agg := range byID {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AffiliateID < out[j].AffiliateID })
	return out, nil
}

// PaidSince sums entries paid to the affiliate at or after since.
func (s *Service) PaidSince(ctx context.Context, affiliateID string, since time.Time) (decimal.Decimal, error) {
	entries, err := s.entries.Find(ctx, &RewardTransaction{ReferrerID: affiliateID, Status: StatusPaid},
		option.ApplyOperator(option.Condition{Field: "paid_at", Operator: option.GTE, Value: since.UTC()}))
	if err != nil {
		return decimal.Zero, err
	}
	return SumAmounts(entries), nil
}

// RecomputeTotals rewrites the affiliate's denormalized counters from the ledger.
func (s *Service) RecomputeTotals(ctx context.Context, affiliateID string) (*BalanceSummary, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.affiliates.GetForUpdate(ctx, tx, affiliateID); err != nil {
			return err
		}

		entries, err := s.entries.WithTrx(tx).Find(ctx, &RewardTransaction{ReferrerID: affiliateID})
		if err != nil {
			return err
		}

		earnings, paid := decimal.Zero, decimal.Zero
		for _, e := range entries {
			if e.Status == StatusCancelled {
				continue
			}
			earnings = earnings.Add(e.Amount)
			if e.Status == StatusPaid {
				paid = paid.Add(e.Amount)
			}
		}

		return s.affiliates.SetTotals(ctx, tx, affiliateID, money.Round(earnings), money.Round(paid))
	})
	if err != nil {
		return nil, err
	}

	zap.L().With(logger.TraceFields(ctx)...).Info("affiliate totals recomputed", zap.String("affiliate_id", affiliateID))
	return s.Summary(ctx, affiliateID)
}

// InvalidateBalance drops cached display balances after entries moved state
// outside this service.
func (s *Service) InvalidateBalance(ctx context.Context, affiliateIDs ...string) {
	s.cache.Invalidate(ctx, affiliateIDs...)
}
