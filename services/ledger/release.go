package ledger

import (
	"context"
	"time"

	"payout-engine/pkg/db/option"
	"payout-engine/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReleaseEligibleHolds promotes every pending entry whose hold ended at or
// before now to available. It is idempotent and returns the number of rows
// moved by this call.
func (s *Service) ReleaseEligibleHolds(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "ledger.ReleaseEligibleHolds")
	defer span.End()

	now = now.UTC()
	var released int64
	var referrers []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eligible, err := s.entries.WithTrx(tx).Find(ctx, &RewardTransaction{Status: StatusPending},
			option.ApplyOperator(option.Condition{Field: "hold_ends_at", Operator: option.LTE, Value: now}),
			option.WithSelect("id", "referrer_id"))
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return nil
		}

		ids := make([]string, 0, len(eligible))
		seen := make(map[string]bool)
		for _, e := range eligible {
			ids = append(ids, e.ID)
			if !seen[e.ReferrerID] {
				seen[e.ReferrerID] = true
				referrers = append(referrers, e.ReferrerID)
			}
		}

		res := tx.Model(&RewardTransaction{}).
			Where("id IN ? AND status = ?", ids, StatusPending).
			Updates(map[string]any{
				"status":       StatusAvailable,
				"available_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		released = res.RowsAffected
		return nil
	})
	if err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Error("failed to release holds", zap.Error(err))
		return 0, err
	}

	if released > 0 {
		holdsReleased.Add(float64(released))
		s.cache.Invalidate(ctx, referrers...)
	}
	zap.L().With(logger.TraceFields(ctx)...).Info("hold release finished",
		zap.Int64("released", released), zap.Time("as_of", now))
	return released, nil
}
