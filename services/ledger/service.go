package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payout-engine/pkg/db/option"
	"payout-engine/pkg/db/pagination"
	"payout-engine/pkg/errutil"
	"payout-engine/pkg/locker"
	"payout-engine/pkg/logger"
	"payout-engine/pkg/money"
	"payout-engine/pkg/rediskey"
	"payout-engine/pkg/repository"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("payout-engine/services/ledger")

// AffiliateStore is the part of the affiliate registry the ledger writes through.
type AffiliateStore interface {
	Get(ctx context.Context, id string) (*affiliate.Affiliate, error)
	GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*affiliate.Affiliate, error)
	AddEarnings(ctx context.Context, tx *gorm.DB, a *affiliate.Affiliate, delta decimal.Decimal) error
	SetTotals(ctx context.Context, tx *gorm.DB, id string, earnings, paid decimal.Decimal) error
}

type SettingsProvider interface {
	Settings(ctx context.Context) (*commission.PlatformSettings, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	entries    repository.Repository[RewardTransaction]
	affiliates AffiliateStore
	settings   SettingsProvider
	locks      locker.Locker
	cache      BalanceCache
}

// Get returns the entry or a not-found error.
func (s *Service) Get(ctx context.Context, id string) (*RewardTransaction, error) {
	e, err := s.entries.FindOne(ctx, &RewardTransaction{ID: id})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errutil.NotFound(fmt.Sprintf("reward %s not found", id), ErrEntryNotFound)
	}
	return e, nil
}

// Entries lists an affiliate's entries, oldest first. An empty status lists all.
func (s *Service) Entries(ctx context.Context, affiliateID string, status Status) ([]*RewardTransaction, error) {
	return s.entries.Find(ctx, &RewardTransaction{ReferrerID: affiliateID, Status: status},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
}

// EntriesPage lists an affiliate's entries newest first, one cursor page at a time.
func (s *Service) EntriesPage(ctx context.Context, affiliateID string, status Status, page pagination.Pagination) ([]*RewardTransaction, *pagination.PageInfo, error) {
	var cursor *pagination.Cursor
	if page.Cursor != "" {
		c, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		cursor = c
	}

	limit := page.Size()
	entries, err := s.entries.Find(ctx, &RewardTransaction{ReferrerID: affiliateID, Status: status},
		pagination.After(cursor), option.WithLimit(limit+1))
	if err != nil {
		return nil, nil, err
	}

	return pagination.Trim(entries, limit, func(e *RewardTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
}

// CreateEntry records a pending commission with its hold frozen from the
// current settings. It fails with ErrDuplicateSourceEvent when a non-cancelled
// entry already exists for the same referrer and source payment.
func (s *Service) CreateEntry(ctx context.Context, p CreateEntryParams) (*RewardTransaction, error) {
	return s.create(ctx, p, nil, nil)
}

// RecordSale turns a completed sale into a commission entry using the
// affiliate's resolved rate.
func (s *Service) RecordSale(ctx context.Context, p SaleParams) (*RewardTransaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.RecordSale", trace.WithAttributes(
		attribute.String("affiliate.id", p.ReferrerID),
		attribute.String("source_payment.id", p.SourcePaymentID),
	))
	defer span.End()

	if !p.SaleAmount.IsPositive() {
		return nil, errutil.BadRequest("sale amount must be positive", ErrInvalidAmount)
	}

	a, err := s.affiliates.Get(ctx, p.ReferrerID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, errutil.UnprocessableEntity("affiliate is not active", affiliate.ErrNotActive)
	}
	if p.RefereeID != "" && p.RefereeID == a.UserID {
		zap.L().With(logger.TraceFields(ctx)...).Warn("self-referral ignored",
			zap.String("affiliate_id", a.ID), zap.String("source_payment_id", p.SourcePaymentID))
		return nil, errutil.UnprocessableEntity("self-referral is not rewarded", ErrSelfReferral)
	}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}

	rate := commission.ResolveRate(a, settings)
	amount := money.Percent(p.SaleAmount, rate)
	if !amount.IsPositive() {
		return nil, errutil.UnprocessableEntity("commission rounds to zero", ErrInvalidAmount)
	}

	sale := money.Round(p.SaleAmount)
	return s.create(ctx, CreateEntryParams{
		ReferrerID:      a.ID,
		RefereeID:       p.RefereeID,
		Amount:          amount,
		SourcePaymentID: p.SourcePaymentID,
	}, &sale, &rate)
}

func (s *Service) create(ctx context.Context, p CreateEntryParams, sale, rate *decimal.Decimal) (*RewardTransaction, error) {
	if !p.Amount.IsPositive() {
		return nil, errutil.BadRequest("amount must be positive", ErrInvalidAmount)
	}
	if strings.TrimSpace(p.ReferrerID) == "" || strings.TrimSpace(p.SourcePaymentID) == "" {
		return nil, errutil.BadRequest("referrer_id and source_payment_id are required", nil)
	}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := &RewardTransaction{
		ID:              s.node.Generate().String(),
		ReferrerID:      p.ReferrerID,
		RefereeID:       p.RefereeID,
		Amount:          money.Round(p.Amount),
		SaleAmount:      sale,
		CommissionRate:  rate,
		Status:          StatusPending,
		SourcePaymentID: p.SourcePaymentID,
		HoldEndsAt:      commission.HoldEndsAt(now, settings),
		Metadata:        p.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.affiliates.GetForUpdate(ctx, tx, p.ReferrerID)
		if err != nil {
			return err
		}

		exist, err := s.entries.WithTrx(tx).FindOne(ctx, &RewardTransaction{
			ReferrerID: p.ReferrerID, SourcePaymentID: p.SourcePaymentID,
		}, option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: StatusCancelled}))
		if err != nil {
			return err
		}
		if exist != nil {
			return ErrDuplicateSourceEvent
		}

		if err := s.entries.WithTrx(tx).Create(ctx, entry); err != nil {
			return err
		}
		return s.affiliates.AddEarnings(ctx, tx, a, entry.Amount)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSourceEvent) || errors.Is(err, gorm.ErrDuplicatedKey) {
			zap.L().With(logger.TraceFields(ctx)...).Info("duplicate source event ignored",
				zap.String("affiliate_id", p.ReferrerID), zap.String("source_payment_id", p.SourcePaymentID))
			return nil, errutil.Conflict("reward already recorded for this payment", ErrDuplicateSourceEvent)
		}
		zap.L().With(logger.TraceFields(ctx)...).Error("failed to create reward entry",
			zap.String("affiliate_id", p.ReferrerID), zap.Error(err))
		return nil, err
	}

	entriesCreated.Inc()
	s.cache.Invalidate(ctx, entry.ReferrerID)
	zap.L().With(logger.TraceFields(ctx)...).Info("reward entry created",
		zap.String("entry_id", entry.ID),
		zap.String("affiliate_id", entry.ReferrerID),
		zap.String("amount", entry.Amount.String()),
		zap.Time("hold_ends_at", entry.HoldEndsAt),
	)
	return entry, nil
}

// CancelEntry is the admin override moving a pending or available entry to
// cancelled. Paid and cancelled entries are rejected.
func (s *Service) CancelEntry(ctx context.Context, entryID, reason string) (*RewardTransaction, error) {
	entry, err := s.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, rediskey.BuildAffiliateLockKey(entry.ReferrerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *RewardTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.affiliates.GetForUpdate(ctx, tx, entry.ReferrerID)
		if err != nil {
			return err
		}

		current, err := s.entries.WithTrx(tx).FindOne(ctx, &RewardTransaction{ID: entryID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if current == nil {
			return errutil.NotFound("reward not found", ErrEntryNotFound)
		}
		if err := Transition(current, StatusCancelled); err != nil {
			return errutil.UnprocessableEntity("reward cannot be cancelled", err)
		}
		if current.PayoutID != nil {
			return errutil.Conflict("reward is part of a payout that has not settled", ErrEntryInFlight)
		}

		now := s.now().UTC()
		res := tx.Model(&RewardTransaction{}).
			Where("id = ? AND status IN ? AND payout_id IS NULL", current.ID, []Status{StatusPending, StatusAvailable}).
			Updates(map[string]any{
				"status":        StatusCancelled,
				"cancelled_at":  now,
				"cancel_reason": reason,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return integrityError(&InvalidTransitionError{EntryID: current.ID, From: current.Status, To: StatusCancelled})
		}

		if err := s.affiliates.AddEarnings(ctx, tx, a, current.Amount.Neg()); err != nil {
			return err
		}

		current.Status = StatusCancelled
		current.CancelledAt = &now
		current.CancelReason = reason
		out = current
		return nil
	})
	if err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Warn("failed to cancel reward entry", zap.String("entry_id", entryID), zap.Error(err))
		return nil, err
	}

	s.cache.Invalidate(ctx, out.ReferrerID)
	zap.L().With(logger.TraceFields(ctx)...).Info("reward entry cancelled",
		zap.String("entry_id", out.ID), zap.String("affiliate_id", out.ReferrerID), zap.String("reason", reason))
	return out, nil
}

// CancelBySourcePayment revokes every unpaid entry created from a refunded
// payment. Paid entries are reported as skipped.
func (s *Service) CancelBySourcePayment(ctx context.Context, sourcePaymentID, reason string) (*CancelResult, error) {
	if strings.TrimSpace(sourcePaymentID) == "" {
		return nil, errutil.BadRequest("source_payment_id is required", nil)
	}

	entries, err := s.entries.Find(ctx, &RewardTransaction{SourcePaymentID: sourcePaymentID})
	if err != nil {
		return nil, err
	}

	result := &CancelResult{Cancelled: []string{}, Skipped: []string{}}
	for _, e := range entries {
		if e.Status == StatusCancelled {
			continue
		}
		if e.Status == StatusPaid {
			zap.L().With(logger.TraceFields(ctx)...).Warn("refunded payment already paid out",
				zap.String("entry_id", e.ID), zap.String("source_payment_id", sourcePaymentID))
			result.Skipped = append(result.Skipped, e.ID)
			continue
		}

		if _, err := s.CancelEntry(ctx, e.ID, reason); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrEntryInFlight) {
				result.Skipped = append(result.Skipped, e.ID)
				continue
			}
			return result, err
		}
		result.Cancelled = append(result.Cancelled, e.ID)
	}

	return result, nil
}

// ClaimEntries ties available, unclaimed entries to a payout that has not
// settled yet. Claimed entries stay available but cannot be cancelled or
// picked up by another payout.
func (s *Service) ClaimEntries(ctx context.Context, tx *gorm.DB, entryIDs []string, payoutID string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	res := tx.WithContext(ctx).Model(&RewardTransaction{}).
		Where("id IN ? AND status = ? AND payout_id IS NULL", entryIDs, StatusAvailable).
		Updates(map[string]any{
			"payout_id":  payoutID,
			"updated_at": s.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(entryIDs)) {
		return integrityError(fmt.Errorf("%w: claimed %d of %d entries", ErrInvalidTransition, res.RowsAffected, len(entryIDs)))
	}
	return nil
}

// ReleaseClaims hands the unpaid entries of an abandoned payout back to the
// available pool.
func (s *Service) ReleaseClaims(ctx context.Context, tx *gorm.DB, payoutID string) (int64, error) {
	res := tx.WithContext(ctx).Model(&RewardTransaction{}).
		Where("payout_id = ? AND status = ?", payoutID, StatusAvailable).
		Updates(map[string]any{
			"payout_id":  nil,
			"updated_at": s.now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// MarkPaid moves the given available entries to paid inside tx. Any entry not
// available any more, or claimed by another payout, aborts the whole batch
// with an integrity error.
func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, entryIDs []string, payoutID string, paidAt time.Time) ([]*RewardTransaction, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}

	ids := make([]any, 0, len(entryIDs))
	for _, id := range entryIDs {
		ids = append(ids, id)
	}

	rows, err := s.entries.WithTrx(tx).Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}),
		option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if len(rows) != len(entryIDs) {
		return nil, integrityError(fmt.Errorf("expected %d entries, found %d", len(entryIDs), len(rows)))
	}
	for _, e := range rows {
		if err := Transition(e, StatusPaid); err != nil {
			return nil, integrityError(err)
		}
	}

	res := tx.WithContext(ctx).Model(&RewardTransaction{}).
		Where("id IN ? AND status = ? AND (payout_id IS NULL OR payout_id = ?)", entryIDs, StatusAvailable, payoutID).
		Updates(map[string]any{
			"status":     StatusPaid,
			"paid_at":    paidAt,
			"payout_id":  payoutID,
			"updated_at": paidAt,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != int64(len(entryIDs)) {
		return nil, integrityError(fmt.Errorf("%w: %d of %d entries left available", ErrInvalidTransition, int64(len(entryIDs))-res.RowsAffected, len(entryIDs)))
	}

	for _, e := range rows {
		e.Status = StatusPaid
		e.PaidAt = &paidAt
		e.PayoutID = &payoutID
	}
	return rows, nil
}

// AuditAmounts reports entries whose stored amount differs from their stored
// sale amount and rate. It never modifies an entry.
func (s *Service) AuditAmounts(ctx context.Context, affiliateID string) ([]AmountDiscrepancy, error) {
	entries, err := s.Entries(ctx, affiliateID, "")
	if err != nil {
		return nil, err
	}

	out := []AmountDiscrepancy{}
	for _, e := range entries {
		if e.SaleAmount == nil || e.CommissionRate == nil {
			continue
		}
		expected := money.Percent(*e.SaleAmount, *e.CommissionRate)
		if !expected.Equal(e.Amount) {
			out = append(out, AmountDiscrepancy{EntryID: e.ID, Status: e.Status, Stored: e.Amount, Expected: expected})
		}
	}
	return out, nil
}
