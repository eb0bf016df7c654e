package payout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"payout-engine/pkg/db/option"
	"payout-engine/pkg/errutil"
	"payout-engine/pkg/locker"
	"payout-engine/pkg/logger"
	"payout-engine/pkg/money"
	"payout-engine/pkg/processor"
	"payout-engine/pkg/rediskey"
	"payout-engine/pkg/repository"
	"payout-engine/pkg/sequence"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"
	"payout-engine/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("payout-engine/services/payout")

type SettingsProvider interface {
	Settings(ctx context.Context) (*commission.PlatformSettings, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	ledger      *ledger.Service
	affiliates  *affiliate.Service
	settings    SettingsProvider
	processor   processor.Processor
	reconciler  *Reconciler
	locks       locker.Locker
	refs        sequence.Generator
	archiver    ReportArchiver
	payouts     repository.Repository[AffiliatePayout]
	currency    string
	concurrency int
}

// IdempotencyKey derives the processor idempotency key from the payout id and
// the exact set of entries it pays. It is stored on the payout and re-sent
// unchanged on every retry.
func IdempotencyKey(payoutID string, entryIDs []string) string {
	ids := append([]string(nil), entryIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(payoutID + ":" + strings.Join(ids, ",")))
	return "payout_" + hex.EncodeToString(sum[:])
}

func startOfYear(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// PayoutQueue lists affiliates whose available balance reaches the payout
// minimum, largest balance first.
func (s *Service) PayoutQueue(ctx context.Context) ([]QueueItem, error) {
	ctx, span := tracer.Start(ctx, "payout.PayoutQueue")
	defer span.End()

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}

	aggregates, err := s.ledger.AvailableByAffiliate(ctx)
	if err != nil {
		return nil, err
	}

	yearStart := startOfYear(s.now())
	queue := make([]QueueItem, 0, len(aggregates))
	for _, agg := range aggregates {
		if !agg.Balance.IsPositive() || agg.Balance.LessThan(settings.PayoutMinimum) {
			continue
		}

		a, err := s.affiliates.Get(ctx, agg.AffiliateID)
		if err != nil {
			if errors.Is(err, affiliate.ErrNotFound) {
				zap.L().Warn("available entries for unknown affiliate", logger.TraceFields(ctx, zap.String("affiliate_id", agg.AffiliateID))...)
				continue
			}
			return nil, err
		}

		fee := money.Percent(agg.Balance, settings.TransactionFeePercent)
		item := QueueItem{
			AffiliateID:      a.ID,
			Slug:             a.Slug,
			Balance:          agg.Balance,
			Fee:              fee,
			Net:              agg.Balance.Sub(fee),
			EntryCount:       agg.EntryCount,
			OldestEarnedAt:   agg.OldestEarnedAt,
			DestinationReady: a.CanReceiveTransfers(),
			LastPayoutAt:     a.LastPayoutAt,
		}
		if a.LastPayoutAt != nil {
			next := a.LastPayoutAt.AddDate(0, 0, settings.PayoutCycleDays)
			item.NextPayoutAt = &next
		}

		blocked, err := s.complianceBlocked(ctx, a, agg.Balance, settings, yearStart)
		if err != nil {
			return nil, err
		}
		item.ComplianceBlocked = blocked

		queue = append(queue, item)
	}

	sort.SliceStable(queue, func(i, j int) bool {
		if !queue[i].Balance.Equal(queue[j].Balance) {
			return queue[i].Balance.GreaterThan(queue[j].Balance)
		}
		if !queue[i].OldestEarnedAt.Equal(queue[j].OldestEarnedAt) {
			return queue[i].OldestEarnedAt.Before(queue[j].OldestEarnedAt)
		}
		return queue[i].AffiliateID < queue[j].AffiliateID
	})

	span.SetAttributes(attribute.Int("queue.size", len(queue)))
	return queue, nil
}

// complianceBlocked reports whether paying gross would take the affiliate's
// year-to-date earnings past the tax form threshold without a form on file.
func (s *Service) complianceBlocked(ctx context.Context, a *affiliate.Affiliate, gross decimal.Decimal, settings *commission.PlatformSettings, yearStart time.Time) (bool, error) {
	if !settings.TaxFormThreshold.IsPositive() || a.TaxFormCompleted {
		return false, nil
	}
	ytd, err := s.ledger.PaidSince(ctx, a.ID, yearStart)
	if err != nil {
		return false, err
	}
	return ytd.Add(gross).GreaterThanOrEqual(settings.TaxFormThreshold), nil
}

// ProcessPayout pays out the affiliate's whole available balance in one
// transfer. Entries are marked paid only after the processor confirmed it.
func (s *Service) ProcessPayout(ctx context.Context, affiliateID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "payout.ProcessPayout", trace.WithAttributes(
		attribute.String("affiliate_id", affiliateID),
	))
	defer span.End()

	res, err := s.processPayout(ctx, affiliateID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		payoutsTotal.WithLabelValues(FailureReason(err)).Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.String("payout_id", res.PayoutID),
		attribute.String("transfer_id", res.TransferID),
	)
	payoutsTotal.WithLabelValues("paid").Inc()
	payoutGross.Add(float64(money.ToCents(res.Gross)))
	return res, nil
}

func (s *Service) processPayout(ctx context.Context, affiliateID string) (*Result, error) {
	unlock, err := s.locks.Lock(ctx, rediskey.BuildAffiliateLockKey(affiliateID))
	if err != nil {
		if errors.Is(err, locker.ErrLockTimeout) {
			return nil, errutil.Conflict("a payout for this affiliate is already running", err)
		}
		return nil, err
	}
	defer unlock()

	a, err := s.affiliates.Get(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	// An unsettled payout is re-sent unchanged before any new entry is paid.
	record, err := s.payouts.FindOne(ctx, &AffiliatePayout{AffiliateID: affiliateID, Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
	if err != nil {
		return nil, err
	}
	resumed := record != nil
	if !resumed {
		record, err = s.preparePayout(ctx, a)
		if err != nil {
			return nil, err
		}
	}

	fields := []zap.Field{
		zap.String("affiliate_id", affiliateID),
		zap.String("payout_id", record.ID),
		zap.String("reference", record.Reference),
		zap.String("idempotency_key", record.IdempotencyKey),
		zap.String("gross", record.Amount.String()),
		zap.String("fee", record.FeeAmount.String()),
		zap.String("net", record.NetAmount.String()),
		zap.Int("entries", record.EntryCount),
		zap.Bool("resumed", resumed),
	}

	reservation, err := s.reconciler.EnsureFundsAvailable(ctx, record.IdempotencyKey, record.NetAmount)
	if err != nil {
		return nil, err
	}
	defer reservation.Release(context.WithoutCancel(ctx))

	if !resumed {
		if err := s.openPayout(ctx, record); err != nil {
			return nil, err
		}
	}

	attemptAt := s.now().UTC()
	if err := s.payouts.Update(ctx, record.ID, map[string]any{
		"attempts":        gorm.Expr("attempts + ?", 1),
		"last_attempt_at": attemptAt,
	}); err != nil {
		return nil, err
	}
	record.Attempts++

	transfer, err := s.processor.Transfer(ctx, &processor.TransferRequest{
		Amount:         record.NetAmount,
		Currency:       record.Currency,
		Destination:    record.Destination,
		IdempotencyKey: record.IdempotencyKey,
		Description:    "Affiliate payout " + record.Reference,
		Metadata: map[string]string{
			"affiliate_id": affiliateID,
			"payout_id":    record.ID,
			"reference":    record.Reference,
			"entry_count":  fmt.Sprint(record.EntryCount),
		},
	})
	if err != nil {
		err = transferError(err)
		zap.L().Warn("payout transfer failed", logger.TraceFields(ctx, append(fields,
			zap.Int("attempts", record.Attempts), zap.Error(err))...)...)
		if definitelyRejected(err) {
			s.abandonPayout(ctx, record, FailureReason(err))
		}
		return nil, err
	}

	paidAt := s.now().UTC()

	// The transfer has settled; the commit must not be abandoned with the request.
	commitCtx := context.WithoutCancel(ctx)
	err = s.db.WithContext(commitCtx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.affiliates.GetForUpdate(commitCtx, tx, affiliateID)
		if err != nil {
			return err
		}

		paid, err := s.ledger.MarkPaid(commitCtx, tx, record.EntryIDs, record.ID, paidAt)
		if err != nil {
			return err
		}
		if sum := ledger.SumAmounts(paid); !sum.Equal(record.Amount) {
			return fmt.Errorf("paid entries sum to %s, payout gross is %s", sum, record.Amount)
		}

		res := tx.Model(&AffiliatePayout{}).
			Where("id = ? AND status = ?", record.ID, StatusPending).
			Updates(map[string]any{
				"status":         StatusPaid,
				"transfer_id":    transfer.ID,
				"paid_at":        paidAt,
				"failure_reason": "",
				"updated_at":     paidAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("payout %s is no longer pending", record.ID)
		}
		return s.affiliates.RecordPayout(commitCtx, tx, locked, record.Amount, paidAt)
	})
	if err != nil {
		zap.L().Error("transfer settled but ledger commit failed",
			logger.TraceFields(ctx, append(fields, zap.String("transfer_id", transfer.ID), zap.Error(err))...)...)
		return nil, errutil.Internal("payout transfer settled but could not be recorded", fmt.Errorf("%w: %w", ErrIntegrity, err))
	}

	s.ledger.InvalidateBalance(commitCtx, affiliateID)

	zap.L().Info("payout settled", logger.TraceFields(ctx, append(fields,
		zap.String("transfer_id", transfer.ID),
		zap.Int("attempts", record.Attempts),
	)...)...)

	return &Result{
		PayoutID:    record.ID,
		Reference:   record.Reference,
		AffiliateID: affiliateID,
		Gross:       record.Amount,
		Fee:         record.FeeAmount,
		Net:         record.NetAmount,
		Currency:    record.Currency,
		TransferID:  transfer.ID,
		EntryIDs:    []string(record.EntryIDs),
		PaidAt:      paidAt,
		Resumed:     resumed,
	}, nil
}

// preparePayout checks eligibility and prices the affiliate's unclaimed
// available entries. Nothing is written.
func (s *Service) preparePayout(ctx context.Context, a *affiliate.Affiliate) (*AffiliatePayout, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.ledger.PayableEntries(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	gross := ledger.SumAmounts(entries)

	if !gross.IsPositive() || gross.LessThan(settings.PayoutMinimum) {
		return nil, errutil.UnprocessableEntity(
			fmt.Sprintf("available balance %s is below the payout minimum %s", gross, settings.PayoutMinimum),
			ErrBelowMinimum,
		)
	}
	if !a.CanReceiveTransfers() {
		return nil, errutil.UnprocessableEntity("payout destination is not verified", ErrDestinationNotVerified)
	}
	blocked, err := s.complianceBlocked(ctx, a, gross, settings, startOfYear(s.now()))
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, errutil.UnprocessableEntity("tax form required before this payout", ErrComplianceBlocked)
	}

	fee := money.Percent(gross, settings.TransactionFeePercent)
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return nil, errutil.UnprocessableEntity("net payout after fees is not positive", ErrBelowMinimum)
	}

	entryIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		entryIDs = append(entryIDs, e.ID)
	}
	sort.Strings(entryIDs)

	reference, err := s.refs.Next(ctx, sequence.PrefixPayout)
	if err != nil {
		return nil, fmt.Errorf("payout reference: %w", err)
	}

	id := s.node.Generate().String()
	return &AffiliatePayout{
		ID:             id,
		Reference:      reference,
		AffiliateID:    a.ID,
		Amount:         gross,
		FeeAmount:      fee,
		NetAmount:      net,
		Currency:       s.currency,
		Destination:    a.PayoutAccountID,
		Status:         StatusPending,
		IdempotencyKey: IdempotencyKey(id, entryIDs),
		EntryIDs:       datatypes.JSONSlice[string](entryIDs),
		EntryCount:     len(entryIDs),
	}, nil
}

// openPayout persists the pending payout and claims its entries in one
// transaction, before the processor is called.
func (s *Service) openPayout(ctx context.Context, record *AffiliatePayout) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.affiliates.GetForUpdate(ctx, tx, record.AffiliateID); err != nil {
			return err
		}
		if err := s.ledger.ClaimEntries(ctx, tx, record.EntryIDs, record.ID); err != nil {
			return err
		}
		return s.payouts.WithTrx(tx).Create(ctx, record)
	})
}

// abandonPayout cancels a pending payout the processor definitely refused and
// returns its entries to the available pool.
func (s *Service) abandonPayout(ctx context.Context, record *AffiliatePayout, reason string) {
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AffiliatePayout{}).
			Where("id = ? AND status = ?", record.ID, StatusPending).
			Updates(map[string]any{
				"status":         StatusCancelled,
				"failure_reason": reason,
				"cancelled_at":   now,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		_, err := s.ledger.ReleaseClaims(ctx, tx, record.ID)
		return err
	})
	if err != nil {
		zap.L().Error("failed to cancel rejected payout", logger.TraceFields(ctx,
			zap.String("payout_id", record.ID), zap.Error(err))...)
		return
	}
	record.Status = StatusCancelled
	record.FailureReason = reason
	record.CancelledAt = &now
}

// definitelyRejected reports whether the processor refused the transfer in a
// way that proves it was never executed under this key.
func definitelyRejected(err error) bool {
	return errors.Is(err, processor.ErrRejected) || errors.Is(err, processor.ErrInsufficientFunds)
}

func transferError(err error) error {
	switch {
	case errors.Is(err, processor.ErrInsufficientFunds):
		return errutil.UnprocessableEntity("processor reported insufficient platform balance",
			fmt.Errorf("%w: %w", ErrInsufficientPlatformBalance, err))
	case errors.Is(err, processor.ErrRejected):
		return errutil.UnprocessableEntity("processor rejected the transfer", err)
	default:
		return errutil.BadGateway("payout transfer did not complete", err)
	}
}

// BulkProcessPayouts runs ProcessPayout for each id with bounded parallelism.
// With no ids it pays every queued affiliate whose destination is ready.
func (s *Service) BulkProcessPayouts(ctx context.Context, affiliateIDs []string) (*BulkResult, error) {
	ctx, span := tracer.Start(ctx, "payout.BulkProcessPayouts")
	defer span.End()

	if len(affiliateIDs) == 0 {
		queue, err := s.PayoutQueue(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range queue {
			if item.DestinationReady && !item.ComplianceBlocked {
				affiliateIDs = append(affiliateIDs, item.AffiliateID)
			}
		}
	}

	runID, err := s.refs.Next(ctx, sequence.PrefixRun)
	if err != nil {
		runID = s.node.Generate().String()
	}

	result := &BulkResult{
		RunID:      runID,
		StartedAt:  s.now().UTC(),
		TotalGross: decimal.Zero,
		TotalNet:   decimal.Zero,
		Items:      make([]BulkItem, len(affiliateIDs)),
	}

	var g errgroup.Group
	g.SetLimit(max(s.concurrency, 1))
	for i, id := range affiliateIDs {
		g.Go(func() error {
			item := BulkItem{AffiliateID: id}
			res, err := s.ProcessPayout(ctx, id)
			if err != nil {
				item.Reason = FailureReason(err)
				item.Error = err.Error()
			} else {
				item.Success = true
				item.Result = res
			}
			result.Items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range result.Items {
		if !item.Success {
			result.Failed++
			continue
		}
		result.Successful++
		result.TotalGross = result.TotalGross.Add(item.Result.Gross)
		result.TotalNet = result.TotalNet.Add(item.Result.Net)
	}
	result.FinishedAt = s.now().UTC()

	span.SetAttributes(
		attribute.String("run_id", result.RunID),
		attribute.Int("payouts.successful", result.Successful),
		attribute.Int("payouts.failed", result.Failed),
	)
	zap.L().Info("bulk payout finished", logger.TraceFields(ctx,
		zap.String("run_id", result.RunID),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.String("total_gross", result.TotalGross.String()),
	)...)

	if err := s.archiver.Archive(context.WithoutCancel(ctx), result); err != nil {
		zap.L().Warn("failed to archive payout run", logger.TraceFields(ctx, zap.String("run_id", result.RunID), zap.Error(err))...)
	}
	return result, nil
}

// Payouts lists the affiliate's payouts, newest first.
func (s *Service) Payouts(ctx context.Context, affiliateID string) ([]*AffiliatePayout, error) {
	return s.payouts.Find(ctx, &AffiliatePayout{AffiliateID: affiliateID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}))
}

func (s *Service) Get(ctx context.Context, id string) (*AffiliatePayout, error) {
	p, err := s.payouts.FindOne(ctx, &AffiliatePayout{ID: id})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound(fmt.Sprintf("payout %s not found", id), nil)
	}
	return p, nil
}
