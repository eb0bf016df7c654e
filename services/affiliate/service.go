package affiliate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payout-engine/pkg/db/option"
	"payout-engine/pkg/errutil"
	"payout-engine/pkg/repository"
	"payout-engine/services/commission"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("affiliate not found")
	ErrNotActive     = errors.New("affiliate is not active")
	ErrAlreadyExists = errors.New("affiliate already exists for user")
)

// SettingsProvider exposes the current platform settings.
type SettingsProvider interface {
	Settings(ctx context.Context) (*commission.PlatformSettings, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	affiliates repository.Repository[Affiliate]
	settings   SettingsProvider
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Settings *commission.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		affiliates: repository.ProvideStore[Affiliate](p.DB),
		settings:   p.Settings,
	}
}

func notFound(id string) error {
	return errutil.NotFound(fmt.Sprintf("affiliate %s not found", id), ErrNotFound)
}

// Apply registers the user as an affiliate with a unique slug.
func (s *Service) Apply(ctx context.Context, p ApplyParams) (*Affiliate, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	if p.CommissionLevel != nil && !p.CommissionLevel.Valid() {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown commission level %q", *p.CommissionLevel), nil)
	}

	exist, err := s.affiliates.FindOne(ctx, &Affiliate{UserID: p.UserID})
	if err != nil {
		return nil, err
	}
	if exist != nil {
		return nil, errutil.Conflict("user already has an affiliate account", ErrAlreadyExists)
	}

	code, err := s.uniqueSlug(ctx, p.DisplayName, p.UserID)
	if err != nil {
		return nil, err
	}

	a := &Affiliate{
		ID:                  s.node.Generate().String(),
		UserID:              p.UserID,
		Status:              StatusPending,
		Slug:                code,
		CommissionLevel:     p.CommissionLevel,
		PayoutAccountStatus: AccountPending,
		TotalEarnings:       decimal.Zero,
		TotalPaid:           decimal.Zero,
	}

	if err := s.affiliates.Create(ctx, a); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("affiliate already exists", ErrAlreadyExists)
		}
		zap.L().Error("failed to create affiliate", zap.String("user_id", p.UserID), zap.Error(err))
		return nil, err
	}

	zap.L().Info("affiliate applied", zap.String("affiliate_id", a.ID), zap.String("slug", a.Slug))

	if p.AutoApprove {
		return s.Approve(ctx, a.ID)
	}
	return a, nil
}

func (s *Service) uniqueSlug(ctx context.Context, name, fallback string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = slug.Make(fallback)
	}
	if base == "" {
		base = "affiliate"
	}

	candidate := base
	for i := 0; i < 5; i++ {
		exist, err := s.affiliates.FindOne(ctx, &Affiliate{Slug: candidate})
		if err != nil {
			return "", err
		}
		if exist == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%s", base, s.node.Generate().Base36())
	}
	return "", errutil.Conflict("could not allocate a unique slug", nil)
}

func (s *Service) Get(ctx context.Context, id string) (*Affiliate, error) {
	a, err := s.affiliates.FindOne(ctx, &Affiliate{ID: id})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, notFound(id)
	}
	return a, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (*Affiliate, error) {
	a, err := s.affiliates.FindOne(ctx, &Affiliate{UserID: userID})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errutil.NotFound("affiliate not found for user", ErrNotFound)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, status Status) ([]*Affiliate, error) {
	return s.affiliates.Find(ctx, &Affiliate{Status: status},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
}

// GetForUpdate loads and row-locks the affiliate inside tx.
func (s *Service) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Affiliate, error) {
	a, err := s.affiliates.WithTrx(tx).FindOne(ctx, &Affiliate{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, notFound(id)
	}
	return a, nil
}

// Approve activates the affiliate and locks its commission rate if none was
// locked before. A locked rate is never overwritten.
func (s *Service) Approve(ctx context.Context, id string) (*Affiliate, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}

	var out *Affiliate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]any{"status": StatusActive}
		if a.ApprovedAt == nil {
			updates["approved_at"] = now
			a.ApprovedAt = &now
		}
		if a.LockedCommissionRate == nil {
			level := settings.DefaultCommissionLevel
			if a.CommissionLevel != nil && a.CommissionLevel.Valid() {
				level = *a.CommissionLevel
			}
			rate := commission.RateForLevel(level, settings)
			updates["locked_commission_rate"] = rate
			a.LockedCommissionRate = &rate
		}

		if err := s.affiliates.WithTrx(tx).Update(ctx, a.ID, updates); err != nil {
			return err
		}
		a.Status = StatusActive
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("affiliate approved",
		zap.String("affiliate_id", out.ID),
		zap.String("locked_rate", out.LockedCommissionRate.String()),
	)
	return out, nil
}

func (s *Service) Reject(ctx context.Context, id string) (*Affiliate, error) {
	return s.update(ctx, id, map[string]any{"status": StatusRejected})
}

// SetCustomRate sets or, with nil, clears the admin override rate.
func (s *Service) SetCustomRate(ctx context.Context, id string, rate *decimal.Decimal) (*Affiliate, error) {
	if rate != nil && (rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100))) {
		return nil, errutil.ValidationFailed("custom rate must be between 0 and 100", nil)
	}
	var value any
	if rate != nil {
		value = *rate
	}
	return s.update(ctx, id, map[string]any{"custom_commission_rate": value})
}

func (s *Service) SetCommissionLevel(ctx context.Context, id string, level commission.Level) (*Affiliate, error) {
	if !level.Valid() {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown commission level %q", level), nil)
	}
	return s.update(ctx, id, map[string]any{"commission_level": level})
}

// SetPayoutAccount attaches a processor account; it stays pending until verified.
func (s *Service) SetPayoutAccount(ctx context.Context, id, accountID string) (*Affiliate, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, errutil.BadRequest("payout account id is required", nil)
	}
	return s.update(ctx, id, map[string]any{
		"payout_account_id":     accountID,
		"payout_account_status": AccountPending,
	})
}

func (s *Service) MarkPayoutAccountStatus(ctx context.Context, id string, status PayoutAccountStatus) (*Affiliate, error) {
	switch status {
	case AccountPending, AccountActive, AccountRestricted:
	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unknown payout account status %q", status), nil)
	}
	return s.update(ctx, id, map[string]any{"payout_account_status": status})
}

func (s *Service) MarkTaxFormCompleted(ctx context.Context, id string, completed bool) (*Affiliate, error) {
	return s.update(ctx, id, map[string]any{"tax_form_completed": completed})
}

func (s *Service) update(ctx context.Context, id string, updates map[string]any) (*Affiliate, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.affiliates.Update(ctx, a.ID, updates); err != nil {
		zap.L().Error("failed to update affiliate", zap.String("affiliate_id", id), zap.Error(err))
		return nil, err
	}
	return s.Get(ctx, id)
}

// AddEarnings adjusts the denormalized earnings counter inside tx. The caller
// must hold the row lock.
func (s *Service) AddEarnings(ctx context.Context, tx *gorm.DB, a *Affiliate, delta decimal.Decimal) error {
	total := a.TotalEarnings.Add(delta)
	if total.IsNegative() {
		total = decimal.Zero
	}
	if err := s.affiliates.WithTrx(tx).Update(ctx, a.ID, map[string]any{"total_earnings": total}); err != nil {
		return err
	}
	a.TotalEarnings = total
	return nil
}

// RecordPayout moves paid totals forward after a settled transfer.
func (s *Service) RecordPayout(ctx context.Context, tx *gorm.DB, a *Affiliate, gross decimal.Decimal, at time.Time) error {
	total := a.TotalPaid.Add(gross)
	if err := s.affiliates.WithTrx(tx).Update(ctx, a.ID, map[string]any{
		"total_paid":     total,
		"last_payout_at": at,
	}); err != nil {
		return err
	}
	a.TotalPaid = total
	a.LastPayoutAt = &at
	return nil
}

// SetTotals overwrites both counters with values recomputed from the ledger.
func (s *Service) SetTotals(ctx context.Context, tx *gorm.DB, id string, earnings, paid decimal.Decimal) error {
	return s.affiliates.WithTrx(tx).Update(ctx, id, map[string]any{
		"total_earnings": earnings,
		"total_paid":     paid,
	})
}
