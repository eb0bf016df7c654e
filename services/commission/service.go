package commission

import (
	"context"
	"encoding/json"
	"time"

	"payout-engine/pkg/db/option"
	"payout-engine/pkg/errutil"
	"payout-engine/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("payout-engine/services/commission")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	settings repository.Repository[PlatformSettings]
	audits   repository.Repository[SettingsAudit]
	cache    *settingsCache
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		settings: repository.ProvideStore[PlatformSettings](p.DB),
		audits:   repository.ProvideStore[SettingsAudit](p.DB),
		cache:    newSettingsCache(time.Minute),
	}
}

// Settings returns the current settings, or the defaults when none were saved.
func (s *Service) Settings(ctx context.Context) (*PlatformSettings, error) {
	if cached, ok := s.cache.get(); ok {
		return cached, nil
	}

	v, err, _ := s.cache.group.Do(SettingsID, func() (any, error) {
		row, err := s.settings.FindOne(ctx, &PlatformSettings{ID: SettingsID})
		if err != nil {
			return nil, err
		}
		if row == nil {
			row = DefaultSettings()
		}
		s.cache.set(row)
		return row, nil
	})
	if err != nil {
		zap.L().Error("failed to load platform settings", zap.Error(err))
		return nil, err
	}

	cp := *v.(*PlatformSettings)
	return &cp, nil
}

// SettingsTx reads the settings inside tx, bypassing the cache.
func (s *Service) SettingsTx(ctx context.Context, tx *gorm.DB) (*PlatformSettings, error) {
	row, err := s.settings.WithTrx(tx).FindOne(ctx, &PlatformSettings{ID: SettingsID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return DefaultSettings(), nil
	}
	return row, nil
}

// UpdateSettings is the only mutation path for PlatformSettings. The change and
// its audit row are committed together.
func (s *Service) UpdateSettings(ctx context.Context, actor string, in SettingsInput) (*PlatformSettings, error) {
	ctx, span := tracer.Start(ctx, "commission.UpdateSettings")
	defer span.End()

	if actor == "" {
		return nil, errutil.BadRequest("actor is required", nil)
	}

	var updated *PlatformSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.settings.WithTrx(tx).FindOne(ctx, &PlatformSettings{ID: SettingsID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		exists := current != nil
		if !exists {
			current = DefaultSettings()
		}

		before, err := json.Marshal(current)
		if err != nil {
			return err
		}

		next := *current
		in.apply(&next)
		next.UpdatedBy = actor
		if err := next.Validate(); err != nil {
			return err
		}

		if exists {
			if err := tx.Save(&next).Error; err != nil {
				return err
			}
		} else {
			if err := s.settings.WithTrx(tx).Create(ctx, &next); err != nil {
				return err
			}
		}

		after, err := json.Marshal(next)
		if err != nil {
			return err
		}

		if err := s.audits.WithTrx(tx).Create(ctx, &SettingsAudit{
			ID:     s.node.Generate().String(),
			Actor:  actor,
			Before: datatypes.JSON(before),
			After:  datatypes.JSON(after),
		}); err != nil {
			return err
		}

		updated = &next
		return nil
	})
	if err != nil {
		zap.L().Error("failed to update platform settings", zap.String("actor", actor), zap.Error(err))
		return nil, err
	}

	s.cache.invalidate()
	zap.L().Info("platform settings updated",
		zap.String("actor", actor),
		zap.String("low", updated.LowCommission.String()),
		zap.String("med", updated.MedCommission.String()),
		zap.String("high", updated.HighCommission.String()),
		zap.Int("refund_hold_days", updated.RefundHoldDays),
	)
	return updated, nil
}

func (s *Service) Audits(ctx context.Context, limit int) ([]*SettingsAudit, error) {
	return s.audits.Find(ctx, nil,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
}
