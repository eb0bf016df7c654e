package affiliate

import (
	"payout-engine/pkg/config"
	"payout-engine/pkg/db"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("affiliate.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.Migrate(conn, &Affiliate{})
}
