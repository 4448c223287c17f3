package migration

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if !cfg.MigrateOnStart {
			log.Info("migrations skipped")
			return nil
		}

		if strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			log.Info("migrations applied", zap.String("source", "embedded"))
			return nil
		}

		if err := conn.AutoMigrate(Models()...); err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("source", "models"), zap.String("dialect", cfg.DBType))
		return nil
	}),
)
