package migration

import (
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	"github.com/smallbiznis/faktur/internal/config"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
	"github.com/smallbiznis/faktur/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// Versioned migrations target postgres. Other dialects (the
		// sqlite dev setup) build their schema through AutoMigrate.
		if cfg.DBType != "postgres" {
			log.Warn("skipping sql migrations for non-postgres database",
				zap.String("db_type", cfg.DBType),
			)
			err := conn.AutoMigrate(
				&accountdomain.Account{},
				&clientdomain.Client{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceItem{},
				&invoicedomain.InvoiceEvent{},
				&paymentdomain.WebhookEvent{},
			)
			if err != nil {
				return err
			}
			return seed.EnsureDefaultAccount(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		return seed.EnsureDefaultAccount(conn)
	}),
)
