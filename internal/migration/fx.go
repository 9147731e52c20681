package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/tably/internal/config"
	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	receiptdomain "github.com/smallbiznis/tably/internal/receipt/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// mysql and sqlite deployments fall back to gorm's schema sync.
		return conn.AutoMigrate(
			&receiptdomain.Receipt{},
			&receiptdomain.ReceiptItem{},
			&receiptdomain.ReceiptParticipant{},
			&receiptdomain.ReceiptPayment{},
			&ledgerdomain.LedgerEntry{},
		)
	}),
)
