package migration

import (
	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	"github.com/smallbiznis/erpsync/internal/config"
	"github.com/smallbiznis/erpsync/internal/scheduler"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
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

		// sqlite keeps the out-of-the-box local setup working without a
		// migration driver.
		return conn.AutoMigrate(
			&tenantdomain.Tenant{},
			&classifierdomain.ClassificationRule{},
			&syncdomain.VendorOrderHeader{},
			&syncdomain.VendorOrderLine{},
			&syncdomain.VendorCustomer{},
			&syncdomain.VendorProduct{},
			&syncdomain.VendorStock{},
			&syncdomain.ExecutionResult{},
			&syncdomain.ClassificationLogEntry{},
			&scheduler.JobDefinition{},
		)
	}),
)
