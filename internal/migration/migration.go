// Package migration applies the engine's schema. AutoMigrate keeps the
// sqlite and postgres shapes in lockstep from the model definitions;
// it must be run explicitly by the migrate entrypoint before serving.
package migration

import (
	apikeydomain "github.com/meterwise/meterwise/internal/apikey/domain"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	invoicedomain "github.com/meterwise/meterwise/internal/invoice/domain"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	plandomain "github.com/meterwise/meterwise/internal/plan/domain"
	"github.com/meterwise/meterwise/internal/scheduler"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&apikeydomain.ApiKey{},
		&customerdomain.Customer{},
		&plandomain.PlanVersion{},
		&plandomain.PlanFeature{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Phase{},
		&usagedomain.Record{},
		&usagedomain.Counter{},
		&invoicedomain.Invoice{},
		&paymentdomain.PaymentMethod{},
		&scheduler.JobRun{},
	)
	if err != nil {
		return err
	}

	log.Named("migration").Info("schema migrated")
	return nil
}
