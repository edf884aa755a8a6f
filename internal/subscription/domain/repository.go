package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindCurrentByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID, statuses []SubscriptionStatus) (*Subscription, error)
	FindActivePhase(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) (*Phase, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, now time.Time) error
	ListDueTrials(ctx context.Context, db *gorm.DB, now time.Time) ([]Subscription, error)
	ListDueRecurring(ctx context.Context, db *gorm.DB, now time.Time) ([]Subscription, error)
	AdvanceBillingCycle(ctx context.Context, db *gorm.DB, id snowflake.ID, lastBilled, nextBilling time.Time) error
}
