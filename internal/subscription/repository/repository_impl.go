package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, project_id, customer_id, status, trial_ends_at, next_billing_at, last_billed_at, created_at, updated_at
		 FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindCurrentByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID, statuses []subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, project_id, customer_id, status, trial_ends_at, next_billing_at, last_billed_at, created_at, updated_at
		 FROM subscriptions
		 WHERE customer_id = ? AND status IN ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		customerID,
		statuses,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindActivePhase(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) (*subscriptiondomain.Phase, error) {
	var phase subscriptiondomain.Phase
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, plan_version_id, start_at, end_at, created_at
		 FROM subscription_phases
		 WHERE subscription_id = ?
		   AND start_at <= ?
		   AND (end_at IS NULL OR end_at > ?)
		 ORDER BY start_at DESC
		 LIMIT 1`,
		subscriptionID,
		at,
		at,
	).Scan(&phase).Error
	if err != nil {
		return nil, err
	}
	if phase.ID == 0 {
		return nil, nil
	}
	return &phase, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) ListDueTrials(ctx context.Context, db *gorm.DB, now time.Time) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, project_id, customer_id, status, trial_ends_at, next_billing_at, last_billed_at, created_at, updated_at
		 FROM subscriptions
		 WHERE status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?`,
		subscriptiondomain.SubscriptionStatusTrialing,
		now,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// ListDueRecurring excludes subscriptions already billed for the current
// cycle, so overlapping scheduler runs select nothing twice.
func (r *repo) ListDueRecurring(ctx context.Context, db *gorm.DB, now time.Time) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT s.id, s.project_id, s.customer_id, s.status, s.trial_ends_at, s.next_billing_at, s.last_billed_at, s.created_at, s.updated_at
		 FROM subscriptions s
		 JOIN subscription_phases p
		   ON p.subscription_id = s.id
		  AND p.start_at <= ?
		  AND (p.end_at IS NULL OR p.end_at > ?)
		 JOIN plan_versions v ON v.id = p.plan_version_id
		 WHERE s.status = ?
		   AND v.cadence = ?
		   AND s.next_billing_at IS NOT NULL
		   AND s.next_billing_at <= ?
		   AND (s.last_billed_at IS NULL OR s.last_billed_at < s.next_billing_at)`,
		now,
		now,
		subscriptiondomain.SubscriptionStatusActive,
		"recurring",
		now,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) AdvanceBillingCycle(ctx context.Context, db *gorm.DB, id snowflake.ID, lastBilled, nextBilling time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET last_billed_at = ?, next_billing_at = ?, updated_at = ?
		 WHERE id = ?`,
		lastBilled,
		nextBilling,
		lastBilled,
		id,
	).Error
}
