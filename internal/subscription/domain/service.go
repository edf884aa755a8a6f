package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Transition moves the subscription to a new status and evicts the
	// owning customer's cached entitlements.
	Transition(ctx context.Context, id snowflake.ID, status SubscriptionStatus, reason TransitionReason) error

	// DueTrials lists trialing subscriptions whose trial ended at or
	// before now.
	DueTrials(ctx context.Context, now time.Time) ([]Subscription, error)

	// DueRecurring lists active recurring subscriptions whose next
	// billing timestamp has passed and which have not been billed for
	// the current cycle yet. Safe to call on overlapping schedules.
	DueRecurring(ctx context.Context, now time.Time) ([]Subscription, error)

	// AdvanceBillingCycle stamps last_billed_at and moves next_billing_at
	// forward one cycle.
	AdvanceBillingCycle(ctx context.Context, id snowflake.ID, now time.Time) error
}

var (
	ErrNoActivePhase        = errors.New("no_active_phase")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidStatus        = errors.New("invalid_subscription_status")
)
