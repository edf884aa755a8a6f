package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type Subscription struct {
	ID         snowflake.ID       `gorm:"primaryKey"`
	ProjectID  snowflake.ID       `gorm:"not null;index"`
	CustomerID snowflake.ID       `gorm:"not null;index"`
	Status     SubscriptionStatus `gorm:"type:text;not null;index"`

	TrialEndsAt   *time.Time `gorm:"index"`
	NextBillingAt *time.Time `gorm:"index"`
	LastBilledAt  *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Phase binds a subscription to a plan version over a time window.
// At most one phase is active (start <= now < end-or-null) per
// subscription at any instant.
type Phase struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	PlanVersionID  snowflake.ID `gorm:"not null"`
	StartAt        time.Time    `gorm:"not null;index"`
	EndAt          *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Phase) TableName() string { return "subscription_phases" }

type TransitionReason string

const (
	TransitionReasonTrialConverted TransitionReason = "trial_converted"
	TransitionReasonPaymentFailed  TransitionReason = "payment_failed"
	TransitionReasonCanceled       TransitionReason = "canceled"
)
