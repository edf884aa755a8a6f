package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	evictor entitlementdomain.Evictor
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Evictor entitlementdomain.Evictor
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		evictor: p.Evictor,
	}
}

// Transition implements domain.Service. The status write and the cache
// eviction are ordered so the next can() recomputes from the new state.
func (s *Service) Transition(ctx context.Context, id snowflake.ID, status subscriptiondomain.SubscriptionStatus, reason subscriptiondomain.TransitionReason) error {
	switch status {
	case subscriptiondomain.SubscriptionStatusTrialing,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusPastDue,
		subscriptiondomain.SubscriptionStatusCanceled:
	default:
		return subscriptiondomain.ErrInvalidStatus
	}

	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now(ctx)
	if err := s.repo.UpdateStatus(ctx, s.db, id, status, now); err != nil {
		return err
	}

	s.evictor.EvictCustomer(sub.CustomerID)

	s.log.Info("subscription transitioned",
		zap.String("subscription_id", id.String()),
		zap.String("customer_id", sub.CustomerID.String()),
		zap.String("status", string(status)),
		zap.String("reason", string(reason)),
	)
	return nil
}

func (s *Service) DueTrials(ctx context.Context, now time.Time) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListDueTrials(ctx, s.db, now)
}

func (s *Service) DueRecurring(ctx context.Context, now time.Time) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListDueRecurring(ctx, s.db, now)
}

func (s *Service) AdvanceBillingCycle(ctx context.Context, id snowflake.ID, now time.Time) error {
	next := now.AddDate(0, 1, 0)
	return s.repo.AdvanceBillingCycle(ctx, s.db, id, now, next)
}
