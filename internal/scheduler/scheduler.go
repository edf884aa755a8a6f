// Package scheduler drives the periodic billing-cycle jobs: trial
// expiry and recurring invoicing. Jobs run concurrently with live
// traffic, take no lock over the ledger, and are idempotent per
// subscription so overlapping schedule triggers are harmless.
package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	"github.com/meterwise/meterwise/internal/config"
	invoicedomain "github.com/meterwise/meterwise/internal/invoice/domain"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.SchedulerConfig
	genID *snowflake.Node
	clock clock.Clock

	subSvc     subscriptiondomain.Service
	invoiceSvc invoicedomain.Service
}

type Param struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	GenID  *snowflake.Node
	Clock  clock.Clock

	SubSvc     subscriptiondomain.Service
	InvoiceSvc invoicedomain.Service
}

func New(p Param) *Scheduler {
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.Scheduler,
		genID:      p.GenID,
		clock:      p.Clock,
		subSvc:     p.SubSvc,
		invoiceSvc: p.InvoiceSvc,
	}
}

// RunForever ticks each job on its own interval until ctx is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	trialTicker := time.NewTicker(s.cfg.TrialInterval)
	billingTicker := time.NewTicker(s.cfg.BillingInterval)
	defer trialTicker.Stop()
	defer billingTicker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("trial_interval", s.cfg.TrialInterval),
		zap.Duration("billing_interval", s.cfg.BillingInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-trialTicker.C:
			if err := s.TrialExpiryJob(ctx); err != nil {
				s.log.Error("trial expiry job failed", zap.Error(err))
			}
		case <-billingTicker.C:
			if err := s.RecurringBillingJob(ctx); err != nil {
				s.log.Error("recurring billing job failed", zap.Error(err))
			}
		}
	}
}
