package scheduler

import (
	"context"

	invoicedomain "github.com/meterwise/meterwise/internal/invoice/domain"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	"go.uber.org/zap"
)

// TrialExpiryJob converts expired trials: invoice the first cycle,
// attempt the charge, and transition to active or past_due. The status
// transition evicts the customer's cached entitlements, so the next
// can() sees the new subscription state. One bad subscription never
// aborts the batch.
func (s *Scheduler) TrialExpiryJob(ctx context.Context) error {
	run := s.startRun(ctx, "trial_expiry")
	defer s.finishRun(ctx, run)

	now := s.clock.Now(ctx)
	subs, err := s.subSvc.DueTrials(ctx, now)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := s.expireTrial(ctx, sub); err != nil {
			s.log.Error("trial expiry failed for subscription",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
			run.Failed++
			continue
		}
		run.Processed++
	}
	return nil
}

func (s *Scheduler) expireTrial(ctx context.Context, sub subscriptiondomain.Subscription) error {
	cycleStart := *sub.TrialEndsAt
	cycleEnd := cycleStart.AddDate(0, 1, 0)

	invoice, created, err := s.invoiceSvc.CreateForCycle(ctx, invoicedomain.SubscriptionRef{
		ID:         sub.ID,
		CustomerID: sub.CustomerID,
	}, cycleStart, cycleEnd)
	if err != nil {
		return err
	}

	status := invoice.Status
	if created || status == invoicedomain.InvoiceStatusPending {
		status, err = s.invoiceSvc.AttemptCharge(ctx, invoice)
		if err != nil {
			return err
		}
	}

	target := subscriptiondomain.SubscriptionStatusPastDue
	reason := subscriptiondomain.TransitionReasonPaymentFailed
	if status == invoicedomain.InvoiceStatusPaid {
		target = subscriptiondomain.SubscriptionStatusActive
		reason = subscriptiondomain.TransitionReasonTrialConverted
	}

	if err := s.subSvc.Transition(ctx, sub.ID, target, reason); err != nil {
		return err
	}

	if target == subscriptiondomain.SubscriptionStatusActive {
		return s.subSvc.AdvanceBillingCycle(ctx, sub.ID, cycleStart)
	}
	return nil
}

// RecurringBillingJob invoices active recurring subscriptions whose
// next-billing timestamp has passed. Selection excludes subscriptions
// already advanced past the current cycle and the invoice insert is
// idempotent per (subscription, cycle), so re-runs cannot double-bill.
func (s *Scheduler) RecurringBillingJob(ctx context.Context) error {
	run := s.startRun(ctx, "recurring_billing")
	defer s.finishRun(ctx, run)

	now := s.clock.Now(ctx)
	subs, err := s.subSvc.DueRecurring(ctx, now)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := s.billSubscription(ctx, sub); err != nil {
			s.log.Error("recurring billing failed for subscription",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
			run.Failed++
			continue
		}
		run.Processed++
	}
	return nil
}

func (s *Scheduler) billSubscription(ctx context.Context, sub subscriptiondomain.Subscription) error {
	cycleStart := *sub.NextBillingAt
	cycleEnd := cycleStart.AddDate(0, 1, 0)

	invoice, created, err := s.invoiceSvc.CreateForCycle(ctx, invoicedomain.SubscriptionRef{
		ID:         sub.ID,
		CustomerID: sub.CustomerID,
	}, cycleStart, cycleEnd)
	if err != nil {
		return err
	}

	if created || invoice.Status == invoicedomain.InvoiceStatusPending {
		status, err := s.invoiceSvc.AttemptCharge(ctx, invoice)
		if err != nil {
			return err
		}
		if status == invoicedomain.InvoiceStatusFailed {
			if err := s.subSvc.Transition(ctx, sub.ID, subscriptiondomain.SubscriptionStatusPastDue, subscriptiondomain.TransitionReasonPaymentFailed); err != nil {
				return err
			}
		}
	}

	// Advance regardless of charge outcome; the cycle was billed and
	// must not be selected again.
	return s.subSvc.AdvanceBillingCycle(ctx, sub.ID, cycleStart)
}
