package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/meterwise/meterwise/internal/config"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	invoicedomain "github.com/meterwise/meterwise/internal/invoice/domain"
	invoiceservice "github.com/meterwise/meterwise/internal/invoice/service"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	paymentrepository "github.com/meterwise/meterwise/internal/payment/repository"
	plandomain "github.com/meterwise/meterwise/internal/plan/domain"
	"github.com/meterwise/meterwise/internal/scheduler"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	subscriptionrepository "github.com/meterwise/meterwise/internal/subscription/repository"
	subscriptionservice "github.com/meterwise/meterwise/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now(context.Context) time.Time { return c.now }

type recordingEvictor struct {
	evicted []snowflake.ID
}

func (e *recordingEvictor) Evict(customerID snowflake.ID, featureSlug string) {}
func (e *recordingEvictor) EvictCustomer(customerID snowflake.ID) {
	e.evicted = append(e.evicted, customerID)
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clk     *fixedClock
	evictor *recordingEvictor
	sched   *scheduler.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&plandomain.PlanVersion{},
		&plandomain.PlanFeature{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Phase{},
		&invoicedomain.Invoice{},
		&paymentdomain.PaymentMethod{},
		&scheduler.JobRun{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	clk := &fixedClock{now: time.Now().UTC().Truncate(time.Second)}
	log := zap.NewNop()
	evictor := &recordingEvictor{}

	subSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:      db,
		Log:     log,
		Clock:   clk,
		Repo:    subscriptionrepository.Provide(),
		Evictor: evictor,
	})

	invoiceSvc := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		PaymentRepo: paymentrepository.Provide(),
	})

	sched := scheduler.New(scheduler.Param{
		DB:    db,
		Log:   log,
		Config: config.Config{
			Scheduler: config.SchedulerConfig{
				TrialInterval:   time.Hour,
				BillingInterval: time.Hour,
			},
		},
		GenID:      node,
		Clock:      clk,
		SubSvc:     subSvc,
		InvoiceSvc: invoiceSvc,
	})

	return &fixture{db: db, node: node, clk: clk, evictor: evictor, sched: sched}
}

func (f *fixture) seedSubscription(t *testing.T, status subscriptiondomain.SubscriptionStatus, trialEndsAt, nextBillingAt *time.Time) subscriptiondomain.Subscription {
	t.Helper()

	version := plandomain.PlanVersion{
		ID:        f.node.Generate(),
		PlanID:    f.node.Generate(),
		Cadence:   plandomain.CadenceRecurring,
		Active:    true,
		CreatedAt: f.clk.now,
	}
	require.NoError(t, f.db.Create(&version).Error)

	sub := subscriptiondomain.Subscription{
		ID:            f.node.Generate(),
		ProjectID:     f.node.Generate(),
		CustomerID:    f.node.Generate(),
		Status:        status,
		TrialEndsAt:   trialEndsAt,
		NextBillingAt: nextBillingAt,
		CreatedAt:     f.clk.now,
		UpdatedAt:     f.clk.now,
	}
	require.NoError(t, f.db.Create(&sub).Error)

	phase := subscriptiondomain.Phase{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		PlanVersionID:  version.ID,
		StartAt:        f.clk.now.Add(-30 * 24 * time.Hour),
		CreatedAt:      f.clk.now,
	}
	require.NoError(t, f.db.Create(&phase).Error)

	return sub
}

func (f *fixture) addPaymentMethod(t *testing.T, customerID snowflake.ID) {
	t.Helper()
	method := paymentdomain.PaymentMethod{
		ID:          f.node.Generate(),
		CustomerID:  customerID,
		Provider:    "stripe",
		ProviderRef: "pm_test",
		Usable:      true,
		CreatedAt:   f.clk.now,
	}
	require.NoError(t, f.db.Create(&method).Error)
}

func (f *fixture) loadSubscription(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.Raw(
		`SELECT id, project_id, customer_id, status, trial_ends_at, next_billing_at, last_billed_at, created_at, updated_at
		 FROM subscriptions WHERE id = ?`, id,
	).Scan(&sub).Error)
	return sub
}

func (f *fixture) countInvoices(t *testing.T, subscriptionID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(1) FROM invoices WHERE subscription_id = ?`, subscriptionID,
	).Scan(&count).Error)
	return count
}

func TestTrialExpiryConvertsPaidCustomer(t *testing.T) {
	f := newFixture(t)

	trialEnd := f.clk.now.Add(-time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusTrialing, &trialEnd, nil)
	f.addPaymentMethod(t, sub.CustomerID)

	require.NoError(t, f.sched.TrialExpiryJob(context.Background()))

	got := f.loadSubscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.LastBilledAt)
	require.NotNil(t, got.NextBillingAt)
	assert.WithinDuration(t, trialEnd.AddDate(0, 1, 0), *got.NextBillingAt, time.Second)

	assert.Equal(t, int64(1), f.countInvoices(t, sub.ID))
	assert.Contains(t, f.evictor.evicted, sub.CustomerID)

	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM invoices WHERE subscription_id = ?`, sub.ID,
	).Scan(&status).Error)
	assert.Equal(t, string(invoicedomain.InvoiceStatusPaid), status)
}

func TestTrialExpiryWithoutPaymentMethod(t *testing.T) {
	f := newFixture(t)

	trialEnd := f.clk.now.Add(-time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusTrialing, &trialEnd, nil)

	require.NoError(t, f.sched.TrialExpiryJob(context.Background()))

	got := f.loadSubscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, got.Status)
	assert.Nil(t, got.LastBilledAt)

	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM invoices WHERE subscription_id = ?`, sub.ID,
	).Scan(&status).Error)
	assert.Equal(t, string(invoicedomain.InvoiceStatusFailed), status)
}

func TestTrialExpiryIgnoresFutureTrials(t *testing.T) {
	f := newFixture(t)

	trialEnd := f.clk.now.Add(time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusTrialing, &trialEnd, nil)

	require.NoError(t, f.sched.TrialExpiryJob(context.Background()))

	got := f.loadSubscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, got.Status)
	assert.Equal(t, int64(0), f.countInvoices(t, sub.ID))
}

func TestTrialExpiryRunTwiceBillsOnce(t *testing.T) {
	f := newFixture(t)

	trialEnd := f.clk.now.Add(-time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusTrialing, &trialEnd, nil)
	f.addPaymentMethod(t, sub.CustomerID)

	require.NoError(t, f.sched.TrialExpiryJob(context.Background()))
	require.NoError(t, f.sched.TrialExpiryJob(context.Background()))

	assert.Equal(t, int64(1), f.countInvoices(t, sub.ID))
}

func TestRecurringBillingAdvancesCycle(t *testing.T) {
	f := newFixture(t)

	due := f.clk.now.Add(-time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusActive, nil, &due)
	f.addPaymentMethod(t, sub.CustomerID)

	require.NoError(t, f.sched.RecurringBillingJob(context.Background()))

	got := f.loadSubscription(t, sub.ID)
	require.NotNil(t, got.LastBilledAt)
	assert.WithinDuration(t, due, *got.LastBilledAt, time.Second)
	assert.WithinDuration(t, due.AddDate(0, 1, 0), *got.NextBillingAt, time.Second)
	assert.Equal(t, int64(1), f.countInvoices(t, sub.ID))

	// Already advanced past this cycle: a second run selects nothing.
	require.NoError(t, f.sched.RecurringBillingJob(context.Background()))
	assert.Equal(t, int64(1), f.countInvoices(t, sub.ID))
}

func TestRecurringBillingIsIdempotentPerCycle(t *testing.T) {
	f := newFixture(t)

	due := f.clk.now.Add(-time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusActive, nil, &due)
	f.addPaymentMethod(t, sub.CustomerID)

	require.NoError(t, f.sched.RecurringBillingJob(context.Background()))

	// Simulate a run that crashed after invoicing but before advancing
	// the cycle: the invoice unique index still prevents a double bill.
	require.NoError(t, f.db.Exec(
		`UPDATE subscriptions SET last_billed_at = NULL, next_billing_at = ? WHERE id = ?`,
		due, sub.ID,
	).Error)

	require.NoError(t, f.sched.RecurringBillingJob(context.Background()))
	assert.Equal(t, int64(1), f.countInvoices(t, sub.ID))
}

func TestRecurringBillingMarksPastDueOnFailedCharge(t *testing.T) {
	f := newFixture(t)

	due := f.clk.now.Add(-time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusActive, nil, &due)

	require.NoError(t, f.sched.RecurringBillingJob(context.Background()))

	got := f.loadSubscription(t, sub.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, got.Status)
	// The cycle still advances; the past_due state gates access, not
	// re-billing of the same period.
	require.NotNil(t, got.LastBilledAt)
}

func TestJobRunBookkeeping(t *testing.T) {
	f := newFixture(t)

	trialEnd := f.clk.now.Add(-time.Hour)
	sub := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusTrialing, &trialEnd, nil)
	f.addPaymentMethod(t, sub.CustomerID)

	require.NoError(t, f.sched.TrialExpiryJob(context.Background()))

	var run scheduler.JobRun
	require.NoError(t, f.db.Raw(
		`SELECT id, name, started_at, finished_at, processed, failed
		 FROM job_runs WHERE name = ?`, "trial_expiry",
	).Scan(&run).Error)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 0, run.Failed)
	assert.NotNil(t, run.FinishedAt)
}
