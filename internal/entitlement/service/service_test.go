package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/meterwise/meterwise/internal/config"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	customerrepository "github.com/meterwise/meterwise/internal/customer/repository"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	"github.com/meterwise/meterwise/internal/entitlement/service"
	"github.com/meterwise/meterwise/internal/observability"
	plandomain "github.com/meterwise/meterwise/internal/plan/domain"
	planrepository "github.com/meterwise/meterwise/internal/plan/repository"
	"github.com/meterwise/meterwise/internal/projectcontext"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	subscriptionrepository "github.com/meterwise/meterwise/internal/subscription/repository"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
	"github.com/meterwise/meterwise/internal/usage/ledger"
	usagerepository "github.com/meterwise/meterwise/internal/usage/repository"
	"github.com/meterwise/meterwise/pkg/background"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now(context.Context) time.Time { return c.now }

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clk    *fixedClock
	ledger *ledger.Ledger
	svc    *service.Service

	projectID snowflake.ID
	ctx       context.Context
}

func newFixture(t *testing.T, soft, hard time.Duration) *fixture {
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
		&usagedomain.Record{},
		&usagedomain.Counter{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := &fixedClock{now: time.Now().UTC().Truncate(time.Second)}
	log := zap.NewNop()

	runner := background.NewRunner(log)
	t.Cleanup(runner.Close)

	lg := ledger.New(ledger.Param{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  usagerepository.Provide(),
	})

	svc := service.NewService(service.ServiceParam{
		DB:    db,
		Log:   log,
		Clock: clk,
		Config: config.Config{
			Entitlement: config.EntitlementConfig{SoftTTL: soft, HardTTL: hard},
		},
		CustomerRepo: customerrepository.Provide(),
		PlanRepo:     planrepository.Provide(),
		SubRepo:      subscriptionrepository.Provide(),
		Ledger:       lg,
		Runner:       runner,
		Metrics:      observability.NewMetrics(),
	})

	projectID := node.Generate()
	return &fixture{
		db:        db,
		node:      node,
		clk:       clk,
		ledger:    lg,
		svc:       svc,
		projectID: projectID,
		ctx:       projectcontext.WithProjectID(context.Background(), projectID),
	}
}

func (f *fixture) seedCustomer(t *testing.T, internal bool) customerdomain.Customer {
	t.Helper()
	customer := customerdomain.Customer{
		ID:        f.node.Generate(),
		ProjectID: f.projectID,
		Currency:  "USD",
		Internal:  internal,
		Active:    true,
		CreatedAt: f.clk.now,
		UpdatedAt: f.clk.now,
	}
	require.NoError(t, f.db.Create(&customer).Error)
	return customer
}

func (f *fixture) seedPlan(t *testing.T, features ...plandomain.PlanFeature) plandomain.PlanVersion {
	t.Helper()
	version := plandomain.PlanVersion{
		ID:        f.node.Generate(),
		PlanID:    f.node.Generate(),
		Cadence:   plandomain.CadenceRecurring,
		Active:    true,
		CreatedAt: f.clk.now,
	}
	require.NoError(t, f.db.Create(&version).Error)

	for i := range features {
		features[i].ID = f.node.Generate()
		features[i].PlanVersionID = version.ID
		features[i].CreatedAt = f.clk.now
		require.NoError(t, f.db.Create(&features[i]).Error)
	}
	return version
}

func (f *fixture) seedSubscription(t *testing.T, customerID, planVersionID snowflake.ID, status subscriptiondomain.SubscriptionStatus) subscriptiondomain.Subscription {
	t.Helper()
	sub := subscriptiondomain.Subscription{
		ID:         f.node.Generate(),
		ProjectID:  f.projectID,
		CustomerID: customerID,
		Status:     status,
		CreatedAt:  f.clk.now,
		UpdatedAt:  f.clk.now,
	}
	require.NoError(t, f.db.Create(&sub).Error)

	phase := subscriptiondomain.Phase{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		PlanVersionID:  planVersionID,
		StartAt:        f.clk.now.Add(-24 * time.Hour),
		CreatedAt:      f.clk.now,
	}
	require.NoError(t, f.db.Create(&phase).Error)
	return sub
}

func meteredFeature(slug string, limit float64, units *float64) plandomain.PlanFeature {
	return plandomain.PlanFeature{
		Slug:        slug,
		FeatureType: plandomain.FeatureTypeUsage,
		Limit:       limit,
		Units:       units,
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestCanMeteredFeature(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, meteredFeature("api-calls", 100, floatPtr(50)))
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	// Purchased units cap below the limit: 50 remaining, not 100.
	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	require.NotNil(t, verdict.Remaining)
	assert.Equal(t, 50.0, *verdict.Remaining)

	// Consume 30: remaining drops to 20.
	_, err = f.ledger.Apply(f.ctx, customer.ID, "api-calls", 30, usagedomain.RecordKindReport, "h1", nil)
	require.NoError(t, err)
	f.svc.Evict(customer.ID, "api-calls")

	verdict, err = f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Equal(t, 20.0, *verdict.Remaining)

	// Overshoot past the purchased units: denied even though the plan
	// limit still has headroom.
	_, err = f.ledger.Apply(f.ctx, customer.ID, "api-calls", 25, usagedomain.RecordKindReport, "h2", nil)
	require.NoError(t, err)
	f.svc.Evict(customer.ID, "api-calls")

	verdict, err = f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Equal(t, entitlementdomain.DeniedReasonLimitExceeded, verdict.DeniedReason)
	assert.Equal(t, -5.0, *verdict.Remaining)
}

func TestCanDeniesAtExactLimit(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, meteredFeature("api-calls", 100, nil))
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	_, err := f.ledger.Apply(f.ctx, customer.ID, "api-calls", 99, usagedomain.RecordKindReport, "h1", nil)
	require.NoError(t, err)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Equal(t, 1.0, *verdict.Remaining)

	_, err = f.ledger.Apply(f.ctx, customer.ID, "api-calls", 1, usagedomain.RecordKindReport, "h2", nil)
	require.NoError(t, err)
	f.svc.Evict(customer.ID, "api-calls")

	verdict, err = f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Equal(t, entitlementdomain.DeniedReasonLimitExceeded, verdict.DeniedReason)
}

func TestCanFlatFeatureIgnoresUsage(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, plandomain.PlanFeature{Slug: "sso", FeatureType: plandomain.FeatureTypeFlat})
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "sso",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Nil(t, verdict.Remaining)
}

func TestCanUnknownFeature(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, meteredFeature("api-calls", 100, nil))
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "exports",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Equal(t, entitlementdomain.DeniedReasonFeatureNotFound, verdict.DeniedReason)
}

func TestCanWithoutActivePhase(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Equal(t, entitlementdomain.DeniedReasonNoActivePhase, verdict.DeniedReason)
}

func TestCanCanceledSubscriptionHasNoPhase(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, meteredFeature("api-calls", 100, nil))
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusCanceled)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Equal(t, entitlementdomain.DeniedReasonNoActivePhase, verdict.DeniedReason)
}

func TestCanInternalCustomerBypasses(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, true)

	// No plan, no subscription, still allowed.
	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "anything",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
}

func TestCanAnonymousAllowed(t *testing.T) {
	f := newFixture(t, 0, 0)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{FeatureSlug: "api-calls"})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
}

func TestCanUnknownCustomer(t *testing.T) {
	f := newFixture(t, 0, 0)

	_, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  f.node.Generate().String(),
		FeatureSlug: "api-calls",
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrInvalidCustomer)
}

func TestCanRequiresProjectIdentity(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)

	_, err := f.svc.Can(context.Background(), entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrInvalidProject)
}

func TestCanServesCachedVerdictUntilEvicted(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, meteredFeature("api-calls", 100, nil))
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, *verdict.Remaining)

	// Bump the counter behind the cache's back: the cached verdict
	// keeps serving until an eviction.
	_, err = f.ledger.Apply(f.ctx, customer.ID, "api-calls", 40, usagedomain.RecordKindReport, "h1", nil)
	require.NoError(t, err)

	verdict, err = f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, *verdict.Remaining)

	f.svc.Evict(customer.ID, "api-calls")

	verdict, err = f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.Equal(t, 60.0, *verdict.Remaining)
}

func TestRevalidateRecomputesEagerly(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, meteredFeature("api-calls", 100, nil))
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, *verdict.Remaining)

	_, err = f.ledger.Apply(f.ctx, customer.ID, "api-calls", 70, usagedomain.RecordKindReport, "h1", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Revalidate(f.ctx, customer.ID.String(), "api-calls"))

	verdict, err = f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.Equal(t, 30.0, *verdict.Remaining)
}

func TestGetEntitlementsListsActivePlan(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t,
		meteredFeature("api-calls", 100, floatPtr(50)),
		plandomain.PlanFeature{Slug: "sso", FeatureType: plandomain.FeatureTypeFlat, SortOrder: 1},
	)
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	_, err := f.ledger.Apply(f.ctx, customer.ID, "api-calls", 10, usagedomain.RecordKindReport, "h1", nil)
	require.NoError(t, err)

	entitlements, err := f.svc.GetEntitlements(f.ctx, customer.ID.String())
	require.NoError(t, err)
	require.Len(t, entitlements, 2)

	assert.Equal(t, "api-calls", entitlements[0].FeatureSlug)
	assert.True(t, entitlements[0].Access)
	assert.Equal(t, 40.0, *entitlements[0].Remaining)

	assert.Equal(t, "sso", entitlements[1].FeatureSlug)
	assert.True(t, entitlements[1].Access)
	assert.Nil(t, entitlements[1].Remaining)
}

func TestResetRestoresFullAllotment(t *testing.T) {
	f := newFixture(t, 0, 0)
	customer := f.seedCustomer(t, false)
	version := f.seedPlan(t, meteredFeature("api-calls", 100, nil))
	f.seedSubscription(t, customer.ID, version.ID, subscriptiondomain.SubscriptionStatusActive)

	_, err := f.ledger.Apply(f.ctx, customer.ID, "api-calls", 100, usagedomain.RecordKindReport, "h1", nil)
	require.NoError(t, err)

	verdict, err := f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	require.False(t, verdict.Success)

	require.NoError(t, f.svc.Reset(f.ctx, customer.ID.String()))

	total, err := f.ledger.Total(f.ctx, customer.ID, "api-calls")
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)

	verdict, err = f.svc.Can(f.ctx, entitlementdomain.CanRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Equal(t, 100.0, *verdict.Remaining)

	// History is compensated, never erased.
	var records int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(1) FROM usage_records WHERE customer_id = ?`, customer.ID,
	).Scan(&records).Error)
	assert.Equal(t, int64(2), records)
}
