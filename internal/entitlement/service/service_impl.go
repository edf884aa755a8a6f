package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/meterwise/meterwise/internal/cache"
	"github.com/meterwise/meterwise/internal/clock"
	"github.com/meterwise/meterwise/internal/config"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	"github.com/meterwise/meterwise/internal/observability"
	plandomain "github.com/meterwise/meterwise/internal/plan/domain"
	"github.com/meterwise/meterwise/internal/projectcontext"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	"github.com/meterwise/meterwise/internal/usage/ledger"
	"github.com/meterwise/meterwise/pkg/background"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	customerRepo customerdomain.Repository
	planRepo     plandomain.Repository
	subRepo      subscriptiondomain.Repository
	ledger       *ledger.Ledger

	cache   *cache.Cache[entitlementdomain.Entitlement]
	runner  *background.Runner
	metrics *observability.Metrics
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config

	CustomerRepo customerdomain.Repository
	PlanRepo     plandomain.Repository
	SubRepo      subscriptiondomain.Repository
	Ledger       *ledger.Ledger

	Runner  *background.Runner
	Metrics *observability.Metrics
}

func NewService(p ServiceParam) *Service {
	s := &Service{
		db:           p.DB,
		log:          p.Log.Named("entitlement.service"),
		clock:        p.Clock,
		customerRepo: p.CustomerRepo,
		planRepo:     p.PlanRepo,
		subRepo:      p.SubRepo,
		ledger:       p.Ledger,
		runner:       p.Runner,
		metrics:      p.Metrics,
	}
	s.cache = cache.New(s.load, p.Config.Entitlement.SoftTTL, p.Config.Entitlement.HardTTL, p.Runner, p.Log)
	return s
}

// Can implements domain.Guard. Denials and resolver failures come back
// as verdicts; the error return is reserved for unresolvable input.
func (s *Service) Can(ctx context.Context, req entitlementdomain.CanRequest) (entitlementdomain.Verdict, error) {
	start := time.Now()

	featureSlug := slug.Make(strings.TrimSpace(req.FeatureSlug))
	if featureSlug == "" {
		return entitlementdomain.Verdict{}, entitlementdomain.ErrInvalidFeature
	}

	// Anonymous and internal workspaces bypass metering entirely; the
	// platform's own usage never touches the ledger.
	if strings.TrimSpace(req.CustomerID) == "" {
		verdict := entitlementdomain.Verdict{Success: true}
		s.emitVerdict(featureSlug, verdict, start)
		return verdict, nil
	}

	customer, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return entitlementdomain.Verdict{}, err
	}
	if customer.Internal {
		verdict := entitlementdomain.Verdict{Success: true}
		s.emitVerdict(featureSlug, verdict, start)
		return verdict, nil
	}

	ent, err := s.cache.Get(ctx, cacheKey(customer.ID, featureSlug))
	if err != nil {
		// Over-granting is the worse failure mode for a billing
		// product: storage trouble denies, it never fails open.
		s.log.Error("entitlement resolution failed",
			zap.String("customer_id", customer.ID.String()),
			zap.String("feature_slug", featureSlug),
			zap.Error(err),
		)
		verdict := entitlementdomain.Verdict{
			Success:      false,
			Message:      "entitlement resolution failed",
			DeniedReason: entitlementdomain.DeniedReasonInternalError,
		}
		s.emitVerdict(featureSlug, verdict, start)
		return verdict, nil
	}

	verdict := verdictFrom(ent)
	s.emitVerdict(featureSlug, verdict, start)
	return verdict, nil
}

// GetEntitlements implements domain.Service.
func (s *Service) GetEntitlements(ctx context.Context, customerID string) ([]entitlementdomain.Entitlement, error) {
	customer, err := s.resolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	phase, err := s.activePhase(ctx, customer.ID, now)
	if err != nil {
		return nil, err
	}

	features, err := s.planRepo.ListFeatures(ctx, s.db, phase.PlanVersionID)
	if err != nil {
		return nil, err
	}

	totals, err := s.ledger.Totals(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	entitlements := make([]entitlementdomain.Entitlement, 0, len(features))
	for _, feature := range features {
		entitlements = append(entitlements, s.compute(customer.ID, feature, totals[feature.Slug], now))
	}
	return entitlements, nil
}

// Revalidate implements domain.Service: unconditional eviction followed
// by an eager recompute, for callers that know their state diverged.
func (s *Service) Revalidate(ctx context.Context, customerID, featureSlug string) error {
	customer, err := s.resolveCustomer(ctx, customerID)
	if err != nil {
		return err
	}

	normalized := slug.Make(strings.TrimSpace(featureSlug))
	if normalized == "" {
		return entitlementdomain.ErrInvalidFeature
	}

	key := cacheKey(customer.ID, normalized)
	s.cache.Remove(key)
	_, err = s.cache.Get(ctx, key)
	return err
}

// Reset implements domain.Service.
func (s *Service) Reset(ctx context.Context, customerID string) error {
	customer, err := s.resolveCustomer(ctx, customerID)
	if err != nil {
		return err
	}

	now := s.clock.Now(ctx)
	phase, err := s.activePhase(ctx, customer.ID, now)
	if err != nil {
		return err
	}

	features, err := s.planRepo.ListFeatures(ctx, s.db, phase.PlanVersionID)
	if err != nil {
		return err
	}

	slugs := make([]string, 0, len(features))
	for _, feature := range features {
		slugs = append(slugs, feature.Slug)
	}

	failed := s.ledger.ResetAll(ctx, customer.ID, slugs)
	s.EvictCustomer(customer.ID)

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", entitlementdomain.ErrResetPartial, strings.Join(failed, ", "))
	}
	return nil
}

// Evict implements domain.Evictor.
func (s *Service) Evict(customerID snowflake.ID, featureSlug string) {
	s.cache.Remove(cacheKey(customerID, featureSlug))
}

// EvictCustomer implements domain.Evictor.
func (s *Service) EvictCustomer(customerID snowflake.ID) {
	s.cache.RemovePrefix(customerID.String() + ":")
}

// load is the cache loader: it recomputes an entitlement from persisted
// state. Denials are values, not errors, so they cache like grants; an
// error here means storage failed.
func (s *Service) load(ctx context.Context, key string) (entitlementdomain.Entitlement, error) {
	customerID, featureSlug, err := parseKey(key)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}

	now := s.clock.Now(ctx)
	phase, err := s.activePhase(ctx, customerID, now)
	if errors.Is(err, subscriptiondomain.ErrNoActivePhase) {
		return entitlementdomain.Entitlement{
			CustomerID:   customerID.String(),
			FeatureSlug:  featureSlug,
			Access:       false,
			DeniedReason: entitlementdomain.DeniedReasonNoActivePhase,
			ResolvedAt:   now,
		}, nil
	}
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}

	feature, err := s.planRepo.FindFeature(ctx, s.db, phase.PlanVersionID, featureSlug)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}
	if feature == nil {
		return entitlementdomain.Entitlement{
			CustomerID:   customerID.String(),
			FeatureSlug:  featureSlug,
			Access:       false,
			DeniedReason: entitlementdomain.DeniedReasonFeatureNotFound,
			ResolvedAt:   now,
		}, nil
	}

	total, err := s.ledger.Total(ctx, customerID, featureSlug)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}

	return s.compute(customerID, *feature, total, now), nil
}

// compute derives the access verdict from a feature configuration and
// the current running total. Limit and purchased units act as
// independent caps: exceeding either denies.
func (s *Service) compute(customerID snowflake.ID, feature plandomain.PlanFeature, total float64, now time.Time) entitlementdomain.Entitlement {
	ent := entitlementdomain.Entitlement{
		CustomerID:  customerID.String(),
		FeatureSlug: feature.Slug,
		FeatureType: feature.FeatureType,
		ResolvedAt:  now,
	}

	if feature.FeatureType == plandomain.FeatureTypeFlat {
		ent.Access = true
		return ent
	}

	remaining := feature.Limit - total
	if feature.Units != nil {
		if units := *feature.Units - total; units < remaining {
			remaining = units
		}
	}

	ent.Remaining = &remaining
	if remaining <= 0 {
		ent.Access = false
		ent.DeniedReason = entitlementdomain.DeniedReasonLimitExceeded
		return ent
	}

	ent.Access = true
	return ent
}

func (s *Service) activePhase(ctx context.Context, customerID snowflake.ID, at time.Time) (subscriptiondomain.Phase, error) {
	statuses := []subscriptiondomain.SubscriptionStatus{
		subscriptiondomain.SubscriptionStatusTrialing,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusPastDue,
	}

	sub, err := s.subRepo.FindCurrentByCustomerID(ctx, s.db, customerID, statuses)
	if err != nil {
		return subscriptiondomain.Phase{}, err
	}
	if sub == nil {
		return subscriptiondomain.Phase{}, subscriptiondomain.ErrNoActivePhase
	}

	phase, err := s.subRepo.FindActivePhase(ctx, s.db, sub.ID, at)
	if err != nil {
		return subscriptiondomain.Phase{}, err
	}
	if phase == nil {
		return subscriptiondomain.Phase{}, subscriptiondomain.ErrNoActivePhase
	}
	return *phase, nil
}

func (s *Service) resolveCustomer(ctx context.Context, raw string) (customerdomain.Customer, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return customerdomain.Customer{}, entitlementdomain.ErrInvalidProject
	}

	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return customerdomain.Customer{}, entitlementdomain.ErrInvalidCustomer
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, projectID, id)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	if customer == nil || !customer.Active {
		return customerdomain.Customer{}, entitlementdomain.ErrInvalidCustomer
	}
	return *customer, nil
}

// emitVerdict records the verification metric without blocking the
// caller; the runner drains on shutdown.
func (s *Service) emitVerdict(featureSlug string, verdict entitlementdomain.Verdict, start time.Time) {
	elapsed := time.Since(start)
	s.runner.Go("entitlement.metrics", func(context.Context) {
		outcome := "allow"
		if !verdict.Success {
			outcome = "deny"
		}
		s.metrics.VerdictTotal.WithLabelValues(featureSlug, outcome, string(verdict.DeniedReason)).Inc()
		s.metrics.DecisionSeconds.WithLabelValues(featureSlug).Observe(elapsed.Seconds())
	})
}

func verdictFrom(ent entitlementdomain.Entitlement) entitlementdomain.Verdict {
	verdict := entitlementdomain.Verdict{
		Success:      ent.Access,
		Remaining:    ent.Remaining,
		DeniedReason: ent.DeniedReason,
	}
	if !ent.Access {
		verdict.Message = "feature access denied: " + string(ent.DeniedReason)
	}
	return verdict
}

func cacheKey(customerID snowflake.ID, featureSlug string) string {
	return customerID.String() + ":" + featureSlug
}

func parseKey(key string) (snowflake.ID, string, error) {
	raw, featureSlug, ok := strings.Cut(key, ":")
	if !ok {
		return 0, "", entitlementdomain.ErrInvalidFeature
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, "", entitlementdomain.ErrInvalidCustomer
	}
	return id, featureSlug, nil
}
