package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	"github.com/meterwise/meterwise/internal/idempotency"
	"github.com/meterwise/meterwise/internal/observability"
	"github.com/meterwise/meterwise/internal/projectcontext"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
	"github.com/meterwise/meterwise/internal/usage/ledger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	ledger       *ledger.Ledger
	customerRepo customerdomain.Repository
	guard        entitlementdomain.Guard
	evictor      entitlementdomain.Evictor
	idem         *idempotency.Store
	metrics      *observability.Metrics
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger

	Ledger       *ledger.Ledger
	CustomerRepo customerdomain.Repository
	Guard        entitlementdomain.Guard
	Evictor      entitlementdomain.Evictor
	Idem         *idempotency.Store
	Metrics      *observability.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("usage.service"),
		ledger:       p.Ledger,
		customerRepo: p.CustomerRepo,
		guard:        p.Guard,
		evictor:      p.Evictor,
		idem:         p.Idem,
		metrics:      p.Metrics,
	}
}

// Report implements domain.Service.
func (s *Service) Report(ctx context.Context, req usagedomain.ReportRequest) (usagedomain.ReportResponse, error) {
	featureSlug := slug.Make(strings.TrimSpace(req.FeatureSlug))
	if featureSlug == "" {
		return usagedomain.ReportResponse{}, usagedomain.ErrInvalidFeatureSlug
	}
	if strings.TrimSpace(req.IdempotenceKey) == "" {
		return usagedomain.ReportResponse{}, usagedomain.ErrInvalidIdempotenceKey
	}

	customerID, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return usagedomain.ReportResponse{}, err
	}

	hash := idempotency.Hash(req.CustomerID, featureSlug, req.Usage, req.IdempotenceKey)

	var stored usagedomain.ReportResponse
	found, err := s.idem.Lookup(ctx, hash, &stored)
	if errors.Is(err, idempotency.ErrPending) {
		return usagedomain.ReportResponse{}, usagedomain.ErrDuplicateInFlight
	}
	if err != nil {
		s.log.Error("idempotency lookup failed", zap.Error(err))
		return usagedomain.ReportResponse{}, err
	}
	if found {
		stored.CacheHit = true
		s.metrics.UsageReports.WithLabelValues("duplicate").Inc()
		return stored, nil
	}

	reserved, err := s.idem.Reserve(ctx, hash)
	if err != nil {
		return usagedomain.ReportResponse{}, err
	}
	if !reserved {
		// Lost the race: either a concurrent call just completed (serve
		// its result) or it is still in flight.
		found, err = s.idem.Lookup(ctx, hash, &stored)
		if err == nil && found {
			stored.CacheHit = true
			s.metrics.UsageReports.WithLabelValues("duplicate").Inc()
			return stored, nil
		}
		return usagedomain.ReportResponse{}, usagedomain.ErrDuplicateInFlight
	}

	resp, err := s.apply(ctx, customerID, featureSlug, hash, req)
	if err != nil {
		// The increment did not land; drop the reservation so a retry
		// is not absorbed as already-applied.
		s.idem.Release(context.WithoutCancel(ctx), hash)
		s.metrics.UsageReports.WithLabelValues("error").Inc()
		return usagedomain.ReportResponse{}, err
	}

	if !resp.Success {
		// Refusals are not cached: a retry after a plan change should
		// re-evaluate, not replay the refusal.
		s.idem.Release(context.WithoutCancel(ctx), hash)
		s.metrics.UsageReports.WithLabelValues("refused").Inc()
		return resp, nil
	}

	if err := s.idem.Complete(context.WithoutCancel(ctx), hash, resp); err != nil {
		// The delta landed but the dedup entry did not; release rather
		// than leave the store claiming an outcome it never saw.
		s.log.Error("failed to store idempotency outcome", zap.Error(err))
		s.idem.Release(context.WithoutCancel(ctx), hash)
	}

	s.metrics.UsageReports.WithLabelValues("ok").Inc()
	return resp, nil
}

func (s *Service) apply(ctx context.Context, customerID snowflake.ID, featureSlug, hash string, req usagedomain.ReportRequest) (usagedomain.ReportResponse, error) {
	verdict, err := s.guard.Can(ctx, entitlementdomain.CanRequest{
		CustomerID:  req.CustomerID,
		FeatureSlug: req.FeatureSlug,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return usagedomain.ReportResponse{}, err
	}
	if !verdict.Success {
		return usagedomain.ReportResponse{
			Success: false,
			Message: fmt.Sprintf("feature not entitled: %s", verdict.DeniedReason),
		}, nil
	}

	if _, err := s.ledger.Apply(ctx, customerID, featureSlug, req.Usage, usagedomain.RecordKindReport, hash, req.Metadata); err != nil {
		return usagedomain.ReportResponse{}, err
	}

	s.evictor.Evict(customerID, featureSlug)

	resp := usagedomain.ReportResponse{Success: true}
	if verdict.Remaining != nil {
		// Both caps shrink by the same delta, so the post-report
		// remaining is the pre-report minimum minus the delta.
		remaining := *verdict.Remaining - req.Usage
		resp.Remaining = &remaining
	}
	return resp, nil
}

// Totals implements domain.Service.
func (s *Service) Totals(ctx context.Context, customerID snowflake.ID) (map[string]float64, error) {
	return s.ledger.Totals(ctx, customerID)
}

// ResetAll implements domain.Service.
func (s *Service) ResetAll(ctx context.Context, customerID snowflake.ID, slugs []string) error {
	failed := s.ledger.ResetAll(ctx, customerID, slugs)
	s.evictor.EvictCustomer(customerID)
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", usagedomain.ErrResetPartial, strings.Join(failed, ", "))
	}
	return nil
}

// DropCustomer implements domain.Service.
func (s *Service) DropCustomer(ctx context.Context, customerID snowflake.ID) error {
	if err := s.ledger.DropCustomer(ctx, customerID); err != nil {
		return err
	}
	s.evictor.EvictCustomer(customerID)
	return nil
}

func (s *Service) resolveCustomer(ctx context.Context, raw string) (snowflake.ID, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return 0, usagedomain.ErrInvalidCustomer
	}

	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, usagedomain.ErrInvalidCustomer
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, projectID, id)
	if err != nil {
		return 0, err
	}
	if customer == nil || !customer.Active {
		return 0, usagedomain.ErrInvalidCustomer
	}
	return customer.ID, nil
}
