package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	"github.com/meterwise/meterwise/internal/projectcontext"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo     customerdomain.Repository
	usageSvc usagedomain.Service
	evictor  entitlementdomain.Evictor
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger

	Repo     customerdomain.Repository
	UsageSvc usagedomain.Service
	Evictor  entitlementdomain.Evictor
}

func NewService(p ServiceParam) customerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("customer.service"),
		repo:     p.Repo,
		usageSvc: p.UsageSvc,
		evictor:  p.Evictor,
	}
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, customerID string) (customerdomain.Customer, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return customerdomain.Customer{}, customerdomain.ErrInvalidProject
	}

	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil {
		return customerdomain.Customer{}, customerdomain.ErrInvalidCustomer
	}

	customer, err := s.repo.FindByID(ctx, s.db, projectID, id)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	if customer == nil {
		return customerdomain.Customer{}, customerdomain.ErrNotFound
	}
	return *customer, nil
}

// Delete implements domain.Service. Soft delete first, then drop the
// ledger counters and cached entitlements so no stale verdict survives
// the customer.
func (s *Service) Delete(ctx context.Context, customerID string) error {
	customer, err := s.Get(ctx, customerID)
	if err != nil {
		return err
	}

	if err := s.repo.SoftDelete(ctx, s.db, customer.ProjectID, customer.ID); err != nil {
		return err
	}

	s.evictor.EvictCustomer(customer.ID)

	if err := s.usageSvc.DropCustomer(ctx, customer.ID); err != nil {
		s.log.Error("failed to drop usage for deleted customer",
			zap.String("customer_id", customer.ID.String()),
			zap.Error(err),
		)
		return err
	}

	s.log.Info("customer deleted", zap.String("customer_id", customer.ID.String()))
	return nil
}
