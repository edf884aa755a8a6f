package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	invoicedomain "github.com/meterwise/meterwise/internal/invoice/domain"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	paymentRepo paymentdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	PaymentRepo paymentdomain.Repository
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		paymentRepo: p.PaymentRepo,
	}
}

// CreateForCycle implements domain.Service. The insert ignores
// conflicts on (subscription_id, cycle_start); when another run got
// there first the existing row is returned unchanged.
func (s *Service) CreateForCycle(ctx context.Context, sub invoicedomain.SubscriptionRef, cycleStart, cycleEnd time.Time) (invoicedomain.Invoice, bool, error) {
	now := s.clock.Now(ctx)
	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		CycleStart:     cycleStart,
		CycleEnd:       cycleEnd,
		Status:         invoicedomain.InvoiceStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO invoices (id, subscription_id, customer_id, cycle_start, cycle_end, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id, cycle_start) DO NOTHING`,
		invoice.ID,
		invoice.SubscriptionID,
		invoice.CustomerID,
		invoice.CycleStart,
		invoice.CycleEnd,
		invoice.Status,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if res.Error != nil {
		return invoicedomain.Invoice{}, false, res.Error
	}

	if res.RowsAffected == 0 {
		existing, err := s.findByCycle(ctx, sub.ID, cycleStart)
		if err != nil {
			return invoicedomain.Invoice{}, false, err
		}
		return existing, false, nil
	}

	return invoice, true, nil
}

// AttemptCharge implements domain.Service.
func (s *Service) AttemptCharge(ctx context.Context, invoice invoicedomain.Invoice) (invoicedomain.InvoiceStatus, error) {
	usable, err := s.paymentRepo.HasUsable(ctx, s.db, invoice.CustomerID)
	if err != nil {
		return invoicedomain.InvoiceStatusPending, err
	}

	status := invoicedomain.InvoiceStatusFailed
	if usable {
		status = invoicedomain.InvoiceStatusPaid
	}

	err = s.db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		s.clock.Now(ctx),
		invoice.ID,
	).Error
	if err != nil {
		return invoicedomain.InvoiceStatusPending, err
	}

	s.log.Info("invoice charge attempted",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("customer_id", invoice.CustomerID.String()),
		zap.String("status", string(status)),
	)
	return status, nil
}

func (s *Service) findByCycle(ctx context.Context, subscriptionID snowflake.ID, cycleStart time.Time) (invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, customer_id, cycle_start, cycle_end, status, created_at, updated_at
		 FROM invoices WHERE subscription_id = ? AND cycle_start = ?`,
		subscriptionID,
		cycleStart,
	).Scan(&invoice).Error
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if invoice.ID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}
