package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

// Invoice is one billing attempt for a subscription cycle. The unique
// (subscription_id, cycle_start) pair is what makes re-run scheduler
// batches double-bill-proof.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	SubscriptionID snowflake.ID  `gorm:"not null;index:idx_invoices_sub_cycle,unique"`
	CustomerID     snowflake.ID  `gorm:"not null;index"`
	CycleStart     time.Time     `gorm:"not null;index:idx_invoices_sub_cycle,unique"`
	CycleEnd       time.Time     `gorm:"not null"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:'pending'"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Invoice) TableName() string { return "invoices" }

type Service interface {
	// CreateForCycle is idempotent per (subscription, cycle start):
	// a second call returns the existing invoice with created=false.
	CreateForCycle(ctx context.Context, sub SubscriptionRef, cycleStart, cycleEnd time.Time) (Invoice, bool, error)

	// AttemptCharge settles the invoice against the customer's stored
	// payment method: paid when a usable one exists, failed otherwise.
	AttemptCharge(ctx context.Context, invoice Invoice) (InvoiceStatus, error)
}

type SubscriptionRef struct {
	ID         snowflake.ID
	CustomerID snowflake.ID
}

var ErrInvoiceNotFound = errors.New("invoice_not_found")
