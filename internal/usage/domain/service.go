package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ReportRequest struct {
	CustomerID  string  `json:"customerId" validate:"required,min=1"`
	FeatureSlug string  `json:"featureSlug" validate:"required,min=1"`
	Usage       float64 `json:"usage"`

	// Required; the sole defense against duplicate delivery from
	// at-least-once callers.
	IdempotenceKey string `json:"idempotenceKey" validate:"required,min=1"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

type ReportResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	CacheHit  bool     `json:"cacheHit,omitempty"`
	Remaining *float64 `json:"remaining,omitempty"`
}

type Service interface {
	// Report applies a usage delta exactly once per idempotence key.
	Report(ctx context.Context, req ReportRequest) (ReportResponse, error)

	// Totals returns the running total per feature slug.
	Totals(ctx context.Context, customerID snowflake.ID) (map[string]float64, error)

	// ResetAll zeroes the running total for the given slugs by
	// inserting compensating records. Per-slug failures are collected;
	// the returned error enumerates the slugs that failed.
	ResetAll(ctx context.Context, customerID snowflake.ID, slugs []string) error

	// DropCustomer removes counters and records for a deleted customer.
	DropCustomer(ctx context.Context, customerID snowflake.ID) error
}

var (
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrInvalidFeatureSlug    = errors.New("invalid_feature_slug")
	ErrInvalidIdempotenceKey = errors.New("invalid_idempotence_key")
	ErrDuplicateInFlight     = errors.New("duplicate_report_in_flight")
	ErrResetPartial          = errors.New("reset_partial_failure")
)
