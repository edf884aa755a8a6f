package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Get returns the active customer under the caller's project.
	Get(ctx context.Context, customerID string) (Customer, error)
	// Delete soft-deletes the customer and evicts its entitlements
	// and usage counters.
	Delete(ctx context.Context, customerID string) error
}

var (
	ErrInvalidProject  = errors.New("invalid_project")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrNotFound        = errors.New("customer_not_found")
)
