package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Guard is the public access-decision surface. Resolver failures
// degrade to a deny verdict; the error return is reserved for
// unresolvable input (unknown customer, missing project identity).
type Guard interface {
	Can(ctx context.Context, req CanRequest) (Verdict, error)
}

type Service interface {
	Guard

	// GetEntitlements returns the entitlement for every feature on the
	// customer's active phase.
	GetEntitlements(ctx context.Context, customerID string) ([]Entitlement, error)

	// Revalidate evicts the cached entitlement and recomputes it
	// eagerly from persisted state.
	Revalidate(ctx context.Context, customerID, featureSlug string) error

	// Reset zeroes running usage for every feature on the active phase
	// and evicts the customer's cached entitlements. Partial failures
	// are reported, not swallowed.
	Reset(ctx context.Context, customerID string) error
}

// Evictor invalidates cached entitlements after authoritative writes
// (usage reports, plan changes, subscription transitions, deletion).
type Evictor interface {
	Evict(customerID snowflake.ID, featureSlug string)
	EvictCustomer(customerID snowflake.ID)
}

var (
	ErrInvalidProject  = errors.New("invalid_project")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidFeature  = errors.New("invalid_feature")
	ErrResetPartial    = errors.New("reset_partial_failure")
)
