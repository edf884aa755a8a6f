package domain

import (
	"time"

	plandomain "github.com/meterwise/meterwise/internal/plan/domain"
)

type DeniedReason string

const (
	DeniedReasonFeatureNotFound DeniedReason = "FEATURE_NOT_FOUND"
	DeniedReasonLimitExceeded   DeniedReason = "LIMIT_EXCEEDED"
	DeniedReasonNoActivePhase   DeniedReason = "NO_ACTIVE_PHASE"
	DeniedReasonInternalError   DeniedReason = "INTERNAL_SERVER_ERROR"
)

// Entitlement is the materialized access decision for a
// (customer, feature) pair. Remaining is nil for unlimited access.
type Entitlement struct {
	CustomerID   string                 `json:"customerId"`
	FeatureSlug  string                 `json:"featureSlug"`
	FeatureType  plandomain.FeatureType `json:"featureType,omitempty"`
	Access       bool                   `json:"access"`
	Remaining    *float64               `json:"remaining,omitempty"`
	DeniedReason DeniedReason           `json:"deniedReason,omitempty"`
	ResolvedAt   time.Time              `json:"resolvedAt"`
}

type Verdict struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message,omitempty"`
	Remaining    *float64     `json:"remaining,omitempty"`
	DeniedReason DeniedReason `json:"deniedReason,omitempty"`
}

type CanRequest struct {
	CustomerID  string         `json:"customerId"`
	FeatureSlug string         `json:"featureSlug"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
