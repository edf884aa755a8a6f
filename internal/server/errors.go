package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	invoicedomain "github.com/meterwise/meterwise/internal/invoice/domain"
	subscriptiondomain "github.com/meterwise/meterwise/internal/subscription/domain"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
)

// APIError is the wire shape of every non-2xx response.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`

	status int
}

func (e *APIError) Error() string { return e.Message }

var ErrUnauthorized = &APIError{
	Kind:    "UNAUTHORIZED",
	Message: "missing or invalid api key",
	status:  http.StatusUnauthorized,
}

func newValidationError(field, kind, message string) *APIError {
	return &APIError{
		Kind:    kind,
		Message: message,
		Field:   field,
		status:  http.StatusBadRequest,
	}
}

// AbortWithError maps domain sentinels onto HTTP statuses. Anything
// unrecognized is an internal error; the detail goes to the log via
// gin's error list, never to the caller.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		_ = c.Error(err)
		c.AbortWithStatusJSON(apiErr.status, gin.H{"error": apiErr})
		return
	}

	status := http.StatusInternalServerError
	kind := "INTERNAL_SERVER_ERROR"
	message := "internal server error"

	switch {
	case errors.Is(err, entitlementdomain.ErrInvalidProject),
		errors.Is(err, customerdomain.ErrInvalidProject):
		status = http.StatusUnauthorized
		kind = "UNAUTHORIZED"
		message = "api key does not grant access to this project"
	case errors.Is(err, entitlementdomain.ErrInvalidCustomer),
		errors.Is(err, entitlementdomain.ErrInvalidFeature),
		errors.Is(err, customerdomain.ErrInvalidCustomer),
		errors.Is(err, usagedomain.ErrInvalidCustomer),
		errors.Is(err, usagedomain.ErrInvalidFeatureSlug),
		errors.Is(err, usagedomain.ErrInvalidIdempotenceKey):
		status = http.StatusBadRequest
		kind = "BAD_REQUEST"
		message = err.Error()
	case errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNoActivePhase),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		status = http.StatusNotFound
		kind = "NOT_FOUND"
		message = err.Error()
	case errors.Is(err, usagedomain.ErrDuplicateInFlight):
		status = http.StatusConflict
		kind = "CONFLICT"
		message = "a report with this idempotence key is already in flight"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": &APIError{
		Kind:    kind,
		Message: message,
		status:  status,
	}})
}
