package mathroute

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kailas-cloud/mathroute/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound         = domain.ErrNotFound
	ErrInvalidQuery     = domain.ErrInvalidQuery
	ErrInvalidFeedback  = domain.ErrInvalidFeedback
	ErrStoreUnavailable = domain.ErrStoreUnavailable
	ErrProviderDown     = domain.ErrProviderUnavailable
	ErrTimeout          = errors.New("mathroute: request timed out")
	ErrUnauthorized     = errors.New("mathroute: unauthorized")
)

// Server error codes.
const (
	CodeBadRequest       = "bad_request"
	CodeUnauthorized     = "unauthorized"
	CodeValidationFailed = "validation_failed"
	CodeNotFound         = "not_found"
	CodeStoreUnavailable = "store_unavailable"
	CodeTimeout          = "timeout"
	CodeInternalError    = "internal_error"

	CodeProviderUnavailable = "provider_unavailable"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Path       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mathroute: %s: HTTP %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("mathroute: %s: HTTP %d %s: %s", e.Path, e.StatusCode, e.Code, e.Message)
}

// Is matches the sentinel for the error code.
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == ErrNotFound
	case CodeStoreUnavailable:
		return target == ErrStoreUnavailable
	case CodeTimeout:
		return target == ErrTimeout
	case CodeProviderUnavailable:
		return target == ErrProviderDown
	case CodeUnauthorized:
		return target == ErrUnauthorized
	case CodeValidationFailed:
		if e.Path == pathFeedback {
			return target == ErrInvalidFeedback
		}
		return target == ErrInvalidQuery
	}
	return e.StatusCode == http.StatusUnauthorized && target == ErrUnauthorized
}

// IsStoreUnavailable reports whether err is a storage outage the caller may retry.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
