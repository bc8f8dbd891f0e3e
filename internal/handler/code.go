package handler

import (
	"errors"
	"net/http"

	"github.com/otterscale/watchbridge/internal/core"
)

// domainCodeToStatus maps domain-level error codes to HTTP statuses.
var domainCodeToStatus = map[core.ErrorCode]int{
	core.ErrorCodeInternal:           http.StatusInternalServerError,
	core.ErrorCodeInvalidArgument:    http.StatusBadRequest,
	core.ErrorCodeNotFound:           http.StatusNotFound,
	core.ErrorCodeAlreadyExists:      http.StatusConflict,
	core.ErrorCodeUnauthenticated:    http.StatusUnauthorized,
	core.ErrorCodePermissionDenied:   http.StatusForbidden,
	core.ErrorCodeFailedPrecondition: http.StatusPreconditionFailed,
	core.ErrorCodeDeadlineExceeded:   http.StatusGatewayTimeout,
	core.ErrorCodeResourceExhausted:  http.StatusTooManyRequests,
	core.ErrorCodeUnimplemented:      http.StatusNotImplemented,
	core.ErrorCodeUnavailable:        http.StatusServiceUnavailable,
}

// domainErrorToStatus converts a domain error into an HTTP status.
// Domain-specific error types (ErrInvalidInput, ErrClusterNotFound,
// etc.) are checked first, then DomainError codes are mapped.
// Unrecognised errors fall back to 500.
func domainErrorToStatus(err error) int {
	// Concrete domain error types.
	var invalidInput *core.ErrInvalidInput
	if errors.As(err, &invalidInput) {
		return http.StatusBadRequest
	}
	var unknownResource *core.ErrUnknownResource
	if errors.As(err, &unknownResource) {
		return http.StatusBadRequest
	}
	var clusterNotFound *core.ErrClusterNotFound
	if errors.As(err, &clusterNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, core.ErrRegistryClosed) {
		return http.StatusServiceUnavailable
	}

	// Generic domain error with error code.
	var domainErr *core.DomainError
	if errors.As(err, &domainErr) {
		status, ok := domainCodeToStatus[domainErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status
	}

	return http.StatusInternalServerError
}
