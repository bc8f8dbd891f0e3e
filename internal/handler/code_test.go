package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/otterscale/watchbridge/internal/core"
)

func TestDomainErrorToStatus_ConcreteTypes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "ErrInvalidInput",
			err:        &core.ErrInvalidInput{Field: "namespace", Message: "must be a DNS label"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "ErrUnknownResource",
			err:        &core.ErrUnknownResource{Resource: "widgets"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "ErrClusterNotFound",
			err:        &core.ErrClusterNotFound{Cluster: "test"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "wrapped ErrClusterNotFound",
			err:        fmt.Errorf("snapshot: %w", &core.ErrClusterNotFound{Cluster: "test"}),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "ErrRegistryClosed",
			err:        core.ErrRegistryClosed,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domainErrorToStatus(tt.err); got != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, got)
			}
		})
	}
}

func TestDomainErrorToStatus_DomainErrorCodes(t *testing.T) {
	tests := []struct {
		name       string
		code       core.ErrorCode
		wantStatus int
	}{
		{"Internal", core.ErrorCodeInternal, http.StatusInternalServerError},
		{"InvalidArgument", core.ErrorCodeInvalidArgument, http.StatusBadRequest},
		{"NotFound", core.ErrorCodeNotFound, http.StatusNotFound},
		{"AlreadyExists", core.ErrorCodeAlreadyExists, http.StatusConflict},
		{"Unauthenticated", core.ErrorCodeUnauthenticated, http.StatusUnauthorized},
		{"PermissionDenied", core.ErrorCodePermissionDenied, http.StatusForbidden},
		{"FailedPrecondition", core.ErrorCodeFailedPrecondition, http.StatusPreconditionFailed},
		{"DeadlineExceeded", core.ErrorCodeDeadlineExceeded, http.StatusGatewayTimeout},
		{"ResourceExhausted", core.ErrorCodeResourceExhausted, http.StatusTooManyRequests},
		{"Unimplemented", core.ErrorCodeUnimplemented, http.StatusNotImplemented},
		{"Unavailable", core.ErrorCodeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &core.DomainError{Code: tt.code, Message: "test"}
			if got := domainErrorToStatus(err); got != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, got)
			}
		})
	}
}

func TestDomainErrorToStatus_UnknownError(t *testing.T) {
	if got := domainErrorToStatus(errors.New("random error")); got != http.StatusInternalServerError {
		t.Errorf("expected 500 for unknown error, got %d", got)
	}
}

func TestDomainCodeToStatus_Completeness(t *testing.T) {
	// Verify the map has entries for all defined error codes.
	if len(domainCodeToStatus) < 11 {
		t.Errorf("expected at least 11 domain code mappings, got %d", len(domainCodeToStatus))
	}
}
