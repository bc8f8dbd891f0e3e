package core

import (
	"errors"
	"fmt"
)

// ErrClusterNotFound indicates that the requested cluster is not
// configured.
type ErrClusterNotFound struct {
	Cluster string
}

func (e *ErrClusterNotFound) Error() string {
	return fmt.Sprintf("cluster %s not registered", e.Cluster)
}

// ErrInvalidInput indicates a domain-level input validation failure.
type ErrInvalidInput struct {
	Field   string
	Message string
}

func (e *ErrInvalidInput) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ErrUnknownResource is returned by the resolver for a resource name
// that is not in the resource table. It is a configuration error and
// is never retried.
type ErrUnknownResource struct {
	Resource string
}

func (e *ErrUnknownResource) Error() string {
	return fmt.Sprintf("unknown resource type %q", e.Resource)
}

// ErrExpiredCursor indicates that the upstream no longer retains the
// requested resourceVersion. The watch must restart from current
// state.
type ErrExpiredCursor struct {
	ResourceVersion string
	Message         string
}

func (e *ErrExpiredCursor) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("resource version %q expired: %s", e.ResourceVersion, e.Message)
	}
	return fmt.Sprintf("resource version %q expired", e.ResourceVersion)
}

// ErrRegistryClosed is returned when subscribing on a registry whose
// cluster has been shut down.
var ErrRegistryClosed = errors.New("cluster registry is shut down")

// ErrorCode is a transport-neutral classification of a failure. The
// handler layer maps it to an HTTP status.
type ErrorCode int

const (
	ErrorCodeInternal ErrorCode = iota
	ErrorCodeInvalidArgument
	ErrorCodeNotFound
	ErrorCodeAlreadyExists
	ErrorCodePermissionDenied
	ErrorCodeUnauthenticated
	ErrorCodeFailedPrecondition
	ErrorCodeResourceExhausted
	ErrorCodeDeadlineExceeded
	ErrorCodeUnimplemented
	ErrorCodeUnavailable
)

// DomainError carries an ErrorCode alongside the upstream cause.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// IsExpiredCursor reports whether err is, or wraps, an ErrExpiredCursor.
func IsExpiredCursor(err error) bool {
	var target *ErrExpiredCursor
	return errors.As(err, &target)
}
