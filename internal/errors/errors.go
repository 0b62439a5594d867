// Package errors provides structured error types with codes for kubedash.
// Every layer (backend service, HTTP API, API client, orchestrator) reports
// failures through DashError so callers can branch on the code instead of
// matching message text.
package errors

import (
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"helm.sh/helm/v3/pkg/storage/driver"
)

// ErrorCode represents a unique identifier for error types.
// Codes are organized by category:
//   - 1xxx: K8s/cluster errors
//   - 2xxx: Request errors
//   - 3xxx: Action errors
//   - 4xxx: History/storage errors
//   - 5xxx: Helm and Flux errors
type ErrorCode int

const (
	// K8s/Cluster errors (1xxx)
	ErrK8sClientNotInitialized ErrorCode = 1001
	ErrK8sUnknownCluster       ErrorCode = 1002
	ErrK8sResourceNotFound     ErrorCode = 1003
	ErrK8sAPIError             ErrorCode = 1004
	ErrK8sClusterUnreachable   ErrorCode = 1005

	// Request errors (2xxx)
	ErrBadRequest     ErrorCode = 2001
	ErrNotFound       ErrorCode = 2002
	ErrInternalServer ErrorCode = 2003
	ErrValidation     ErrorCode = 2004
	ErrForbidden      ErrorCode = 2005
	ErrMarshalFailed  ErrorCode = 2006
	ErrBackend        ErrorCode = 2007

	// Action errors (3xxx)
	ErrActionInFlight ErrorCode = 3001
	ErrViewClosed     ErrorCode = 3002

	// History/storage errors (4xxx)
	ErrHistoryStoreNotInit ErrorCode = 4001
	ErrHistoryWriteFailed  ErrorCode = 4002
	ErrHistoryQueryFailed  ErrorCode = 4003

	// Helm and Flux errors (5xxx)
	ErrHelmClientNotInit   ErrorCode = 5001
	ErrHelmReleaseNotFound ErrorCode = 5002
	ErrHelmOperationFailed ErrorCode = 5003
	ErrFluxReleaseNotFound ErrorCode = 5004
	ErrFluxOperationFailed ErrorCode = 5005
)

// String returns a human-readable code identifier.
func (c ErrorCode) String() string {
	switch c {
	// K8s errors
	case ErrK8sClientNotInitialized:
		return "K8S_CLIENT_NOT_INITIALIZED"
	case ErrK8sUnknownCluster:
		return "K8S_UNKNOWN_CLUSTER"
	case ErrK8sResourceNotFound:
		return "K8S_RESOURCE_NOT_FOUND"
	case ErrK8sAPIError:
		return "K8S_API_ERROR"
	case ErrK8sClusterUnreachable:
		return "K8S_CLUSTER_UNREACHABLE"
	// Request errors
	case ErrBadRequest:
		return "BAD_REQUEST"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrInternalServer:
		return "INTERNAL_SERVER_ERROR"
	case ErrValidation:
		return "VALIDATION_ERROR"
	case ErrForbidden:
		return "FORBIDDEN"
	case ErrMarshalFailed:
		return "MARSHAL_FAILED"
	case ErrBackend:
		return "BACKEND_ERROR"
	// Action errors
	case ErrActionInFlight:
		return "ACTION_IN_FLIGHT"
	case ErrViewClosed:
		return "VIEW_CLOSED"
	// History errors
	case ErrHistoryStoreNotInit:
		return "HISTORY_STORE_NOT_INITIALIZED"
	case ErrHistoryWriteFailed:
		return "HISTORY_WRITE_FAILED"
	case ErrHistoryQueryFailed:
		return "HISTORY_QUERY_FAILED"
	// Helm and Flux errors
	case ErrHelmClientNotInit:
		return "HELM_CLIENT_NOT_INITIALIZED"
	case ErrHelmReleaseNotFound:
		return "HELM_RELEASE_NOT_FOUND"
	case ErrHelmOperationFailed:
		return "HELM_OPERATION_FAILED"
	case ErrFluxReleaseNotFound:
		return "FLUX_RELEASE_NOT_FOUND"
	case ErrFluxOperationFailed:
		return "FLUX_OPERATION_FAILED"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_%d", c)
	}
}

// ParseCode maps a String() identifier back to its code. Unknown identifiers
// map to ErrBackend.
func ParseCode(s string) ErrorCode {
	for _, c := range allCodes {
		if c.String() == s {
			return c
		}
	}
	return ErrBackend
}

var allCodes = []ErrorCode{
	ErrK8sClientNotInitialized, ErrK8sUnknownCluster, ErrK8sResourceNotFound, ErrK8sAPIError, ErrK8sClusterUnreachable,
	ErrBadRequest, ErrNotFound, ErrInternalServer, ErrValidation, ErrForbidden, ErrMarshalFailed, ErrBackend,
	ErrActionInFlight, ErrViewClosed,
	ErrHistoryStoreNotInit, ErrHistoryWriteFailed, ErrHistoryQueryFailed,
	ErrHelmClientNotInit, ErrHelmReleaseNotFound, ErrHelmOperationFailed, ErrFluxReleaseNotFound, ErrFluxOperationFailed,
}

// DashError is a structured error type with error codes.
type DashError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]any // Additional context for debugging
}

// Error implements the error interface.
func (e *DashError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code.String(), e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DashError) Unwrap() error {
	return e.Cause
}

// New creates a new DashError with the given code and message.
func New(code ErrorCode, message string) *DashError {
	return &DashError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a DashError.
func Wrap(code ErrorCode, message string, cause error) *DashError {
	return &DashError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithDetail adds a single detail key-value pair.
func (e *DashError) WithDetail(key string, value any) *DashError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// GetCode extracts the error code from an error if it's a DashError.
// Returns 0 if the error is not a DashError.
func GetCode(err error) ErrorCode {
	var dashErr *DashError
	if errors.As(err, &dashErr) {
		return dashErr.Code
	}
	return 0
}

// IsCode checks if an error has the specified error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// Message returns the DashError message without the code prefix, or
// err.Error() for foreign errors.
func Message(err error) string {
	var dashErr *DashError
	if errors.As(err, &dashErr) {
		return dashErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsNotFound reports whether err means "the thing does not exist": any of
// the coded not-found errors, a Kubernetes 404, or a missing Helm release.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrNotFound, ErrK8sResourceNotFound, ErrHelmReleaseNotFound, ErrFluxReleaseNotFound:
		return true
	}
	return apierrors.IsNotFound(err) || errors.Is(err, driver.ErrReleaseNotFound)
}

// IsValidation reports whether err was rejected as invalid input.
func IsValidation(err error) bool {
	code := GetCode(err)
	return code == ErrValidation || code == ErrBadRequest
}

// --- Convenience constructors for common errors ---

// K8sClientNotInitialized returns an error for when the K8s client isn't ready.
func K8sClientNotInitialized() *DashError {
	return New(ErrK8sClientNotInitialized, "K8s client not initialized")
}

// UnknownCluster returns an error for a cluster name with no kubeconfig context.
func UnknownCluster(name string) *DashError {
	return New(ErrK8sUnknownCluster, fmt.Sprintf("cluster %q is not configured", name)).
		WithDetail("cluster", name)
}

// K8sResourceNotFound returns an error when a K8s resource can't be found.
func K8sResourceNotFound(kind, namespace, name string) *DashError {
	return New(ErrK8sResourceNotFound, fmt.Sprintf("%s %s/%s not found", kind, namespace, name)).
		WithDetail("kind", kind).
		WithDetail("namespace", namespace).
		WithDetail("name", name)
}

// HelmReleaseNotFound returns an error when a Helm release has no history.
func HelmReleaseNotFound(namespace, name string) *DashError {
	return New(ErrHelmReleaseNotFound, fmt.Sprintf("release %s/%s not found", namespace, name)).
		WithDetail("namespace", namespace).
		WithDetail("release", name)
}

// FluxReleaseNotFound returns an error when no HelmRelease exists under any
// supported API version.
func FluxReleaseNotFound(namespace, name string) *DashError {
	return New(ErrFluxReleaseNotFound, fmt.Sprintf("HelmRelease %s/%s not found", namespace, name)).
		WithDetail("namespace", namespace).
		WithDetail("release", name)
}

// ValidationError returns an error for invalid input.
func ValidationError(message string) *DashError {
	return New(ErrValidation, message)
}

// Forbidden returns an error for a denied RBAC check.
func Forbidden(message string) *DashError {
	return New(ErrForbidden, message)
}

// ActionInFlight returns an error when an action of the same kind is already
// running on a view.
func ActionInFlight(kind string) *DashError {
	return New(ErrActionInFlight, fmt.Sprintf("%s already in progress", kind)).
		WithDetail("action", kind)
}

// ViewClosed returns an error for operations on a torn-down view.
func ViewClosed() *DashError {
	return New(ErrViewClosed, "deployment view is closed")
}

// BackendError wraps a failed backend call.
func BackendError(message string, cause error) *DashError {
	return Wrap(ErrBackend, message, cause)
}

// InternalError wraps an internal error with additional context.
func InternalError(message string, cause error) *DashError {
	return Wrap(ErrInternalServer, message, cause)
}

// MarshalError returns an error for JSON marshaling failures.
func MarshalError(cause error) *DashError {
	return Wrap(ErrMarshalFailed, "failed to marshal data", cause)
}
