package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants.
// Handlers use these constants instead of hardcoded strings; the prefix of
// each code decides the HTTP status (see HTTPStatus).
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidInput  ErrorCode = "validation_invalid_input"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidID     ErrorCode = "validation_invalid_id"
	ErrCodeValidationCounterKind   ErrorCode = "validation_invalid_counter_kind"
	ErrCodeValidationTaskAction    ErrorCode = "validation_invalid_task_action"
	ErrCodeValidationSubscription  ErrorCode = "validation_subscription_state"
	ErrCodeSignatureInvalid        ErrorCode = "signature_invalid"
	ErrCodeSignatureMissingHeaders ErrorCode = "signature_missing_headers"

	// Method (405)
	ErrCodeMethodNotAllowed ErrorCode = "method_not_allowed"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired ErrorCode = "auth_token_expired"

	// Permission (403)
	ErrCodeForbiddenNotOwner ErrorCode = "forbidden_not_owner"
	ErrCodeForbiddenAdmin    ErrorCode = "forbidden_admin_only"

	// Limits (429)
	ErrCodeRateLimit     ErrorCode = "rate_limit_exceeded"
	ErrCodeQuotaExceeded ErrorCode = "rate_limit_quota_exceeded"

	// Not Found (404)
	ErrCodeNotFoundUser         ErrorCode = "not_found_user"
	ErrCodeNotFoundPlan         ErrorCode = "not_found_plan"
	ErrCodeNotFoundSkill        ErrorCode = "not_found_skill"
	ErrCodeNotFoundTopic        ErrorCode = "not_found_topic"
	ErrCodeNotFoundTask         ErrorCode = "not_found_task"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundCustomer     ErrorCode = "not_found_customer"

	// Conflict (409)
	ErrCodeConflictEmail      ErrorCode = "conflict_email_exists"
	ErrCodeConflictExternalID ErrorCode = "conflict_external_id_exists"
	ErrCodeConflictPlanName   ErrorCode = "conflict_plan_name_exists"

	// Internal/Upstream (500/502/503)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalCache         ErrorCode = "internal_cache_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalPlanIntegrity ErrorCode = "internal_plan_integrity"
	ErrCodeUpstreamStripe        ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamClerk         ErrorCode = "upstream_clerk_unavailable"
	ErrCodeUpstreamLLM           ErrorCode = "upstream_llm_unavailable"
	ErrCodeUpstreamLLMResponse   ErrorCode = "upstream_llm_response_invalid"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamEmailRejected ErrorCode = "upstream_email_rejected"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamCircuitOpen   ErrorCode = "upstream_circuit_open"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"), strings.HasPrefix(s, "signature_"):
		return http.StatusBadRequest
	case s == string(ErrCodeMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "forbidden_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "rate_limit_"):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodeUpstreamCircuitOpen):
		return http.StatusServiceUnavailable
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type.
// Domain and handler errors are expressed as AppError so the API layer can
// format them consistently and map them to HTTP statuses.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsNotFound reports whether err is an AppError whose code maps to 404.
func IsNotFound(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.HTTPStatus() == http.StatusNotFound
}

// IsCode reports whether err is an AppError with exactly the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}
