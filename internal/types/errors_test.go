package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeNotFoundSkill,
		Message: "skill not found",
	}

	expected := "not_found_skill: skill not found"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to query users", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the underlying error")
	}
	if NewAppError(ErrCodeNotFoundUser, "x", nil).Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("handler failed: %w", NewAppError(ErrCodeAuthTokenExpired, "token has expired", nil))

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeAuthTokenExpired {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeAuthTokenExpired)
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationCounterKind, http.StatusBadRequest},
		{ErrCodeSignatureInvalid, http.StatusBadRequest},
		{ErrCodeSignatureMissingHeaders, http.StatusBadRequest},
		{ErrCodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodeAuthTokenExpired, http.StatusUnauthorized},
		{ErrCodeForbiddenNotOwner, http.StatusForbidden},
		{ErrCodeForbiddenAdmin, http.StatusForbidden},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeQuotaExceeded, http.StatusTooManyRequests},
		{ErrCodeNotFoundUser, http.StatusNotFound},
		{ErrCodeNotFoundTask, http.StatusNotFound},
		{ErrCodeConflictEmail, http.StatusConflict},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalPlanIntegrity, http.StatusInternalServerError},
		{ErrCodeUpstreamStripe, http.StatusBadGateway},
		{ErrCodeUpstreamLLM, http.StatusBadGateway},
		{ErrCodeUpstreamCircuitOpen, http.StatusServiceUnavailable},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorWithDetailsCopies(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeQuotaExceeded, "quota exceeded", nil, map[string]any{"used": 3})
	extended := base.WithDetails(map[string]any{"limit": 3})

	if len(base.Details) != 1 {
		t.Errorf("base details mutated: %v", base.Details)
	}
	if extended.Details["used"] != 3 || extended.Details["limit"] != 3 {
		t.Errorf("merged details = %v", extended.Details)
	}
	if extended.Code != base.Code {
		t.Errorf("code changed: %q", extended.Code)
	}
}

func TestIsNotFoundAndIsCode(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewAppError(ErrCodeNotFoundTopic, "topic not found", nil))

	if !IsNotFound(err) {
		t.Error("IsNotFound should match not_found_topic")
	}
	if !IsCode(err, ErrCodeNotFoundTopic) {
		t.Error("IsCode should match exact code")
	}
	if IsCode(err, ErrCodeNotFoundTask) {
		t.Error("IsCode should not match a different code")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("plain errors are never not-found")
	}
}
