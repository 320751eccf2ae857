package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"roadmap/internal/types"
)

// maxRequestBodySize caps JSON bodies. Profile and roadmap payloads are a
// few KB; generated topic imports stay well under it.
const maxRequestBodySize = 1 << 20

const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

// APIErrorResponse is the body of every non-2xx JSON response.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

type failureKey struct{}

// failure carries the cause of an error response from Error back to
// RequestLogger, which is the only place it is logged.
type failure struct {
	err error
}

func noteFailure(r *http.Request, err error) {
	if f, ok := r.Context().Value(failureKey{}).(*failure); ok {
		f.err = err
	}
}

// JSON writes data with the given status. A value that cannot be encoded
// becomes a 500 envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		noteFailure(r, err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(envelope(r, types.ErrCodeInternalUnexpected, "failed to encode response", nil))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes the error envelope for err. AppErrors keep their code,
// message and details; anything else is reported as internal_unexpected_error
// with a fixed message. The wrapped cause never reaches the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		noteFailure(r, err)
		JSON(w, r, http.StatusInternalServerError,
			envelope(r, types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
		return
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		noteFailure(r, appErr)
	}
	JSON(w, r, status, envelope(r, appErr.Code, appErr.Message, appErr.Details))
}

func envelope(r *http.Request, code types.ErrorCode, message string, details map[string]any) APIErrorResponse {
	return APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   message,
		Details:   details,
		RequestID: types.GetRequestID(r.Context()),
	}}
}

// DecodeJSON strictly decodes a single JSON object from the body into dst.
// Unknown fields, trailing values, empty and oversized bodies all fail with
// validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func decodeError(err error) *types.AppError {
	var (
		maxBytesErr  *http.MaxBytesError
		syntaxErr    *json.SyntaxError
		typeErr      *json.UnmarshalTypeError
		invalidJSON  = func(msg string) *types.AppError { return types.NewAppError(errCodeValidationInvalidJSON, msg, err) }
		unknownField = "json: unknown field "
	)

	switch {
	case errors.As(err, &maxBytesErr):
		return invalidJSON("request body must not exceed 1MB")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return invalidJSON("malformed JSON in request body")
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), unknownField):
		field := strings.Trim(strings.TrimPrefix(err.Error(), unknownField), `"`)
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "unknown field in request body", err,
			map[string]any{"field": field})
	case errors.Is(err, io.EOF):
		return invalidJSON("request body must not be empty")
	default:
		return invalidJSON("invalid JSON in request body")
	}
}

// DecodeAndValidate decodes the body into dst and runs its validate tags.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v *Validator, dst any) error {
	if err := DecodeJSON(w, r, dst); err != nil {
		return err
	}
	return v.ValidateStruct(dst)
}

// NoContent writes a bare 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
