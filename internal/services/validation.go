package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error          string            `json:"error"`                    // Error message
	Code           string            `json:"code,omitempty"`           // Stable error code
	Retryable      bool              `json:"retryable,omitempty"`      // Safe to retry with the same idempotency key
	IdempotencyKey string            `json:"idempotencyKey,omitempty"` // Echo of the Idempotency-Key header
	Details        map[string]string `json:"details,omitempty"`        // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}
	writeErrorResponse(w, statusCode, errorResp)
}

// StatusFor maps an error Kind to its HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPrecondition, KindDuplicateReference:
		return http.StatusConflict
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// SendServiceError writes err using its Kind. Internal failures hide the
// cause and echo the caller's idempotency key so the request can be retried.
func SendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		writeErrorResponse(w, http.StatusInternalServerError, ErrorResponse{
			Error:          "internal error",
			Code:           string(KindInternal),
			Retryable:      true,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		return
	}

	resp := ErrorResponse{Error: svcErr.Message, Code: svcErr.Code}
	if svcErr == ErrConcurrentUpdate || errors.Is(err, ErrConcurrentUpdate) {
		resp.Retryable = true
		resp.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	writeErrorResponse(w, StatusFor(svcErr.Kind), resp)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
