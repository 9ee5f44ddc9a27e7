package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/utils"
)

// Error codes returned in the error envelope
const (
	CodeInvalidPrompt      = "invalid_prompt"
	CodeBudgetExceeded     = "budget_exceeded"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeServiceUnavailable = "service_unavailable"
	CodeUpstreamError      = "upstream_error"
	CodeInternalError      = "internal_error"
)

// executionFailedMessage is the only text callers see for provider
// failures; the cause is logged under the request ID
const executionFailedMessage = "The model provider failed to answer the request"

// ErrorStatus maps a domain error to its HTTP status and error code
func ErrorStatus(err error) (int, string) {
	switch {
	case services.IsValidationError(err):
		return http.StatusBadRequest, CodeInvalidPrompt
	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized, "unauthorized"
	case services.IsNotFoundError(err):
		return http.StatusNotFound, "not_found"
	case services.IsRateLimitError(err):
		return http.StatusTooManyRequests, CodeRateLimitExceeded
	case services.IsBudgetError(err):
		return http.StatusPaymentRequired, CodeBudgetExceeded
	case services.IsConfigurationError(err):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case services.IsExecutionError(err), services.IsExternalError(err):
		return http.StatusBadGateway, CodeUpstreamError
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// HandleServiceError maps domain errors to HTTP responses. Provider and
// internal failures are reported opaquely with the request ID.
func HandleServiceError(w http.ResponseWriter, err error, requestID string, logger *zap.Logger) {
	if err == nil {
		return
	}

	status, code := ErrorStatus(err)
	details := services.GetErrorDetails(err)
	message := err.Error()

	switch status {
	case http.StatusBadGateway:
		logger.Error("model execution failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		message = executionFailedMessage
		details = map[string]interface{}{"request_id": requestID}

	case http.StatusInternalServerError:
		logger.Error("internal server error",
			zap.String("request_id", requestID),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Bool("unclassified", !services.IsInternalError(err)),
			zap.Error(err))
		message = "An internal error occurred"
		details = map[string]interface{}{"request_id": requestID}

	default:
		if msg := domainMessage(err); msg != "" {
			message = msg
		}
		logger.Debug("handled service error",
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.Error(err))
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	if err := utils.WriteError(w, status, code, message, details); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// domainMessage returns the caller-facing message of a domain error
func domainMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}
