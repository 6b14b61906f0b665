package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/middleware"
	"github.com/tesseract-hub/contract-ledger-service/internal/services"
)

const retryLaterMessage = "The ledger is temporarily unavailable, please retry later"

// SuccessResponse sends a standardized success response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	response := gin.H{
		"success":    true,
		"message":    message,
		"request_id": c.GetString(middleware.RequestIDKey),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		response["data"] = data
	}
	c.JSON(statusCode, response)
}

// ErrorResponse sends a standardized error response
func ErrorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"success":    false,
		"error":      code,
		"message":    message,
		"request_id": c.GetString(middleware.RequestIDKey),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ValidationErrorResponse sends a validation error response for one field
func ValidationErrorResponse(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success":    false,
		"error":      string(services.KindValidation),
		"message":    "Validation failed",
		"errors":     map[string]string{field: message},
		"request_id": c.GetString(middleware.RequestIDKey),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor maps a ledger error kind to its HTTP status
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindContractNotFound:
		return http.StatusNotFound
	case services.KindPlotNotSellable, services.KindContractClosed, services.KindContractNotCancellable:
		return http.StatusConflict
	case services.KindInvalidSchedule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

// LedgerErrorResponse renders an error returned by the ledger services.
// Infrastructure failures are logged and shown as a generic retry message.
func LedgerErrorResponse(c *gin.Context, logger *logrus.Logger, err error) {
	kind := services.KindOf(err)

	if validationErr, ok := services.IsValidationError(err); ok {
		ValidationErrorResponse(c, validationErr.Field, validationErr.Message)
		return
	}

	if kind == services.KindInfrastructure {
		logger.WithFields(logrus.Fields{
			"tenant_id":  middleware.GetTenantID(c),
			"request_id": c.GetString(middleware.RequestIDKey),
			"path":       c.Request.URL.Path,
		}).WithError(err).Error("Ledger operation failed")
		ErrorResponse(c, statusFor(kind), string(kind), retryLaterMessage)
		return
	}

	message := err.Error()
	if ledgerErr, ok := services.AsLedgerError(err); ok {
		message = ledgerErr.Message
	}
	ErrorResponse(c, statusFor(kind), string(kind), message)
}
