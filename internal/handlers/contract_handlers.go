package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/middleware"
	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/services"
)

// ContractHandlers handles HTTP requests for plot sale contracts
type ContractHandlers struct {
	service *services.ContractService
	logger  *logrus.Logger
	now     func() time.Time
}

// NewContractHandlers creates a new contract handlers instance
func NewContractHandlers(service *services.ContractService, logger *logrus.Logger) *ContractHandlers {
	return &ContractHandlers{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterRoutes mounts the contract routes. Cancellation is gated to
// admin and manager roles.
func (h *ContractHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	contracts := rg.Group("/contracts")
	{
		contracts.POST("", h.CreateContract)
		contracts.POST("/evaluate-delinquency", h.EvaluateDelinquency)
		contracts.GET("/:id", h.GetContract)
		contracts.GET("/:id/summary", h.GetContractSummary)
		contracts.POST("/:id/payments", h.PostPayment)
		contracts.POST("/:id/cancel", middleware.RequireRole(h.logger, "admin", "manager"), h.CancelContract)
	}
}

// CreateContract originates a contract on a plot
// POST /api/v1/contracts
func (h *ContractHandlers) CreateContract(c *gin.Context) {
	var req models.CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "body", "Invalid request body: "+err.Error())
		return
	}

	contractID, err := h.service.CreateContract(c.Request.Context(), middleware.GetTenantID(c), req, middleware.GetUserID(c))
	if err != nil {
		LedgerErrorResponse(c, h.logger, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "Contract created", models.CreateContractResponse{ContractID: contractID})
}

// GetContract returns a contract with its ledger
// GET /api/v1/contracts/:id
func (h *ContractHandlers) GetContract(c *gin.Context) {
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	detail, err := h.service.GetContract(c.Request.Context(), middleware.GetTenantID(c), contractID)
	if err != nil {
		LedgerErrorResponse(c, h.logger, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Contract retrieved", detail)
}

// GetContractSummary returns a contract's balances
// GET /api/v1/contracts/:id/summary
func (h *ContractHandlers) GetContractSummary(c *gin.Context) {
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	summary, err := h.service.GetContractSummary(c.Request.Context(), middleware.GetTenantID(c), contractID)
	if err != nil {
		LedgerErrorResponse(c, h.logger, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Contract summary retrieved", summary)
}

// PostPayment applies a payment to a contract
// POST /api/v1/contracts/:id/payments
func (h *ContractHandlers) PostPayment(c *gin.Context) {
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	var req models.PostPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "body", "Invalid request body: "+err.Error())
		return
	}

	paymentID, err := h.service.PostPayment(c.Request.Context(), middleware.GetTenantID(c), contractID, req, middleware.GetUserID(c))
	if err != nil {
		LedgerErrorResponse(c, h.logger, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "Payment posted", models.PostPaymentResponse{PaymentID: paymentID})
}

// CancelContract cancels a contract and settles its refund
// POST /api/v1/contracts/:id/cancel
func (h *ContractHandlers) CancelContract(c *gin.Context) {
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	var req models.CancelContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "body", "Invalid request body: "+err.Error())
		return
	}

	settlement, err := h.service.CancelContract(c.Request.Context(), middleware.GetTenantID(c), contractID, req, middleware.GetUserID(c))
	if err != nil {
		LedgerErrorResponse(c, h.logger, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Contract cancelled", settlement)
}

// EvaluateDelinquency runs the delinquency sweep for the caller's tenant
// POST /api/v1/contracts/evaluate-delinquency
func (h *ContractHandlers) EvaluateDelinquency(c *gin.Context) {
	var req models.EvaluateDelinquencyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ValidationErrorResponse(c, "body", "Invalid request body: "+err.Error())
		return
	}

	asOf := h.now()
	if req.AsOf != nil && !req.AsOf.IsZero() {
		asOf = req.AsOf.Time
	}

	updated, err := h.service.EvaluateDelinquency(c.Request.Context(), middleware.GetTenantID(c), asOf)
	if err != nil {
		LedgerErrorResponse(c, h.logger, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Delinquency evaluated", gin.H{
		"asOf":    models.NewDate(asOf),
		"updated": updated,
	})
}

func contractIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ValidationErrorResponse(c, "id", "Invalid contract ID")
		return uuid.Nil, false
	}
	return id, true
}
