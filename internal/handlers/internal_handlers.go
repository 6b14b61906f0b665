package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/tenant"
)

// ConnectionInvalidator drops a tenant's pooled database handle
type ConnectionInvalidator interface {
	Invalidate(ctx context.Context, tenantID string)
}

// StatsSource reports operational statistics
type StatsSource interface {
	GetStats() map[string]interface{}
}

// InternalHandlers serves service-to-service operational endpoints
type InternalHandlers struct {
	connections ConnectionInvalidator
	stats       map[string]StatsSource
	logger      *logrus.Logger
}

// NewInternalHandlers creates a new internal handlers instance
func NewInternalHandlers(connections ConnectionInvalidator, stats map[string]StatsSource, logger *logrus.Logger) *InternalHandlers {
	return &InternalHandlers{
		connections: connections,
		stats:       stats,
		logger:      logger,
	}
}

// InvalidateTenant drops the tenant's pooled handle and cached configuration
// DELETE /internal/tenants/:tenant_id/connection
func (h *InternalHandlers) InvalidateTenant(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if err := tenant.ValidateTenantID(tenantID); err != nil {
		ValidationErrorResponse(c, "tenant_id", err.Error())
		return
	}

	h.connections.Invalidate(c.Request.Context(), tenantID)
	h.logger.WithField("tenant_id", tenantID).Info("Tenant connection invalidated on request")

	SuccessResponse(c, http.StatusOK, "Tenant connection invalidated", gin.H{"tenant_id": tenantID})
}

// Stats returns the statistics of every registered source
// GET /internal/stats
func (h *InternalHandlers) Stats(c *gin.Context) {
	out := make(gin.H, len(h.stats))
	for name, source := range h.stats {
		if source == nil {
			continue
		}
		out[name] = source.GetStats()
	}
	c.JSON(http.StatusOK, out)
}
