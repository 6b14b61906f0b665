package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

// SweepRunner runs the cross-tenant delinquency sweep
type SweepRunner interface {
	RunCrossTenantSweep(ctx context.Context, asOf time.Time) (*models.SweepReport, error)
}

// CronHandlers serves the scheduled trigger
type CronHandlers struct {
	sweeps SweepRunner
	logger *logrus.Logger
	now    func() time.Time
}

// NewCronHandlers creates a new cron handlers instance
func NewCronHandlers(sweeps SweepRunner, logger *logrus.Logger) *CronHandlers {
	return &CronHandlers{
		sweeps: sweeps,
		logger: logger,
		now:    time.Now,
	}
}

// EvaluateContracts runs the delinquency sweep across all tenants as of today.
// The sweep runs to completion even if the caller disconnects.
// POST /cron/evaluate-contracts
func (h *CronHandlers) EvaluateContracts(c *gin.Context) {
	report, err := h.sweeps.RunCrossTenantSweep(context.WithoutCancel(c.Request.Context()), h.now())
	if err != nil {
		h.logger.WithError(err).Error("Cross-tenant delinquency sweep could not start")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":    false,
			"error": retryLaterMessage,
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
