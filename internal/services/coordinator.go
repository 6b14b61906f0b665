package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

// TenantLister lists the tenants the sweep runs against
type TenantLister interface {
	ListActiveTenants(ctx context.Context) ([]string, error)
}

// DelinquencyEvaluator runs the single-tenant delinquency sweep
type DelinquencyEvaluator interface {
	EvaluateDelinquency(ctx context.Context, tenantID string, asOf time.Time) (int, error)
}

// SweepObserver records sweep outcomes
type SweepObserver interface {
	ObserveTenantSweep(flagged int, err error)
	ObserveSweep(duration time.Duration)
}

// SweepCoordinator runs the delinquency sweep across every active tenant
type SweepCoordinator struct {
	tenants       TenantLister
	evaluator     DelinquencyEvaluator
	observer      SweepObserver
	logger        *logrus.Logger
	tenantTimeout time.Duration
}

// NewSweepCoordinator creates a new sweep coordinator. observer may be nil.
func NewSweepCoordinator(tenants TenantLister, evaluator DelinquencyEvaluator, observer SweepObserver, logger *logrus.Logger, tenantTimeout time.Duration) *SweepCoordinator {
	if tenantTimeout == 0 {
		tenantTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SweepCoordinator{
		tenants:       tenants,
		evaluator:     evaluator,
		observer:      observer,
		logger:        logger,
		tenantTimeout: tenantTimeout,
	}
}

// RunCrossTenantSweep evaluates delinquency for each active tenant in turn.
// A failing tenant is recorded in the report and the sweep moves on; only a
// failure to list tenants fails the call.
func (c *SweepCoordinator) RunCrossTenantSweep(ctx context.Context, asOf time.Time) (*models.SweepReport, error) {
	start := time.Now()
	asOf = models.DateOf(asOf)

	tenantIDs, err := c.tenants.ListActiveTenants(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Failed to get tenant list for delinquency sweep")
		return nil, NewInfrastructureError("failed to list active tenants", err)
	}

	c.logger.WithFields(logrus.Fields{
		"as_of":   asOf.Format(models.DateLayout),
		"tenants": len(tenantIDs),
	}).Info("Starting cross-tenant delinquency sweep")

	report := &models.SweepReport{
		OK:      true,
		Tenants: len(tenantIDs),
		Results: make([]models.TenantSweepResult, 0, len(tenantIDs)),
	}

	var totalFlagged, failed int
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			report.Results = append(report.Results, models.TenantSweepResult{
				TenantID: tenantID,
				Error:    "sweep aborted: " + ctx.Err().Error(),
			})
			failed++
			continue
		}

		flagged, err := c.sweepTenant(ctx, tenantID, asOf)
		if c.observer != nil {
			c.observer.ObserveTenantSweep(flagged, err)
		}
		if err != nil {
			c.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Delinquency sweep failed for tenant")
			report.Results = append(report.Results, models.TenantSweepResult{
				TenantID: tenantID,
				Error:    err.Error(),
			})
			failed++
			continue
		}

		updated := flagged
		report.Results = append(report.Results, models.TenantSweepResult{
			TenantID: tenantID,
			Updated:  &updated,
		})
		totalFlagged += flagged
	}

	duration := time.Since(start)
	if c.observer != nil {
		c.observer.ObserveSweep(duration)
	}

	c.logger.WithFields(logrus.Fields{
		"as_of":          asOf.Format(models.DateLayout),
		"tenants_total":  len(tenantIDs),
		"tenants_failed": failed,
		"flagged":        totalFlagged,
		"duration":       duration.String(),
	}).Info("Completed cross-tenant delinquency sweep")

	return report, nil
}

// sweepTenant runs one tenant under its own deadline. A panic is reported as
// that tenant's failure.
func (c *SweepCoordinator) sweepTenant(ctx context.Context, tenantID string, asOf time.Time) (flagged int, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.tenantTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during tenant sweep: %v", r)
		}
	}()

	return c.evaluator.EvaluateDelinquency(ctx, tenantID, asOf)
}
