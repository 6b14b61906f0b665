package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/contract-ledger-service/internal/config"
	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

// SweepRunner runs the cross-tenant delinquency sweep
type SweepRunner interface {
	RunCrossTenantSweep(ctx context.Context, asOf time.Time) (*models.SweepReport, error)
}

// SweepScheduler triggers the delinquency sweep on a cron schedule
type SweepScheduler struct {
	sweeps  SweepRunner
	config  config.SweepConfig
	logger  *logrus.Logger
	now     func() time.Time
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	inRun   sync.Mutex

	lastRun    time.Time
	lastReport *models.SweepReport
	lastError  string
}

// NewSweepScheduler creates a new sweep scheduler
func NewSweepScheduler(sweeps SweepRunner, cfg config.SweepConfig, logger *logrus.Logger) *SweepScheduler {
	return &SweepScheduler{
		sweeps: sweeps,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start starts the scheduler if the in-process schedule is enabled
func (s *SweepScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if !s.config.ScheduleEnabled {
		s.logger.Info("In-process delinquency sweep schedule is disabled")
		return nil
	}

	s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	schedule := s.config.Schedule
	if schedule == "" {
		schedule = "0 0 1 * * *" // 1 AM daily
	}
	// robfig/cron WithSeconds expects 6 fields
	if len(strings.Fields(schedule)) == 5 {
		schedule = "0 " + schedule
	}

	if _, err := s.cron.AddFunc(schedule, s.runSweep); err != nil {
		s.logger.WithError(err).Error("Failed to schedule delinquency sweep")
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.WithField("schedule", s.config.Schedule).Info("Delinquency sweep scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cron == nil {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("Delinquency sweep scheduler stopped")
}

// runSweep runs one sweep as of today. Overlapping runs are skipped.
func (s *SweepScheduler) runSweep() {
	if !s.inRun.TryLock() {
		s.logger.Warn("Previous delinquency sweep still running, skipping")
		return
	}
	defer s.inRun.Unlock()

	start := s.now()
	report, err := s.sweeps.RunCrossTenantSweep(context.Background(), start)

	s.mu.Lock()
	s.lastRun = start
	s.lastReport = report
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).Error("Scheduled delinquency sweep failed")
	}
}

// RunNow triggers an immediate sweep in the background
func (s *SweepScheduler) RunNow() {
	go s.runSweep()
}

// IsRunning returns whether the scheduler is running
func (s *SweepScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStats returns scheduler statistics
func (s *SweepScheduler) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"running":  s.running,
		"enabled":  s.config.ScheduleEnabled,
		"schedule": s.config.Schedule,
	}

	if !s.lastRun.IsZero() {
		stats["last_run"] = s.lastRun.Format(time.RFC3339)
	}
	if s.lastReport != nil {
		failed := 0
		for _, r := range s.lastReport.Results {
			if r.Failed() {
				failed++
			}
		}
		stats["last_tenants"] = s.lastReport.Tenants
		stats["last_tenants_failed"] = failed
	}
	if s.lastError != "" {
		stats["last_error"] = s.lastError
	}

	if s.cron != nil && s.running {
		entries := s.cron.Entries()
		if len(entries) > 0 {
			stats["next_run"] = entries[0].Next.Format(time.RFC3339)
		}
	}

	return stats
}
