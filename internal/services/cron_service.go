package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	auditRetention = 90 * 24 * time.Hour
	sweepTimeout   = 30 * time.Second
)

// CronService manages scheduled background jobs
type CronService struct {
	cron         *cron.Cron
	holds        *HoldService
	correlations CorrelationStore
	audit        *AuditService
	logger       *logrus.Logger
}

// NewCronService creates a new CronService. audit may be nil.
func NewCronService(holds *HoldService, correlations CorrelationStore, audit *AuditService, logger *logrus.Logger) *CronService {
	// Seconds precision so the hold sweep can run every minute on the minute
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:         c,
		holds:        holds,
		correlations: correlations,
		audit:        audit,
		logger:       logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: Sweep expired provisional holds
	// Cron format: second minute hour day month weekday
	if _, err := s.cron.AddFunc("0 * * * * *", s.sweepHoldsJob); err != nil {
		return fmt.Errorf("failed to schedule hold sweep job: %w", err)
	}
	s.logger.Info("Scheduled: Sweep expired holds (every minute)")

	// Job 2: Sweep payment correlation records past their TTL
	if _, err := s.cron.AddFunc("0 */15 * * * *", s.sweepCorrelationsJob); err != nil {
		return fmt.Errorf("failed to schedule correlation sweep job: %w", err)
	}
	s.logger.Info("Scheduled: Sweep expired payment correlations (every 15 minutes)")

	// Job 3: Cleanup old audit logs weekly on Sunday at 4 AM
	if s.audit != nil {
		if _, err := s.cron.AddFunc("0 0 4 * * 0", s.cleanupAuditLogsJob); err != nil {
			return fmt.Errorf("failed to schedule audit cleanup job: %w", err)
		}
		s.logger.Info("Scheduled: Cleanup audit logs (Sundays at 4:00 AM)")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")

	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) sweepHoldsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	s.RunHoldSweepNow(ctx)
}

func (s *CronService) sweepCorrelationsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	s.RunCorrelationSweepNow(ctx)
}

func (s *CronService) cleanupAuditLogsJob() {
	startTime := time.Now()

	removed, err := s.audit.CleanupOldAuditLogs(auditRetention)
	if err != nil {
		s.logger.WithError(err).Warn("[CRON] Failed to cleanup audit logs")
		return
	}

	s.logger.WithFields(logrus.Fields{"removed": removed, "duration": time.Since(startTime).String()}).
		Info("[CRON] Audit logs cleaned up")
}

// RunHoldSweepNow deletes expired holds immediately and returns how many were removed
func (s *CronService) RunHoldSweepNow(ctx context.Context) int64 {
	startTime := time.Now()

	removed, err := s.holds.SweepExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("[CRON] Failed to sweep expired holds")
		return 0
	}

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{"removed": removed, "duration": time.Since(startTime).String()}).
			Info("[CRON] Expired holds swept")
	}
	return removed
}

// RunCorrelationSweepNow deletes expired correlation records immediately
func (s *CronService) RunCorrelationSweepNow(ctx context.Context) int64 {
	startTime := time.Now()

	removed, err := s.correlations.DeleteExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("[CRON] Failed to sweep payment correlations")
		return 0
	}

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{"removed": removed, "duration": time.Since(startTime).String()}).
			Info("[CRON] Expired payment correlations swept")
	}
	return removed
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
