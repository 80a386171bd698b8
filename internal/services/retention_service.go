package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/orgstack/hrms/internal/logger"
	"github.com/orgstack/hrms/internal/models"
)

// RetentionService purges ledger entries older than the configured window.
// Purging is a chain-breaking operation: verification over a purged range
// will report a broken link at the cut, and that is expected.
type RetentionService struct {
	DB   *gorm.DB
	Days int

	cron *cron.Cron
}

// NewRetentionService returns a retention service. Days <= 0 disables
// purging entirely.
func NewRetentionService(db *gorm.DB, days int) *RetentionService {
	return &RetentionService{DB: db, Days: days}
}

// Start schedules the nightly purge.
func (s *RetentionService) Start() error {
	if s.Days <= 0 {
		logger.Log().Info("audit retention disabled, keeping records forever")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("0 3 * * *", func() {
		if _, err := s.Purge(); err != nil {
			logger.Log().Errorf("audit retention purge failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention purge: %w", err)
	}
	s.cron.Start()

	logger.WithFields(map[string]interface{}{"days": s.Days}).Info("audit retention purge scheduled")
	return nil
}

// Stop halts the schedule.
func (s *RetentionService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Purge deletes records older than the retention window and returns how
// many rows were removed.
func (s *RetentionService) Purge() (int64, error) {
	if s.Days <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.Days)
	res := s.DB.Where("created_at < ?", cutoff).Delete(&models.AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge audit records: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"removed": res.RowsAffected,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Warn("retention purge removed ledger entries; the chain is broken at the cut")
	}

	return res.RowsAffected, nil
}
