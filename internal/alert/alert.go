package alert

import (
	"encoding/json"
	"fmt"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/orgstack/hrms/internal/logger"
	"github.com/orgstack/hrms/internal/metrics"
	"github.com/orgstack/hrms/internal/models"
)

// Service is the out-of-band alerting channel used by the audit pipeline
// when a record can no longer be delivered through the normal path. It
// persists an AlertEvent row and fans the message out to every configured
// shoutrrr URL.
type Service struct {
	DB   *gorm.DB
	URLs []string
}

// New returns an alert service delivering to the given shoutrrr URLs.
func New(db *gorm.DB, urls []string) *Service {
	return &Service{DB: db, URLs: urls}
}

// Emergency records and fans out a critical alert. It is the last line of
// defense and therefore never returns an error: every failure inside it is
// logged at the highest severity instead.
func (s *Service) Emergency(title, message string, context map[string]interface{}) {
	metrics.IncEmergency()

	entry := logger.WithFields(map[string]interface{}{
		"title":   title,
		"context": compactContext(context),
	})
	entry.Errorf("AUDIT EMERGENCY: %s", message)

	event := models.AlertEvent{
		Severity: "critical",
		Title:    title,
		Message:  message,
		Context:  context,
	}
	if err := s.DB.Create(&event).Error; err != nil {
		entry.Errorf("failed to persist alert event: %v", err)
	}

	body := fmt.Sprintf("%s\n\n%s", title, message)
	for _, url := range s.URLs {
		go func(u string) {
			if err := shoutrrr.Send(u, body); err != nil {
				logger.Log().Errorf("failed to send emergency alert: %v", err)
			}
		}(url)
	}
}

// Recent returns the newest alert events for operator inspection.
func (s *Service) Recent(limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.AlertEvent
	err := s.DB.Order("created_at desc").Limit(limit).Find(&events).Error
	return events, err
}

func compactContext(context map[string]interface{}) string {
	if len(context) == 0 {
		return ""
	}
	b, err := json.Marshal(context)
	if err != nil {
		return fmt.Sprintf("%v", context)
	}
	return string(b)
}
