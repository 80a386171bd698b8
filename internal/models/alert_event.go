package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertEvent persists an out-of-band alert raised by the audit pipeline,
// so operators can inspect emergencies even when no external notification
// channel is configured.
type AlertEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Severity  string    `json:"severity" gorm:"size:16;index"`
	Title     string    `json:"title" gorm:"size:255"`
	Message   string    `json:"message" gorm:"type:text"`
	Context   JSONMap   `json:"context,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *AlertEvent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
