package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeadLetter retains a delivery-exhausted audit record for manual
// inspection. Dead letters are never retried automatically.
type DeadLetter struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	RecordID    string    `json:"record_id" gorm:"size:36;index"`
	Payload     string    `json:"payload" gorm:"type:text"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error" gorm:"type:text"`
	Reprocessed bool      `json:"reprocessed" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *DeadLetter) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
