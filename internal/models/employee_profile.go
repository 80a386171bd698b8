package models

import (
	"time"
)

// EmployeeProfile is the durable internal profile behind an external actor
// identity. The audit facade resolves ExternalID to ID lazily and caches the
// result briefly.
type EmployeeProfile struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ExternalID  string    `json:"external_id" gorm:"uniqueIndex;size:64;not null"`
	DisplayName string    `json:"display_name" gorm:"size:255"`
	Email       string    `json:"email" gorm:"size:255"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
