package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SystemActor is recorded when no authenticated actor exists.
const SystemActor = "SYSTEM"

// AuditAction is the closed set of recordable actions.
type AuditAction string

const (
	ActionCreate  AuditAction = "CREATE"
	ActionUpdate  AuditAction = "UPDATE"
	ActionDelete  AuditAction = "DELETE"
	ActionApprove AuditAction = "APPROVE"
	ActionReject  AuditAction = "REJECT"
	ActionAssign  AuditAction = "ASSIGN"
	ActionView    AuditAction = "VIEW"
	ActionClose   AuditAction = "CLOSE"
	ActionExport  AuditAction = "EXPORT"
	ActionLogin   AuditAction = "LOGIN"
	ActionLogout  AuditAction = "LOGOUT"
)

// AuditRecord is the immutable unit of history. Semantic fields are never
// altered after creation; only the integrity columns may be rewritten, and
// only by an explicit chain repair.
type AuditRecord struct {
	ID             string      `json:"id" gorm:"primaryKey;size:36"`
	ActorID        string      `json:"actor_id" gorm:"size:64;not null;index"`
	ActorProfileID *uint       `json:"actor_profile_id,omitempty"`
	EntityType     string      `json:"entity_type" gorm:"size:64;not null;index"`
	EntityID       string      `json:"entity_id" gorm:"size:64;index"`
	EntityDisplay  string      `json:"entity_display,omitempty" gorm:"size:255"`
	Action         AuditAction `json:"action" gorm:"size:32;not null;index"`
	Module         string      `json:"module" gorm:"size:64;index"`

	OldValues     JSONMap    `json:"old_values,omitempty" gorm:"type:text"`
	NewValues     JSONMap    `json:"new_values,omitempty" gorm:"type:text"`
	ChangedFields StringList `json:"changed_fields,omitempty" gorm:"type:text"`

	IPAddress string  `json:"ip_address,omitempty" gorm:"size:45"`
	UserAgent string  `json:"user_agent,omitempty" gorm:"size:255"`
	Metadata  JSONMap `json:"metadata,omitempty" gorm:"type:text"`

	// Integrity envelope. PreviousHash is null only for the first record
	// ever written.
	Hash           string    `json:"hash" gorm:"size:64"`
	PreviousHash   *string   `json:"previous_hash" gorm:"size:64"`
	Signature      string    `json:"signature" gorm:"size:64"`
	ChainTimestamp time.Time `json:"chain_timestamp"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for AuditRecord.
func (AuditRecord) TableName() string {
	return "audit_records"
}

// BeforeCreate assigns a time-sortable id when the caller did not.
func (r *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewRecordID()
	}
	return nil
}

// HasChainLink reports whether integrity metadata was ever attached.
func (r *AuditRecord) HasChainLink() bool {
	return r.Hash != "" && r.Signature != ""
}

// NewRecordID returns a globally unique, time-sortable record id.
func NewRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails if the entropy source does; fall back to random.
		return uuid.New().String()
	}
	return id.String()
}
