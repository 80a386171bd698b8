package audit

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/orgstack/hrms/internal/logger"
	"github.com/orgstack/hrms/internal/models"
)

const profileCacheTTL = 5 * time.Minute

// Context describes who performed an action and from where.
type Context struct {
	ActorID   string
	Module    string
	IPAddress string
	UserAgent string
	Metadata  map[string]interface{}
}

// Change describes what was done to which resource.
type Change struct {
	Action        models.AuditAction
	EntityType    string
	EntityID      string
	EntityDisplay string
	OldValues     map[string]interface{}
	NewValues     map[string]interface{}
	Priority      Priority
	Synchronous   bool
}

// Entry is the merged form of Context plus Change. Both calling conventions
// normalize to it before routing.
type Entry struct {
	Context
	Change
}

// Service is the ingestion facade consumed by business-logic collaborators.
// It resolves actor profiles, computes field diffs, and hands finished
// records to the router. Audit failures are reported through the emergency
// channel and never surface to the business operation that triggered them.
type Service struct {
	db       *gorm.DB
	router   *Router
	profiles *profileCache
}

// NewService returns the audit ingestion facade.
func NewService(db *gorm.DB, router *Router) *Service {
	return &Service{
		db:       db,
		router:   router,
		profiles: newProfileCache(profileCacheTTL),
	}
}

// Log records one audit entry. It never returns an error: a failed audit
// write must not fail the business operation, subject to the emergency
// alerting guarantee.
func (s *Service) Log(c Context, ch Change) {
	s.LogEntry(Entry{Context: c, Change: ch})
}

// LogEntry is the single-argument form of Log.
func (s *Service) LogEntry(e Entry) {
	rec := s.buildRecord(e.Context, e.Change)
	if err := s.router.Route(rec, RouteOptions{
		Priority:    e.Priority,
		Synchronous: e.Synchronous,
	}); err != nil {
		// The router already raised the emergency; nothing propagates here.
		logger.WithFields(map[string]interface{}{
			"record_id": rec.ID,
		}).Errorf("audit write failed: %v", err)
	}
}

// LogBatch records several changes sharing one context. Normal-priority
// entries accumulate in the router's batch as usual.
func (s *Service) LogBatch(c Context, changes []Change) {
	for _, ch := range changes {
		s.Log(c, ch)
	}
}

// LogCreate records a CREATE with the post-creation snapshot.
func (s *Service) LogCreate(c Context, entityType, entityID, display string, newValues map[string]interface{}) {
	s.Log(c, Change{
		Action:        models.ActionCreate,
		EntityType:    entityType,
		EntityID:      entityID,
		EntityDisplay: display,
		NewValues:     newValues,
	})
}

// LogUpdate records an UPDATE with both snapshots.
func (s *Service) LogUpdate(c Context, entityType, entityID, display string, oldValues, newValues map[string]interface{}) {
	s.Log(c, Change{
		Action:        models.ActionUpdate,
		EntityType:    entityType,
		EntityID:      entityID,
		EntityDisplay: display,
		OldValues:     oldValues,
		NewValues:     newValues,
	})
}

// LogDelete records a DELETE with the final snapshot. Deletes always route
// synchronously at critical priority.
func (s *Service) LogDelete(c Context, entityType, entityID, display string, oldValues map[string]interface{}) {
	s.Log(c, Change{
		Action:        models.ActionDelete,
		EntityType:    entityType,
		EntityID:      entityID,
		EntityDisplay: display,
		OldValues:     oldValues,
	})
}

// LogApprove records an APPROVE decision.
func (s *Service) LogApprove(c Context, entityType, entityID, display string) {
	s.Log(c, Change{
		Action:        models.ActionApprove,
		EntityType:    entityType,
		EntityID:      entityID,
		EntityDisplay: display,
	})
}

// LogReject records a REJECT decision.
func (s *Service) LogReject(c Context, entityType, entityID, display string) {
	s.Log(c, Change{
		Action:        models.ActionReject,
		EntityType:    entityType,
		EntityID:      entityID,
		EntityDisplay: display,
	})
}

// LogOrganizationalChange records a reassignment within the org structure.
func (s *Service) LogOrganizationalChange(c Context, entityType, entityID, display string, oldValues, newValues map[string]interface{}) {
	s.Log(c, Change{
		Action:        models.ActionAssign,
		EntityType:    entityType,
		EntityID:      entityID,
		EntityDisplay: display,
		OldValues:     oldValues,
		NewValues:     newValues,
	})
}

func (s *Service) buildRecord(c Context, ch Change) models.AuditRecord {
	actorID := c.ActorID
	if actorID == "" {
		actorID = models.SystemActor
	}

	rec := models.AuditRecord{
		ID:             models.NewRecordID(),
		ActorID:        actorID,
		ActorProfileID: s.resolveProfile(actorID),
		EntityType:     ch.EntityType,
		EntityID:       ch.EntityID,
		EntityDisplay:  ch.EntityDisplay,
		Action:         ch.Action,
		Module:         c.Module,
		OldValues:      models.JSONMap(ch.OldValues),
		NewValues:      models.JSONMap(ch.NewValues),
		ChangedFields:  ChangedFields(models.JSONMap(ch.OldValues), models.JSONMap(ch.NewValues)),
		IPAddress:      c.IPAddress,
		UserAgent:      c.UserAgent,
		CreatedAt:      time.Now().UTC(),
	}

	if len(c.Metadata) > 0 {
		rec.Metadata = models.JSONMap{}
		for k, v := range c.Metadata {
			rec.Metadata[k] = v
		}
	}

	return rec
}

// resolveProfile maps the external actor id to a durable profile id through
// the TTL cache. An unknown actor logs with the external id only.
func (s *Service) resolveProfile(actorID string) *uint {
	if actorID == models.SystemActor {
		return nil
	}

	if profileID, ok := s.profiles.get(actorID); ok {
		return profileID
	}

	var profile models.EmployeeProfile
	err := s.db.First(&profile, "external_id = ?", actorID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Log().Warnf("actor profile lookup failed: %v", err)
			return nil
		}
		s.profiles.set(actorID, nil)
		return nil
	}

	id := profile.ID
	s.profiles.set(actorID, &id)
	return &id
}

// InvalidateProfile drops a cached actor resolution, e.g. after the profile
// row changes.
func (s *Service) InvalidateProfile(actorID string) {
	s.profiles.expire(actorID)
}
