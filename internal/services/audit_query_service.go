package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/orgstack/hrms/internal/models"
)

// AuditQueryService is the read-side consumer of the ledger: filtered
// listing, statistics grouping, and CSV/JSON export. It never writes.
type AuditQueryService struct {
	DB *gorm.DB
}

func NewAuditQueryService(db *gorm.DB) *AuditQueryService {
	return &AuditQueryService{DB: db}
}

// AuditQuery filters a ledger scan.
type AuditQuery struct {
	ActorID    string
	Module     string
	EntityType string
	EntityID   string
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// AuditStatistics groups ledger totals for reporting.
type AuditStatistics struct {
	Total    int64            `json:"total"`
	ByAction map[string]int64 `json:"by_action"`
	ByModule map[string]int64 `json:"by_module"`
	ByActor  map[string]int64 `json:"by_actor"`
}

func (s *AuditQueryService) scope(q AuditQuery) *gorm.DB {
	tx := s.DB.Model(&models.AuditRecord{})
	if q.ActorID != "" {
		tx = tx.Where("actor_id = ?", q.ActorID)
	}
	if q.Module != "" {
		tx = tx.Where("module = ?", q.Module)
	}
	if q.EntityType != "" {
		tx = tx.Where("entity_type = ?", q.EntityType)
	}
	if q.EntityID != "" {
		tx = tx.Where("entity_id = ?", q.EntityID)
	}
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	if q.From != nil {
		tx = tx.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		tx = tx.Where("created_at <= ?", *q.To)
	}
	return tx
}

// List returns matching records newest first, plus the unpaged total.
func (s *AuditQueryService) List(q AuditQuery) ([]models.AuditRecord, int64, error) {
	var total int64
	if err := s.scope(q).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var records []models.AuditRecord
	err := s.scope(q).
		Order("created_at desc, id desc").
		Limit(limit).
		Offset(q.Offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list audit records: %w", err)
	}

	return records, total, nil
}

type groupCount struct {
	Key   string
	Count int64
}

// Statistics aggregates the range by action, module and actor.
func (s *AuditQueryService) Statistics(from, to *time.Time) (*AuditStatistics, error) {
	q := AuditQuery{From: from, To: to}

	stats := &AuditStatistics{
		ByAction: map[string]int64{},
		ByModule: map[string]int64{},
		ByActor:  map[string]int64{},
	}
	if err := s.scope(q).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("count audit records: %w", err)
	}

	for column, dest := range map[string]map[string]int64{
		"action":   stats.ByAction,
		"module":   stats.ByModule,
		"actor_id": stats.ByActor,
	} {
		var rows []groupCount
		err := s.scope(q).
			Select(column+" as key, count(*) as count").
			Group(column).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("group audit records by %s: %w", column, err)
		}
		for _, row := range rows {
			dest[row.Key] = row.Count
		}
	}

	return stats, nil
}

// ExportCSV streams the matching records as CSV.
func (s *AuditQueryService) ExportCSV(q AuditQuery, w io.Writer) error {
	records, _, err := s.List(q)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{
		"id", "created_at", "actor_id", "actor_profile_id", "action", "module",
		"entity_type", "entity_id", "entity_display", "changed_fields",
		"ip_address", "hash", "previous_hash", "signature",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		profileID := ""
		if rec.ActorProfileID != nil {
			profileID = strconv.FormatUint(uint64(*rec.ActorProfileID), 10)
		}
		prevHash := ""
		if rec.PreviousHash != nil {
			prevHash = *rec.PreviousHash
		}
		changed, _ := json.Marshal(rec.ChangedFields)

		row := []string{
			rec.ID,
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.ActorID,
			profileID,
			string(rec.Action),
			rec.Module,
			rec.EntityType,
			rec.EntityID,
			rec.EntityDisplay,
			string(changed),
			rec.IPAddress,
			rec.Hash,
			prevHash,
			rec.Signature,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportJSON returns the matching records for a JSON export response.
func (s *AuditQueryService) ExportJSON(q AuditQuery) ([]models.AuditRecord, error) {
	records, _, err := s.List(q)
	return records, err
}
