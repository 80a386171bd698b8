package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orgstack/hrms/internal/alert"
	"github.com/orgstack/hrms/internal/logger"
	"github.com/orgstack/hrms/internal/metrics"
	"github.com/orgstack/hrms/internal/models"
)

const (
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
)

// ErrQueueStopped is returned when records are submitted after shutdown.
var ErrQueueStopped = errors.New("audit queue stopped")

type deliveryJob struct {
	records []models.AuditRecord
}

// QueueWorker persists finalized audit records with bounded retries and
// exponential backoff, moving exhausted deliveries to the dead-letter table.
// Submission runs through a transient in-memory queue; when that queue is
// unavailable the worker falls back to a direct synchronous write, and when
// that also fails it raises an emergency alert. A record is never silently
// dropped.
type QueueWorker struct {
	db     *gorm.DB
	alerts *alert.Service

	jobs chan deliveryJob
	stop chan struct{}
	done chan struct{}

	maxAttempts int
	backoff     time.Duration
}

// NewQueueWorker returns a worker bound to the ledger store. Call Start to
// begin draining the queue.
func NewQueueWorker(db *gorm.DB, alerts *alert.Service) *QueueWorker {
	return &QueueWorker{
		db:          db,
		alerts:      alerts,
		jobs:        make(chan deliveryJob, defaultQueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// Start launches the background delivery loop.
func (w *QueueWorker) Start() {
	go w.run()
}

// Stop drains pending jobs and shuts the delivery loop down.
func (w *QueueWorker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *QueueWorker) run() {
	defer close(w.done)
	for {
		select {
		case job := <-w.jobs:
			w.process(job)
		case <-w.stop:
			for {
				select {
				case job := <-w.jobs:
					w.process(job)
				default:
					return
				}
			}
		}
	}
}

func (w *QueueWorker) process(job deliveryJob) {
	if len(job.records) == 1 {
		_ = w.deliverWithRetry(&job.records[0])
		return
	}
	w.deliverBatch(job.records)
}

// Enqueue submits one record for asynchronous delivery. When the queue is
// unavailable it falls back to a direct write; when that also fails the
// emergency channel is notified.
func (w *QueueWorker) Enqueue(rec models.AuditRecord) {
	select {
	case w.jobs <- deliveryJob{records: []models.AuditRecord{rec}}:
	default:
		logger.Log().Warn("audit queue saturated, falling back to direct write")
		if err := w.deliver(&rec); err != nil {
			w.emergency(&rec, err)
		}
	}
}

// EnqueueSync delivers one record before returning, retrying with backoff.
// Callers on the critical path must observe audit failures, so the final
// error propagates after dead-lettering.
func (w *QueueWorker) EnqueueSync(rec models.AuditRecord) error {
	return w.deliverWithRetry(&rec)
}

// EnqueueBatch submits a batch for asynchronous delivery with the same
// queue-unavailable fallback as Enqueue.
func (w *QueueWorker) EnqueueBatch(records []models.AuditRecord) {
	if len(records) == 0 {
		return
	}
	select {
	case w.jobs <- deliveryJob{records: records}:
	default:
		logger.Log().Warn("audit queue saturated, delivering batch directly")
		w.deliverBatch(records)
	}
}

// deliverWithRetry attempts delivery up to maxAttempts times with
// exponential backoff, dead-lettering the record on exhaustion.
func (w *QueueWorker) deliverWithRetry(rec *models.AuditRecord) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.IncRetry()
			time.Sleep(w.backoff << (attempt - 2))
		}

		if lastErr = w.deliver(rec); lastErr == nil {
			return nil
		}

		logger.WithFields(map[string]interface{}{
			"record_id": rec.ID,
			"attempt":   attempt,
		}).Warnf("audit delivery failed: %v", lastErr)
	}

	w.deadLetter(rec, w.maxAttempts, lastErr)
	return lastErr
}

// deliver writes the record verbatim, including its chain link. Duplicate
// ids are skipped so a retry after a lost acknowledgement cannot create a
// second ledger row.
func (w *QueueWorker) deliver(rec *models.AuditRecord) error {
	res := w.db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return res.Error
	}
	metrics.IncDelivered()
	return nil
}

// deliverBatch inserts the whole batch, falling back to per-record delivery
// when the bulk insert fails. Partial batch success is expected.
func (w *QueueWorker) deliverBatch(records []models.AuditRecord) {
	res := w.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&records)
	if res.Error == nil {
		metrics.AddDelivered(len(records))
		return
	}

	logger.Log().Warnf("bulk audit insert failed, retrying per record: %v", res.Error)
	for i := range records {
		_ = w.deliverWithRetry(&records[i])
	}
}

func (w *QueueWorker) deadLetter(rec *models.AuditRecord, attempts int, cause error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		w.emergency(rec, fmt.Errorf("marshal dead letter: %w", err))
		return
	}

	dl := models.DeadLetter{
		RecordID:  rec.ID,
		Payload:   string(payload),
		Attempts:  attempts,
		LastError: cause.Error(),
	}
	if err := w.db.Create(&dl).Error; err != nil {
		w.emergency(rec, fmt.Errorf("persist dead letter: %w", err))
		return
	}

	metrics.IncDeadLetter()
	logger.WithFields(map[string]interface{}{
		"record_id": rec.ID,
		"attempts":  attempts,
	}).Error("audit record moved to dead letters")
}

func (w *QueueWorker) emergency(rec *models.AuditRecord, cause error) {
	context := map[string]interface{}{
		"record_id":   rec.ID,
		"actor_id":    rec.ActorID,
		"entity_type": rec.EntityType,
		"entity_id":   rec.EntityID,
		"action":      string(rec.Action),
		"error":       cause.Error(),
	}
	if payload, err := json.Marshal(rec); err == nil {
		context["record"] = string(payload)
	}
	w.alerts.Emergency("audit record lost", "all delivery paths failed for an audit record", context)
}

// DeadLetters lists retained dead letters, newest first.
func (w *QueueWorker) DeadLetters(includeReprocessed bool) ([]models.DeadLetter, error) {
	q := w.db.Order("created_at desc")
	if !includeReprocessed {
		q = q.Where("reprocessed = ?", false)
	}
	var letters []models.DeadLetter
	err := q.Find(&letters).Error
	return letters, err
}

// ReprocessDeadLetter manually re-delivers a dead letter. This is the only
// path out of the dead-letter table; nothing retries it automatically.
func (w *QueueWorker) ReprocessDeadLetter(id string) error {
	var dl models.DeadLetter
	if err := w.db.First(&dl, "id = ?", id).Error; err != nil {
		return fmt.Errorf("load dead letter %s: %w", id, err)
	}
	if dl.Reprocessed {
		return fmt.Errorf("dead letter %s already reprocessed", id)
	}

	var rec models.AuditRecord
	if err := json.Unmarshal([]byte(dl.Payload), &rec); err != nil {
		return fmt.Errorf("decode dead letter payload: %w", err)
	}

	if err := w.deliver(&rec); err != nil {
		return fmt.Errorf("redeliver dead letter %s: %w", id, err)
	}

	return w.db.Model(&dl).Update("reprocessed", true).Error
}
