package audit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orgstack/hrms/internal/alert"
	"github.com/orgstack/hrms/internal/logger"
	"github.com/orgstack/hrms/internal/metrics"
	"github.com/orgstack/hrms/internal/models"
)

// Priority classifies how urgently an audit entry must reach the ledger.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RouterConfig tunes classification and batching.
type RouterConfig struct {
	// BatchSize is the flush threshold for normal/low priority entries.
	BatchSize int
	// BatchWindow is the maximum time a batch may sit unflushed after its
	// first entry arrives.
	BatchWindow time.Duration
	// CriticalModules forces synchronous critical delivery for entries
	// belonging to these subsystems.
	CriticalModules []string
	// ForceSync disables asynchronous routing entirely.
	ForceSync bool
}

// RouteOptions carries caller preferences; the classifier may override them.
type RouteOptions struct {
	Priority    Priority
	Synchronous bool
	// SkipChain leaves the integrity columns untouched, for entries whose
	// chain link was computed elsewhere.
	SkipChain bool
}

// Router classifies incoming audit entries by priority, attaches integrity
// data, and dispatches them: high/critical straight to the queue worker,
// normal/low into a size- and time-bounded batch.
//
// The pending batch and the chain tail are the two pieces of shared mutable
// state; both are only ever touched under mu, which makes chain-link
// generation a single-writer sequence. Concurrent callers therefore cannot
// fork the chain by reading the same stale tail.
type Router struct {
	engine *Engine
	queue  *QueueWorker
	alerts *alert.Service
	cfg    RouterConfig

	mu       sync.Mutex
	tail     *string
	tailInit bool
	pending  []models.AuditRecord
	timer    *time.Timer
}

// NewRouter wires the router to its chain engine and queue worker.
func NewRouter(engine *Engine, queue *QueueWorker, alerts *alert.Service, cfg RouterConfig) *Router {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 5 * time.Second
	}
	return &Router{engine: engine, queue: queue, alerts: alerts, cfg: cfg}
}

// Classify resolves the effective priority and delivery mode for an entry.
// Entries in a critical module, DELETE actions, and permission/role subjects
// are forced to synchronous critical delivery regardless of the caller's
// preference.
func (r *Router) Classify(rec *models.AuditRecord, opts RouteOptions) (Priority, bool) {
	if r.isCritical(rec) {
		return PriorityCritical, true
	}

	prio := opts.Priority
	if prio == "" {
		prio = PriorityNormal
	}
	synchronous := opts.Synchronous || r.cfg.ForceSync
	return prio, synchronous
}

func (r *Router) isCritical(rec *models.AuditRecord) bool {
	if rec.Action == models.ActionDelete {
		return true
	}
	switch strings.ToLower(rec.EntityType) {
	case "permission", "role":
		return true
	}
	module := strings.ToLower(rec.Module)
	for _, m := range r.cfg.CriticalModules {
		if strings.ToLower(m) == module {
			return true
		}
	}
	return false
}

// Route attaches integrity data and dispatches the entry. Synchronous
// entries block until durably enqueued and propagate delivery errors;
// asynchronous entries report failures through the emergency channel
// instead.
func (r *Router) Route(rec models.AuditRecord, opts RouteOptions) error {
	prio, synchronous := r.Classify(&rec, opts)

	if rec.ID == "" {
		rec.ID = models.NewRecordID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Metadata == nil {
		rec.Metadata = models.JSONMap{}
	}
	rec.Metadata["correlation_id"] = uuid.New().String()
	rec.Metadata["priority"] = string(prio)

	r.mu.Lock()

	if !opts.SkipChain {
		if err := r.attachLinkLocked(&rec); err != nil {
			r.mu.Unlock()
			r.emergency(&rec, err)
			if synchronous {
				return err
			}
			return nil
		}
	}

	if prio == PriorityCritical || prio == PriorityHigh || synchronous {
		r.mu.Unlock()
		if synchronous {
			return r.queue.EnqueueSync(rec)
		}
		r.queue.Enqueue(rec)
		return nil
	}

	// Normal/low priority accumulates into the pending batch. The first
	// entry of an empty batch arms the quiescence timer; hitting the size
	// threshold flushes immediately.
	r.pending = append(r.pending, rec)
	var batch []models.AuditRecord
	if len(r.pending) >= r.cfg.BatchSize {
		batch = r.takeBatchLocked()
	} else if len(r.pending) == 1 {
		r.timer = time.AfterFunc(r.cfg.BatchWindow, r.flushOnTimer)
	}
	r.mu.Unlock()

	if batch != nil {
		r.dispatchBatch(batch)
	}
	return nil
}

// attachLinkLocked seeds the chain tail on first use and advances it with
// each freshly computed hash, so even entries batched together chain to
// each other before any of them reaches durable storage.
func (r *Router) attachLinkLocked(rec *models.AuditRecord) error {
	if !r.tailInit {
		tail, err := r.engine.LastChainHash()
		if err != nil {
			return fmt.Errorf("seed chain tail: %w", err)
		}
		r.tail = tail
		r.tailInit = true
	}

	link := r.engine.GenerateLink(rec, r.tail)
	Attach(rec, link)

	h := rec.Hash
	r.tail = &h
	return nil
}

// Flush forces the pending batch out, e.g. on shutdown.
func (r *Router) Flush() {
	r.mu.Lock()
	batch := r.takeBatchLocked()
	r.mu.Unlock()

	if batch != nil {
		r.dispatchBatch(batch)
	}
}

func (r *Router) flushOnTimer() {
	r.mu.Lock()
	batch := r.takeBatchLocked()
	r.mu.Unlock()

	if batch != nil {
		r.dispatchBatch(batch)
	}
}

// takeBatchLocked hands the pending batch over and cancels the quiescence
// timer; a new batch starts accumulating immediately.
func (r *Router) takeBatchLocked() []models.AuditRecord {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if len(r.pending) == 0 {
		return nil
	}
	batch := r.pending
	r.pending = nil
	return batch
}

func (r *Router) dispatchBatch(batch []models.AuditRecord) {
	metrics.IncBatchFlushed()
	logger.WithFields(map[string]interface{}{"size": len(batch)}).Debug("flushing audit batch")
	r.queue.EnqueueBatch(batch)
}

func (r *Router) emergency(rec *models.AuditRecord, cause error) {
	r.alerts.Emergency("audit routing failed", "failed to attach integrity data to an audit entry", map[string]interface{}{
		"record_id": rec.ID,
		"error":     cause.Error(),
	})
}
