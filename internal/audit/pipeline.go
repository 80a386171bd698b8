package audit

import (
	"time"

	"gorm.io/gorm"

	"github.com/orgstack/hrms/internal/alert"
)

// Options configures a pipeline.
type Options struct {
	Secret          string
	BatchSize       int
	BatchWindow     time.Duration
	CriticalModules []string
	Async           bool
}

// Pipeline bundles the audit components in dependency order: the chain
// engine, the queue worker it feeds, the router in front of both, and the
// ingestion facade.
type Pipeline struct {
	Engine  *Engine
	Queue   *QueueWorker
	Router  *Router
	Service *Service
}

// NewPipeline wires up a complete audit pipeline over the given store.
func NewPipeline(db *gorm.DB, alerts *alert.Service, opts Options) (*Pipeline, error) {
	engine, err := NewEngine(db, opts.Secret)
	if err != nil {
		return nil, err
	}

	queue := NewQueueWorker(db, alerts)
	router := NewRouter(engine, queue, alerts, RouterConfig{
		BatchSize:       opts.BatchSize,
		BatchWindow:     opts.BatchWindow,
		CriticalModules: opts.CriticalModules,
		ForceSync:       !opts.Async,
	})

	return &Pipeline{
		Engine:  engine,
		Queue:   queue,
		Router:  router,
		Service: NewService(db, router),
	}, nil
}

// Start launches the background delivery worker.
func (p *Pipeline) Start() {
	p.Queue.Start()
}

// Stop flushes the pending batch and drains the queue.
func (p *Pipeline) Stop() {
	p.Router.Flush()
	p.Queue.Stop()
}
