package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	auditDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrms_audit_records_delivered_total",
		Help: "Total number of audit records durably written to the ledger",
	})
	auditRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrms_audit_delivery_retries_total",
		Help: "Total number of audit delivery retry attempts",
	})
	auditDeadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrms_audit_dead_letters_total",
		Help: "Total number of audit records moved to the dead-letter table",
	})
	auditEmergenciesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrms_audit_emergencies_total",
		Help: "Total number of emergency alerts raised by the audit pipeline",
	})
	auditBatchesFlushedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrms_audit_batches_flushed_total",
		Help: "Total number of low-priority audit batches flushed",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		auditDeliveredTotal,
		auditRetriesTotal,
		auditDeadLettersTotal,
		auditEmergenciesTotal,
		auditBatchesFlushedTotal,
	)
}

// IncDelivered increments the delivered records counter.
func IncDelivered() { auditDeliveredTotal.Inc() }

// AddDelivered adds n to the delivered records counter.
func AddDelivered(n int) { auditDeliveredTotal.Add(float64(n)) }

// IncRetry increments the retry attempts counter.
func IncRetry() { auditRetriesTotal.Inc() }

// IncDeadLetter increments the dead-letter counter.
func IncDeadLetter() { auditDeadLettersTotal.Inc() }

// IncEmergency increments the emergency alerts counter.
func IncEmergency() { auditEmergenciesTotal.Inc() }

// IncBatchFlushed increments the flushed batches counter.
func IncBatchFlushed() { auditBatchesFlushedTotal.Inc() }
