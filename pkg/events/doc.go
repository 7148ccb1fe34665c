// Package events processes delivery-webhook events exactly once in effect.
//
// The transport guarantees at-least-once delivery, so every event record
// carries a processed flag. The Processor checks it before any domain work
// and short-circuits with a no-op outcome on redelivery; this also covers
// worker restarts mid-processing, because per-kind actions are upsert-style
// and safe to re-execute.
//
// Routing fans out by event kind to pure functions that return the actions
// taken and any warnings. Expected business conditions, like a routine soft
// bounce, are warnings rather than errors; only infrastructure failures
// escape and trigger queue-level retry.
//
// After recording a bounce or spam complaint, the processor recomputes the
// rolling-window failure rates from freshly queried aggregates and compares
// them against static thresholds, dispatching an email alert on breach.
// Every outcome, no-ops included, is appended to the audit trail.
//
// # Usage
//
//	store := events.NewMemoryEventStore()
//	processor, err := events.NewProcessor(store,
//		events.WithAuditStore(events.NewMemoryAuditStore()),
//		events.WithAlerter(m, "ops@example.com"),
//	)
//
//	worker, err := queue.NewWorker(storage, "events")
//	_ = worker.RegisterHandler(events.NewEventHandler(processor))
package events
