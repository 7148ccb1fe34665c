// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors,
// and transparent injection of values stored in context.Context.
//
// The package standardises structured logging across the queue workers and
// pipeline components by exposing a single factory - New - that creates a
// *slog.Logger configured by a set of Option functions. These options allow
// you to:
//
//   - Select an output format (text or json)
//   - Set the minimum log level
//   - Supply default slog.Attr values applied to every record
//   - Register ContextExtractor callbacks that inject attributes pulled from
//     a context value every time Handle is invoked.
//
// # Architecture
//
// New determines the concrete slog.Handler implementation based on the
// configured Format, then wraps it with LogHandlerDecorator which executes
// any registered ContextExtractor callbacks before delegating to the
// underlying handler.
//
// Helper constructors such as Group, Error, JobID, Queue, Stage live in
// attr.go and return commonly-used slog.Attr instances to keep attribute
// naming consistent across the codebase.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithProduction("media-worker"),
//	)
//	logger.SetAsDefault(log)
//
//	log.Info("job completed",
//	    logger.JobID(job.ID),
//	    logger.Queue(job.Queue),
//	    logger.Duration(time.Since(start)),
//	)
//
// # Error Handling
//
// Helper functions Error and Errors produce attributes only when the
// supplied error value is non-nil allowing calls like:
//
//	log.Info("operation finished", logger.Error(err))
//
// without an additional nil check.
package logger
