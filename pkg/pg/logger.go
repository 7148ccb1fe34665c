package pg

import "context"

// logger is the subset of *slog.Logger Migrate needs. Goose output is
// routed here so schema changes land in the same structured stream as
// worker and pipeline logs.
type logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}
