// Package pg provides utilities for interacting with PostgreSQL using the
// pgx/v5 driver. It offers a thin abstraction around connection pooling,
// embedded schema migrations, health checks, and common error helpers so the
// durable queue and event stores can bootstrap a resilient database layer
// with only a few lines of code.
//
// # Architecture
//
// Three cooperating building blocks:
//
//   - Config - a declarative struct whose fields are populated from
//     environment variables via github.com/caarlos0/env. It controls
//     connection pool limits, health-check cadence and retry behavior.
//
//   - Connect - opens a *pgxpool.Pool based on Config, retrying with
//     back-off until the database becomes available.
//
//   - Migrate - runs embedded goose migrations against the same connection
//     pool, guaranteeing the schema is up-to-date before workers start
//     pulling jobs. Schema files ship inside the packages that own the
//     tables (queue.Migrations, events.Migrations).
//
// # Usage
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//		panic(err)
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		panic(err)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, queue.Migrations, cfg, slog.Default()); err != nil {
//		panic(err)
//	}
//
// # Error Handling
//
// Convenience helpers such as [pg.IsDuplicateKeyError] or
// [pg.IsForeignKeyViolationError] unwrap errors returned by pgx/
// *pgconn.PgError and make error classification trivial inside business
// logic.
package pg
