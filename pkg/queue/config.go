package queue

import "time"

// Config holds the configuration for the job queue.
type Config struct {
	PullInterval    time.Duration `env:"QUEUE_PULL_INTERVAL" envDefault:"1s"`
	LockTimeout     time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	Concurrency     int           `env:"QUEUE_CONCURRENCY" envDefault:"5"`
	PruneInterval   time.Duration `env:"QUEUE_PRUNE_INTERVAL" envDefault:"5m"`
}
