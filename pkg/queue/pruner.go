package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/mediapipe/pkg/logger"
)

// Pruner periodically deletes terminal jobs according to per-queue
// retention policies. It only ever touches completed, failed, and removed
// jobs; pending work is never pruned.
type Pruner struct {
	repo     PrunerRepository
	policies map[string]RetentionPolicy
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPruner creates a retention pruner.
func NewPruner(repo PrunerRepository, opts ...PrunerOption) (*Pruner, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}

	options := &prunerOptions{
		interval: 5 * time.Minute,
		policies: make(map[string]RetentionPolicy),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Pruner{
		repo:     repo,
		policies: options.policies,
		interval: options.interval,
		logger:   options.logger,
	}, nil
}

// AddQueue registers a queue for pruning under the given policy.
func (p *Pruner) AddQueue(queueName string, policy RetentionPolicy) error {
	if queueName == "" {
		return ErrQueueNameEmpty
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.policies[queueName] = policy
	return nil
}

// Start begins the background pruning loop.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return fmt.Errorf("pruner already started")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)

	p.logger.Info("retention pruner started",
		slog.Int("queues", len(p.policies)),
		slog.Duration("interval", p.interval))

	return nil
}

// Stop halts the pruning loop. Safe to call once after Start.
func (p *Pruner) Stop() error {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return fmt.Errorf("pruner not started")
	}
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	<-done

	p.logger.Info("retention pruner stopped")
	return nil
}

// Run starts the pruner and returns a function suitable for errgroup.
func (p *Pruner) Run(ctx context.Context) func() error {
	return func() error {
		if err := p.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return p.Stop()
	}
}

func (p *Pruner) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneAll(ctx)
		}
	}
}

// PruneAll runs one pruning pass over every registered queue.
// Exposed so callers can trigger a sweep outside the background schedule.
func (p *Pruner) PruneAll(ctx context.Context) {
	p.mu.Lock()
	policies := make(map[string]RetentionPolicy, len(p.policies))
	for q, pol := range p.policies {
		policies[q] = pol
	}
	p.mu.Unlock()

	for queueName, policy := range policies {
		pruned, err := p.repo.PruneJobs(ctx, queueName, policy)
		if err != nil {
			p.logger.Error("failed to prune queue",
				logger.Queue(queueName),
				logger.Error(err))
			continue
		}
		if pruned > 0 {
			p.logger.Info("pruned terminal jobs",
				logger.Queue(queueName),
				slog.Int("pruned", pruned))
		}
	}
}

// PrunerOption is a functional option for configuring a Pruner.
type PrunerOption func(*prunerOptions)

type prunerOptions struct {
	interval time.Duration
	policies map[string]RetentionPolicy
	logger   *slog.Logger
}

// WithPruneInterval sets how often the pruner sweeps registered queues.
func WithPruneInterval(d time.Duration) PrunerOption {
	return func(o *prunerOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithQueuePolicy registers a queue and its retention policy at construction.
func WithQueuePolicy(queueName string, policy RetentionPolicy) PrunerOption {
	return func(o *prunerOptions) {
		if queueName != "" {
			o.policies[queueName] = policy
		}
	}
}

// WithPrunerLogger sets the logger for the pruner.
func WithPrunerLogger(logger *slog.Logger) PrunerOption {
	return func(o *prunerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
