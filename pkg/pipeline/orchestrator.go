package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/mediapipe/pkg/logger"
	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

// Orchestrator decides which stages to enqueue for an asset, answers
// status queries, retries failed stages, and cancels pending work across
// every stage queue.
type Orchestrator struct {
	storage queue.Storage
	enq     *queue.Enqueuer
	assets  AssetStore
	stages  []StageSpec
	logger  *slog.Logger

	maxAttempts int8
	backoff     queue.Backoff
}

// NewOrchestrator creates a pipeline orchestrator on top of a queue
// storage and an asset store.
func NewOrchestrator(storage queue.Storage, assets AssetStore, opts ...OrchestratorOption) (*Orchestrator, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if assets == nil {
		return nil, ErrAssetStoreNil
	}

	options := &orchestratorOptions{
		stages:      Stages,
		maxAttempts: 3,
		backoff:     queue.DefaultBackoff(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	enq, err := queue.NewEnqueuer(storage,
		queue.WithDefaultMaxAttempts(options.maxAttempts),
		queue.WithDefaultBackoff(options.backoff),
	)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		storage:     storage,
		enq:         enq,
		assets:      assets,
		stages:      options.stages,
		logger:      options.logger,
		maxAttempts: options.maxAttempts,
		backoff:     options.backoff,
	}, nil
}

// EnqueueResult correlates the enqueued work with later status queries.
type EnqueueResult struct {
	// Jobs maps each scheduled stage to its job ID.
	Jobs map[StageName]string `json:"jobs"`
	// Enqueued counts newly created jobs; stages absorbed by the
	// idempotency guard are in Jobs but not in this count.
	Enqueued int `json:"enqueued"`
}

// Process persists the asset record and enqueues one idempotent job per
// enabled, applicable stage. Calling it again for the same asset is safe:
// stages still in flight are absorbed by the idempotency guard.
func (o *Orchestrator) Process(ctx context.Context, assetID string, source SourceDescriptor, cfg ProcessingConfig) (*EnqueueResult, error) {
	if assetID == "" {
		return nil, ErrAssetIDEmpty
	}

	// The asset record is the source of truth Retry re-derives the
	// descriptor and config from, so it is written before any job.
	if err := o.assets.SaveAsset(ctx, &Asset{
		ID:     assetID,
		Source: source,
		Config: cfg,
		Status: AssetStatusProcessing,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist asset %q: %w", assetID, err)
	}

	result := &EnqueueResult{Jobs: make(map[StageName]string)}
	for _, stage := range o.stages {
		if !cfg.Enabled(stage.Name) || !stage.AppliesTo(source.Kind) {
			continue
		}

		handle, err := o.enqueueStage(ctx, stage, assetID, source, cfg)
		if err != nil {
			return nil, err
		}

		result.Jobs[stage.Name] = handle.ID
		if handle.Created {
			result.Enqueued++
		}
	}

	o.logger.Info("pipeline scheduled",
		logger.AssetID(assetID),
		slog.String("kind", string(source.Kind)),
		slog.Int("enqueued", result.Enqueued))

	return result, nil
}

// Retry re-enqueues only the named stages, re-deriving the source
// descriptor and config from the persisted asset record. Succeeded stages
// stay untouched; stages still in flight are absorbed by the idempotency
// guard.
func (o *Orchestrator) Retry(ctx context.Context, assetID string, stages ...StageName) (*EnqueueResult, error) {
	asset, err := o.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	result := &EnqueueResult{Jobs: make(map[StageName]string)}
	for _, name := range stages {
		stage, ok := StageFor(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		if !asset.Config.Enabled(name) || !stage.AppliesTo(asset.Source.Kind) {
			return nil, fmt.Errorf("%w: %s", ErrStageDisabled, name)
		}

		handle, err := o.enqueueStage(ctx, stage, assetID, asset.Source, asset.Config)
		if err != nil {
			return nil, err
		}

		result.Jobs[name] = handle.ID
		if handle.Created {
			result.Enqueued++
		}
	}

	o.logger.Info("pipeline stages retried",
		logger.AssetID(assetID),
		slog.Int("enqueued", result.Enqueued))

	return result, nil
}

// Status reduces the per-stage job states and the asset's config into the
// pipeline view. Stages whose jobs were never created read as pending.
func (o *Orchestrator) Status(ctx context.Context, assetID string) (*RunStatus, error) {
	asset, err := o.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	stages := make(map[StageName]StageStatus, len(o.stages))
	for _, stage := range o.stages {
		switch {
		case !asset.Config.Enabled(stage.Name):
			stages[stage.Name] = StageStatusNotEnabled
			continue
		case !stage.AppliesTo(asset.Source.Kind):
			stages[stage.Name] = StageStatusNotApplicable
			continue
		}

		job, err := o.storage.GetJob(ctx, stage.Queue, JobID(stage.Name, assetID))
		if err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				stages[stage.Name] = StageStatusPending
				continue
			}
			return nil, fmt.Errorf("failed to query stage %q for asset %q: %w", stage.Name, assetID, err)
		}

		stages[stage.Name] = stageStatusFromJob(job)
	}

	return &RunStatus{
		Stages:  stages,
		Overall: reduceOverall(stages),
	}, nil
}

// Cancel sweeps every stage queue and removes the asset's waiting and
// delayed jobs. Active jobs run to completion — a result landing after
// cancellation is a benign race, not an error. Returns the number of jobs
// removed; zero is a valid outcome.
func (o *Orchestrator) Cancel(ctx context.Context, assetID string) (int, error) {
	if assetID == "" {
		return 0, ErrAssetIDEmpty
	}

	var (
		mu      sync.Mutex
		removed int
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, stage := range o.stages {
		g.Go(func() error {
			ok, err := o.storage.RemoveJob(ctx, stage.Queue, JobID(stage.Name, assetID))
			if err != nil {
				return fmt.Errorf("failed to sweep queue %q: %w", stage.Queue, err)
			}
			if ok {
				mu.Lock()
				removed++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return removed, err
	}

	o.logger.Info("pipeline cancelled",
		logger.AssetID(assetID),
		slog.Int("removed", removed))

	return removed, nil
}

func (o *Orchestrator) enqueueStage(ctx context.Context, stage StageSpec, assetID string, source SourceDescriptor, cfg ProcessingConfig) (*queue.JobHandle, error) {
	payload := StagePayload{
		Stage:   stage.Name,
		AssetID: assetID,
		Source:  source,
	}
	switch stage.Name {
	case StageFormatConversion:
		opts := cfg.FormatConversion
		payload.FormatConversion = &opts
	case StageWatermarking:
		opts := cfg.Watermark
		payload.Watermark = &opts
	}

	enqOpts := []queue.EnqueueOption{
		queue.WithKind(PayloadKind),
		queue.WithPriority(stage.Priority),
	}
	if stage.Delay > 0 {
		enqOpts = append(enqOpts, queue.WithDelay(stage.Delay))
	}

	handle, err := o.enq.Enqueue(ctx, stage.Queue, JobID(stage.Name, assetID), payload, enqOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue stage %q for asset %q: %w", stage.Name, assetID, err)
	}

	return handle, nil
}

// OrchestratorOption is a functional option for configuring an Orchestrator.
type OrchestratorOption func(*orchestratorOptions)

type orchestratorOptions struct {
	stages      []StageSpec
	maxAttempts int8
	backoff     queue.Backoff
	logger      *slog.Logger
}

// WithStages overrides the default stage table. Useful for tests and for
// deployments that add custom stages.
func WithStages(stages []StageSpec) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if len(stages) > 0 {
			o.stages = stages
		}
	}
}

// WithStageMaxAttempts sets the attempt budget for stage jobs (1-10).
func WithStageMaxAttempts(n int8) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if n > 0 && n <= 10 {
			o.maxAttempts = n
		}
	}
}

// WithStageBackoff sets the backoff policy for stage jobs.
func WithStageBackoff(b queue.Backoff) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.backoff = b
	}
}

// WithOrchestratorLogger sets the logger for the orchestrator.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
