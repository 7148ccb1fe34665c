package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/mediapipe/pkg/logger"
	"github.com/dmitrymomot/mediapipe/pkg/queue"
	"github.com/dmitrymomot/mediapipe/pkg/storage"
)

// Transformer is the media-transform collaborator. Implementations wrap
// actual thumbnailers, transcoders, and scanners; the pipeline only cares
// about the structured output each call produces.
//
// Implementations must wrap network/storage failures with Transient so the
// queue retries them; any other error from a non-critical stage is
// recorded on the asset instead of retried. ScanContent reports a policy
// violation by returning ErrContentRejected (wrapped is fine).
type Transformer interface {
	GenerateThumbnail(ctx context.Context, srcURL string, src SourceDescriptor) (json.RawMessage, error)
	ExtractMetadata(ctx context.Context, srcURL string, src SourceDescriptor) (json.RawMessage, error)
	ValidateQuality(ctx context.Context, srcURL string, src SourceDescriptor, metadata json.RawMessage) (json.RawMessage, error)
	GeneratePreview(ctx context.Context, srcURL string, src SourceDescriptor) (json.RawMessage, error)
	ConvertFormats(ctx context.Context, srcURL string, src SourceDescriptor, opts FormatConversionOptions) (json.RawMessage, error)
	ApplyWatermark(ctx context.Context, srcURL string, src SourceDescriptor, opts WatermarkOptions) (json.RawMessage, error)
	ScanContent(ctx context.Context, srcURL string, src SourceDescriptor) (json.RawMessage, error)
}

// Dispatcher executes stage jobs. It implements queue.Handler and routes
// each StagePayload to its stage function, applying the criticality
// contract from the stage table: critical stages propagate errors so
// queue retry and terminal failure apply; non-critical stages absorb
// their own failures into asset markers and complete with a warning.
type Dispatcher struct {
	assets      AssetStore
	blobs       storage.Storage
	transformer Transformer
	urlTTL      time.Duration
	logger      *slog.Logger
}

// NewDispatcher creates the stage job dispatcher.
func NewDispatcher(assets AssetStore, blobs storage.Storage, transformer Transformer, opts ...DispatcherOption) (*Dispatcher, error) {
	if assets == nil {
		return nil, ErrAssetStoreNil
	}
	if transformer == nil {
		return nil, ErrTransformerNil
	}

	options := &dispatcherOptions{
		urlTTL: 15 * time.Minute,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Dispatcher{
		assets:      assets,
		blobs:       blobs,
		transformer: transformer,
		urlTTL:      options.urlTTL,
		logger:      options.logger,
	}, nil
}

// Kind implements queue.Handler.
func (d *Dispatcher) Kind() string {
	return PayloadKind
}

// Handle implements queue.Handler.
func (d *Dispatcher) Handle(ctx context.Context, raw json.RawMessage) (queue.Result, error) {
	var payload StagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return queue.Result{}, queue.SkipRetry(fmt.Errorf("malformed stage payload: %w", err))
	}
	if payload.AssetID == "" {
		return queue.Result{}, queue.SkipRetry(fmt.Errorf("stage payload missing asset ID"))
	}
	if _, ok := StageFor(payload.Stage); !ok {
		return queue.Result{}, queue.SkipRetry(fmt.Errorf("%w: %s", ErrUnknownStage, payload.Stage))
	}

	logs := []string{fmt.Sprintf("stage %s started for asset %s", payload.Stage, payload.AssetID)}

	srcURL, err := d.resolveSource(ctx, payload.Source)
	if err != nil {
		// Signing is pure infrastructure; let the queue retry it
		return queue.Result{}, Transient(err)
	}

	output, err := d.runStage(ctx, payload, srcURL)
	if err != nil {
		return d.handleStageError(ctx, payload, logs, err)
	}

	if err := d.assets.RecordStageOutput(ctx, payload.AssetID, payload.Stage, output); err != nil {
		return queue.Result{}, Transient(fmt.Errorf("failed to record output of stage %q: %w", payload.Stage, err))
	}

	logs = append(logs, fmt.Sprintf("stage %s completed", payload.Stage))
	return queue.Result{Output: output, Logs: logs}, nil
}

// runStage matches the payload discriminator exhaustively.
func (d *Dispatcher) runStage(ctx context.Context, payload StagePayload, srcURL string) (json.RawMessage, error) {
	src := payload.Source

	switch payload.Stage {
	case StageContentScan:
		return d.transformer.ScanContent(ctx, srcURL, src)
	case StageThumbnail:
		return d.transformer.GenerateThumbnail(ctx, srcURL, src)
	case StageMetadata:
		return d.transformer.ExtractMetadata(ctx, srcURL, src)
	case StageQualityValidation:
		// Metadata is re-read at execution time: the delay on this stage
		// is only a soft hint and the metadata job may not have landed yet.
		var metadata json.RawMessage
		if asset, err := d.assets.GetAsset(ctx, payload.AssetID); err == nil {
			metadata = asset.StageOutputs[StageMetadata]
		}
		return d.transformer.ValidateQuality(ctx, srcURL, src, metadata)
	case StagePreview:
		return d.transformer.GeneratePreview(ctx, srcURL, src)
	case StageFormatConversion:
		var opts FormatConversionOptions
		if payload.FormatConversion != nil {
			opts = *payload.FormatConversion
		}
		return d.transformer.ConvertFormats(ctx, srcURL, src, opts)
	case StageWatermarking:
		var opts WatermarkOptions
		if payload.Watermark != nil {
			opts = *payload.Watermark
		}
		return d.transformer.ApplyWatermark(ctx, srcURL, src, opts)
	default:
		return nil, queue.SkipRetry(fmt.Errorf("%w: %s", ErrUnknownStage, payload.Stage))
	}
}

// handleStageError applies the criticality contract.
func (d *Dispatcher) handleStageError(ctx context.Context, payload StagePayload, logs []string, execErr error) (queue.Result, error) {
	// Transient infrastructure failures always go back to the queue,
	// regardless of stage classification.
	if errors.Is(execErr, ErrTransient) {
		return queue.Result{}, execErr
	}

	if ClassificationFor(payload.Stage) == CriticalityCritical {
		if errors.Is(execErr, ErrContentRejected) {
			// Terminal policy outcome: reject the asset and stop retrying
			if err := d.assets.MarkRejected(ctx, payload.AssetID, execErr.Error()); err != nil {
				return queue.Result{}, Transient(fmt.Errorf("failed to mark asset %q rejected: %w", payload.AssetID, err))
			}
			return queue.Result{}, queue.SkipRetry(execErr)
		}
		// Unclassified critical failure: let the queue retry it
		return queue.Result{}, execErr
	}

	// Non-critical: record the marker and complete with a warning so the
	// asset stays available and the queue does not burn retries on
	// cosmetic work.
	if err := d.assets.RecordStageFailure(ctx, payload.AssetID, payload.Stage, execErr.Error()); err != nil {
		return queue.Result{}, Transient(fmt.Errorf("failed to record failure of stage %q: %w", payload.Stage, err))
	}

	d.logger.Warn("non-critical stage failed",
		logger.AssetID(payload.AssetID),
		logger.Stage(string(payload.Stage)),
		logger.Error(execErr))

	logs = append(logs, fmt.Sprintf("stage %s failed: %v", payload.Stage, execErr))
	return queue.Result{
		Warnings: []string{fmt.Sprintf("stage %s failed: %v", payload.Stage, execErr)},
		Logs:     logs,
	}, nil
}

func (d *Dispatcher) resolveSource(ctx context.Context, src SourceDescriptor) (string, error) {
	if d.blobs == nil {
		return src.Location, nil
	}
	return d.blobs.SignedDownloadURL(ctx, src.Location, d.urlTTL)
}

// NewStageWorkers builds one worker per stage queue with the dispatcher
// registered, ready to Start. Stage queues are independent: each worker
// pulls only its own queue, so a backlog in one stage never starves
// another.
func NewStageWorkers(st queue.Storage, dispatcher *Dispatcher, opts ...queue.WorkerOption) ([]*queue.Worker, error) {
	workers := make([]*queue.Worker, 0, len(Stages))
	for _, stage := range Stages {
		w, err := queue.NewWorker(st, stage.Queue, opts...)
		if err != nil {
			return nil, err
		}
		if err := w.RegisterHandler(dispatcher); err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	urlTTL time.Duration
	logger *slog.Logger
}

// WithSignedURLTTL sets how long resolved source URLs stay valid.
func WithSignedURLTTL(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.urlTTL = d
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
