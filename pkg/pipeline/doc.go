// Package pipeline orchestrates multi-stage media processing on top of the
// queue package.
//
// Each uploaded asset fans out into independent stage jobs (thumbnail
// generation, metadata extraction, quality validation, preview generation,
// format conversion, watermarking, and an optional content-safety scan).
// Every stage runs on its own queue with its own priority, so stages
// complete in any order and a backlog in one never starves another.
//
// Stages are classified by criticality. The content-safety scan is the only
// critical stage: when it rejects an asset, the asset is marked rejected and
// the pipeline reads as failed. Every other stage is non-critical: its
// failures are recorded as markers on the asset and the asset stays
// available without that stage's output.
//
// # Usage
//
//	orch, err := pipeline.NewOrchestrator(storage, assets)
//	if err != nil {
//		return err
//	}
//
//	result, err := orch.Process(ctx, assetID, pipeline.SourceDescriptor{
//		Location: "uploads/2024/clip.mp4",
//		MIMEType: "video/mp4",
//		Kind:     pipeline.ContentKindVideo,
//	}, pipeline.DefaultProcessingConfig())
//
//	status, err := orch.Status(ctx, assetID)
//
// Workers execute stage jobs through a Dispatcher wired to a Transformer
// implementation:
//
//	dispatcher, err := pipeline.NewDispatcher(assets, blobs, transformer)
//	workers, err := pipeline.NewStageWorkers(storage, dispatcher)
//	for _, w := range workers {
//		g.Go(w.Run(ctx))
//	}
//
// Calling Process twice for the same asset is safe: stage job IDs are
// deterministic, so jobs still in flight are absorbed by the queue's
// idempotency guard while finished ones are restarted.
package pipeline
