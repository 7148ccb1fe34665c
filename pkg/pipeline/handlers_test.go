package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediapipe/pkg/pipeline"
	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

// stubTransformer returns canned outputs per stage and records the
// source URL it was called with.
type stubTransformer struct {
	thumbErr   error
	scanErr    error
	metaOutput json.RawMessage
	lastSrcURL string
	qualityIn  json.RawMessage
}

func (s *stubTransformer) GenerateThumbnail(ctx context.Context, srcURL string, src pipeline.SourceDescriptor) (json.RawMessage, error) {
	s.lastSrcURL = srcURL
	if s.thumbErr != nil {
		return nil, s.thumbErr
	}
	return json.RawMessage(`{"thumbnail":"thumbs/photo.jpg"}`), nil
}

func (s *stubTransformer) ExtractMetadata(ctx context.Context, srcURL string, src pipeline.SourceDescriptor) (json.RawMessage, error) {
	if s.metaOutput != nil {
		return s.metaOutput, nil
	}
	return json.RawMessage(`{"width":800,"height":600}`), nil
}

func (s *stubTransformer) ValidateQuality(ctx context.Context, srcURL string, src pipeline.SourceDescriptor, metadata json.RawMessage) (json.RawMessage, error) {
	s.qualityIn = metadata
	return json.RawMessage(`{"ok":true}`), nil
}

func (s *stubTransformer) GeneratePreview(ctx context.Context, srcURL string, src pipeline.SourceDescriptor) (json.RawMessage, error) {
	return json.RawMessage(`{"preview":"previews/clip.mp4"}`), nil
}

func (s *stubTransformer) ConvertFormats(ctx context.Context, srcURL string, src pipeline.SourceDescriptor, opts pipeline.FormatConversionOptions) (json.RawMessage, error) {
	return json.RawMessage(`{"webp":true}`), nil
}

func (s *stubTransformer) ApplyWatermark(ctx context.Context, srcURL string, src pipeline.SourceDescriptor, opts pipeline.WatermarkOptions) (json.RawMessage, error) {
	return json.RawMessage(`{"watermarked":true}`), nil
}

func (s *stubTransformer) ScanContent(ctx context.Context, srcURL string, src pipeline.SourceDescriptor) (json.RawMessage, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return json.RawMessage(`{"verdict":"clean"}`), nil
}

func stagePayload(t *testing.T, stage pipeline.StageName, assetID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(pipeline.StagePayload{
		Stage:   stage,
		AssetID: assetID,
		Source:  imageSource(),
	})
	require.NoError(t, err)
	return raw
}

func newAssetStore(t *testing.T, assetID string) *pipeline.MemoryAssetStore {
	t.Helper()
	assets := pipeline.NewMemoryAssetStore()
	require.NoError(t, assets.SaveAsset(context.Background(), &pipeline.Asset{
		ID:     assetID,
		Source: imageSource(),
		Config: pipeline.DefaultProcessingConfig(),
		Status: pipeline.AssetStatusProcessing,
	}))
	return assets
}

func TestNewDispatcher(t *testing.T) {
	t.Parallel()

	t.Run("nil asset store", func(t *testing.T) {
		t.Parallel()

		_, err := pipeline.NewDispatcher(nil, nil, &stubTransformer{})
		assert.ErrorIs(t, err, pipeline.ErrAssetStoreNil)
	})

	t.Run("nil transformer", func(t *testing.T) {
		t.Parallel()

		_, err := pipeline.NewDispatcher(pipeline.NewMemoryAssetStore(), nil, nil)
		assert.ErrorIs(t, err, pipeline.ErrTransformerNil)
	})

	t.Run("kind routes to the stage dispatcher", func(t *testing.T) {
		t.Parallel()

		d, err := pipeline.NewDispatcher(pipeline.NewMemoryAssetStore(), nil, &stubTransformer{})
		require.NoError(t, err)
		assert.Equal(t, pipeline.PayloadKind, d.Kind())
	})
}

func TestDispatcherHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("successful stage records output", func(t *testing.T) {
		t.Parallel()

		assets := newAssetStore(t, "asset-1")
		d, err := pipeline.NewDispatcher(assets, nil, &stubTransformer{})
		require.NoError(t, err)

		result, err := d.Handle(ctx, stagePayload(t, pipeline.StageThumbnail, "asset-1"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"thumbnail":"thumbs/photo.jpg"}`, string(result.Output))
		assert.Empty(t, result.Warnings)

		asset, err := assets.GetAsset(ctx, "asset-1")
		require.NoError(t, err)
		assert.Contains(t, asset.StageOutputs, pipeline.StageThumbnail)
	})

	t.Run("without blob storage the raw location is passed through", func(t *testing.T) {
		t.Parallel()

		tr := &stubTransformer{}
		d, err := pipeline.NewDispatcher(newAssetStore(t, "asset-1"), nil, tr)
		require.NoError(t, err)

		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageThumbnail, "asset-1"))
		require.NoError(t, err)
		assert.Equal(t, "uploads/photo.jpg", tr.lastSrcURL)
	})

	t.Run("malformed payload is not retried", func(t *testing.T) {
		t.Parallel()

		d, err := pipeline.NewDispatcher(newAssetStore(t, "asset-1"), nil, &stubTransformer{})
		require.NoError(t, err)

		_, err = d.Handle(ctx, json.RawMessage(`{broken`))
		assert.ErrorIs(t, err, queue.ErrSkipRetry)

		_, err = d.Handle(ctx, json.RawMessage(`{"stage":"thumbnail"}`))
		assert.ErrorIs(t, err, queue.ErrSkipRetry)

		_, err = d.Handle(ctx, json.RawMessage(`{"stage":"transmogrify","asset_id":"asset-1"}`))
		assert.ErrorIs(t, err, queue.ErrSkipRetry)
	})

	t.Run("non-critical failure becomes a warning", func(t *testing.T) {
		t.Parallel()

		assets := newAssetStore(t, "asset-1")
		tr := &stubTransformer{thumbErr: errors.New("decoder choked")}
		d, err := pipeline.NewDispatcher(assets, nil, tr)
		require.NoError(t, err)

		result, err := d.Handle(ctx, stagePayload(t, pipeline.StageThumbnail, "asset-1"))
		require.NoError(t, err)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "decoder choked")

		asset, err := assets.GetAsset(ctx, "asset-1")
		require.NoError(t, err)
		assert.Contains(t, asset.StageFailures[pipeline.StageThumbnail], "decoder choked")
		// The asset stays available
		assert.Equal(t, pipeline.AssetStatusProcessing, asset.Status)
	})

	t.Run("transient failure escapes for retry", func(t *testing.T) {
		t.Parallel()

		tr := &stubTransformer{thumbErr: pipeline.Transient(errors.New("blob store down"))}
		d, err := pipeline.NewDispatcher(newAssetStore(t, "asset-1"), nil, tr)
		require.NoError(t, err)

		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageThumbnail, "asset-1"))
		assert.ErrorIs(t, err, pipeline.ErrTransient)
		assert.NotErrorIs(t, err, queue.ErrSkipRetry)
	})

	t.Run("content rejection halts the pipeline", func(t *testing.T) {
		t.Parallel()

		assets := newAssetStore(t, "asset-1")
		tr := &stubTransformer{scanErr: pipeline.ErrContentRejected}
		d, err := pipeline.NewDispatcher(assets, nil, tr)
		require.NoError(t, err)

		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageContentScan, "asset-1"))
		assert.ErrorIs(t, err, queue.ErrSkipRetry)

		asset, err := assets.GetAsset(ctx, "asset-1")
		require.NoError(t, err)
		assert.Equal(t, pipeline.AssetStatusRejected, asset.Status)
		assert.NotEmpty(t, asset.Rejection)
	})

	t.Run("critical infrastructure failure retries without rejection", func(t *testing.T) {
		t.Parallel()

		assets := newAssetStore(t, "asset-1")
		tr := &stubTransformer{scanErr: errors.New("scanner unavailable")}
		d, err := pipeline.NewDispatcher(assets, nil, tr)
		require.NoError(t, err)

		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageContentScan, "asset-1"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrSkipRetry)

		asset, err := assets.GetAsset(ctx, "asset-1")
		require.NoError(t, err)
		assert.Equal(t, pipeline.AssetStatusProcessing, asset.Status)
	})

	t.Run("quality validation reads persisted metadata", func(t *testing.T) {
		t.Parallel()

		assets := newAssetStore(t, "asset-1")
		meta := json.RawMessage(`{"width":1920}`)
		require.NoError(t, assets.RecordStageOutput(ctx, "asset-1", pipeline.StageMetadata, meta))

		tr := &stubTransformer{}
		d, err := pipeline.NewDispatcher(assets, nil, tr)
		require.NoError(t, err)

		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageQualityValidation, "asset-1"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"width":1920}`, string(tr.qualityIn))
	})

	t.Run("quality validation tolerates missing metadata", func(t *testing.T) {
		t.Parallel()

		tr := &stubTransformer{}
		d, err := pipeline.NewDispatcher(newAssetStore(t, "asset-1"), nil, tr)
		require.NoError(t, err)

		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageQualityValidation, "asset-1"))
		require.NoError(t, err)
		assert.Nil(t, tr.qualityIn)
	})

	t.Run("output recording clears earlier failure marker", func(t *testing.T) {
		t.Parallel()

		assets := newAssetStore(t, "asset-1")
		tr := &stubTransformer{thumbErr: errors.New("decoder choked")}
		d, err := pipeline.NewDispatcher(assets, nil, tr)
		require.NoError(t, err)

		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageThumbnail, "asset-1"))
		require.NoError(t, err)

		tr.thumbErr = nil
		_, err = d.Handle(ctx, stagePayload(t, pipeline.StageThumbnail, "asset-1"))
		require.NoError(t, err)

		asset, err := assets.GetAsset(ctx, "asset-1")
		require.NoError(t, err)
		assert.NotContains(t, asset.StageFailures, pipeline.StageThumbnail)
		assert.Contains(t, asset.StageOutputs, pipeline.StageThumbnail)
	})
}

func TestNewStageWorkers(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })

	d, err := pipeline.NewDispatcher(pipeline.NewMemoryAssetStore(), nil, &stubTransformer{})
	require.NoError(t, err)

	workers, err := pipeline.NewStageWorkers(storage, d)
	require.NoError(t, err)
	require.Len(t, workers, len(pipeline.Stages))

	queues := make(map[string]bool)
	for _, w := range workers {
		queues[w.Queue()] = true
	}
	for _, stage := range pipeline.Stages {
		assert.True(t, queues[stage.Queue], "missing worker for %s", stage.Queue)
	}
}
