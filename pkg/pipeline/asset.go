package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// AssetStatus is the domain-level outcome of processing an asset.
type AssetStatus string

const (
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusRejected   AssetStatus = "rejected"
)

// Asset is the domain record the pipeline serves. The pipeline owns the
// stage outputs and failure markers on it; everything else belongs to the
// surrounding application.
type Asset struct {
	ID        string           `json:"id"`
	Source    SourceDescriptor `json:"source"`
	Config    ProcessingConfig `json:"config"`
	Status    AssetStatus      `json:"status"`
	Rejection string           `json:"rejection,omitempty"`

	// StageOutputs holds the latest persisted result per completed stage.
	StageOutputs map[StageName]json.RawMessage `json:"stage_outputs,omitempty"`

	// StageFailures holds failure markers written by non-critical stages.
	// A marker never blocks availability; it exists for operators and for
	// explicit stage retries.
	StageFailures map[StageName]string `json:"stage_failures,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssetStore is the domain record store the pipeline reads and writes.
// Implementations must make each method an atomic single-record update;
// the pipeline performs no cross-record locking.
type AssetStore interface {
	// GetAsset returns the asset or ErrAssetNotFound.
	GetAsset(ctx context.Context, id string) (*Asset, error)

	// SaveAsset creates or replaces the asset record.
	SaveAsset(ctx context.Context, asset *Asset) error

	// RecordStageOutput upserts a completed stage's output and clears any
	// failure marker for that stage. Safe under re-execution.
	RecordStageOutput(ctx context.Context, id string, stage StageName, output json.RawMessage) error

	// RecordStageFailure upserts a non-critical failure marker.
	RecordStageFailure(ctx context.Context, id string, stage StageName, reason string) error

	// MarkRejected marks the asset rejected with a reason.
	MarkRejected(ctx context.Context, id string, reason string) error
}

// MemoryAssetStore implements AssetStore for testing and local development.
type MemoryAssetStore struct {
	mu     sync.RWMutex
	assets map[string]*Asset
}

// NewMemoryAssetStore creates a new in-memory asset store.
func NewMemoryAssetStore() *MemoryAssetStore {
	return &MemoryAssetStore{assets: make(map[string]*Asset)}
}

// GetAsset implements AssetStore.
func (ms *MemoryAssetStore) GetAsset(ctx context.Context, id string) (*Asset, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	asset, ok := ms.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}

	return cloneAsset(asset), nil
}

// SaveAsset implements AssetStore.
func (ms *MemoryAssetStore) SaveAsset(ctx context.Context, asset *Asset) error {
	if asset == nil || asset.ID == "" {
		return ErrAssetIDEmpty
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	assetCopy := cloneAsset(asset)
	now := time.Now()
	if assetCopy.CreatedAt.IsZero() {
		assetCopy.CreatedAt = now
	}
	assetCopy.UpdatedAt = now
	ms.assets[asset.ID] = assetCopy

	return nil
}

// RecordStageOutput implements AssetStore.
func (ms *MemoryAssetStore) RecordStageOutput(ctx context.Context, id string, stage StageName, output json.RawMessage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	asset, ok := ms.assets[id]
	if !ok {
		return ErrAssetNotFound
	}

	if asset.StageOutputs == nil {
		asset.StageOutputs = make(map[StageName]json.RawMessage)
	}
	asset.StageOutputs[stage] = output
	delete(asset.StageFailures, stage)
	asset.UpdatedAt = time.Now()

	return nil
}

// RecordStageFailure implements AssetStore.
func (ms *MemoryAssetStore) RecordStageFailure(ctx context.Context, id string, stage StageName, reason string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	asset, ok := ms.assets[id]
	if !ok {
		return ErrAssetNotFound
	}

	if asset.StageFailures == nil {
		asset.StageFailures = make(map[StageName]string)
	}
	asset.StageFailures[stage] = reason
	asset.UpdatedAt = time.Now()

	return nil
}

// MarkRejected implements AssetStore.
func (ms *MemoryAssetStore) MarkRejected(ctx context.Context, id string, reason string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	asset, ok := ms.assets[id]
	if !ok {
		return ErrAssetNotFound
	}

	asset.Status = AssetStatusRejected
	asset.Rejection = reason
	asset.UpdatedAt = time.Now()

	return nil
}

func cloneAsset(asset *Asset) *Asset {
	assetCopy := *asset
	if asset.StageOutputs != nil {
		assetCopy.StageOutputs = make(map[StageName]json.RawMessage, len(asset.StageOutputs))
		for k, v := range asset.StageOutputs {
			assetCopy.StageOutputs[k] = v
		}
	}
	if asset.StageFailures != nil {
		assetCopy.StageFailures = make(map[StageName]string, len(asset.StageFailures))
		for k, v := range asset.StageFailures {
			assetCopy.StageFailures[k] = v
		}
	}
	return &assetCopy
}
