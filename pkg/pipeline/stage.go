package pipeline

import (
	"time"

	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

// StageName identifies one unit of pipeline work, backed by its own queue.
type StageName string

const (
	StageContentScan       StageName = "content-scan"
	StageThumbnail         StageName = "thumbnail"
	StageMetadata          StageName = "metadata"
	StageQualityValidation StageName = "quality-validation"
	StagePreview           StageName = "preview"
	StageFormatConversion  StageName = "format-conversion"
	StageWatermarking      StageName = "watermarking"
)

// Criticality determines whether a stage failure blocks the asset or is
// merely recorded.
//
// Critical stages propagate errors so queue-level retry applies; exhausting
// attempts rejects the asset and the pipeline reports failed. Non-critical
// stages catch their own processing errors, record a failure marker on the
// asset, and complete with a warning so cosmetic work never blocks
// availability.
type Criticality string

const (
	CriticalityCritical    Criticality = "critical"
	CriticalityNonCritical Criticality = "non-critical"
)

// StageSpec declares one stage: where its jobs go, how urgent they are,
// whether its failure blocks the asset, and which content kinds it serves.
type StageSpec struct {
	Name        StageName
	Queue       string
	Priority    queue.Priority
	Delay       time.Duration
	Criticality Criticality
	AppliesTo   func(ContentKind) bool
}

func anyKind(ContentKind) bool { return true }

func visualKind(k ContentKind) bool {
	return k == ContentKindImage || k == ContentKindVideo
}

func playableKind(k ContentKind) bool {
	return k == ContentKindVideo || k == ContentKindAudio
}

// Stages is the declarative stage table. Classification lives here — in
// one reviewable place — instead of being implied by try/catch placement
// in individual handlers.
//
// Quality validation is delayed a few seconds so metadata extraction
// usually lands first; the delay is a soft hint, and the handler re-reads
// the metadata output at execution time rather than assuming it exists.
var Stages = []StageSpec{
	{
		Name:        StageContentScan,
		Queue:       string(StageContentScan),
		Priority:    queue.PriorityCritical,
		Criticality: CriticalityCritical,
		AppliesTo:   anyKind,
	},
	{
		Name:        StageThumbnail,
		Queue:       string(StageThumbnail),
		Priority:    queue.PriorityHigh,
		Criticality: CriticalityNonCritical,
		AppliesTo:   anyKind,
	},
	{
		Name:        StageMetadata,
		Queue:       string(StageMetadata),
		Priority:    3,
		Criticality: CriticalityNonCritical,
		AppliesTo:   anyKind,
	},
	{
		Name:        StageQualityValidation,
		Queue:       string(StageQualityValidation),
		Priority:    queue.PriorityMedium,
		Delay:       3 * time.Second,
		Criticality: CriticalityNonCritical,
		AppliesTo:   anyKind,
	},
	{
		Name:        StagePreview,
		Queue:       string(StagePreview),
		Priority:    queue.PriorityLow,
		Criticality: CriticalityNonCritical,
		AppliesTo:   playableKind,
	},
	{
		Name:        StageFormatConversion,
		Queue:       string(StageFormatConversion),
		Priority:    queue.PriorityLow,
		Criticality: CriticalityNonCritical,
		AppliesTo:   anyKind,
	},
	{
		Name:        StageWatermarking,
		Queue:       string(StageWatermarking),
		Priority:    queue.PriorityLowest,
		Criticality: CriticalityNonCritical,
		AppliesTo:   visualKind,
	},
}

// StageFor returns the spec for a stage name.
func StageFor(name StageName) (StageSpec, bool) {
	for _, s := range Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageSpec{}, false
}

// ClassificationFor returns the criticality of a stage. Unknown stages are
// treated as critical so a misrouted job never silently degrades to
// ignorable.
func ClassificationFor(name StageName) Criticality {
	if s, ok := StageFor(name); ok {
		return s.Criticality
	}
	return CriticalityCritical
}

// JobID builds the idempotency key for a stage job. One job per stage per
// asset: re-enqueueing while a stage is in flight is absorbed by the queue.
func JobID(stage StageName, assetID string) string {
	return string(stage) + "-" + assetID
}
