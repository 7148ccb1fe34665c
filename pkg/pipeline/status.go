package pipeline

import (
	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

// StageStatus is the per-stage view exposed by status queries.
type StageStatus string

const (
	StageStatusPending       StageStatus = "pending"
	StageStatusProcessing    StageStatus = "processing"
	StageStatusCompleted     StageStatus = "completed"
	StageStatusFailed        StageStatus = "failed"
	StageStatusSkipped       StageStatus = "skipped"
	StageStatusNotApplicable StageStatus = "not-applicable"
	StageStatusNotEnabled    StageStatus = "not-enabled"
)

// OverallStatus is the reduction of all stage statuses.
type OverallStatus string

const (
	OverallPending    OverallStatus = "pending"
	OverallProcessing OverallStatus = "processing"
	OverallCompleted  OverallStatus = "completed"
	OverallFailed     OverallStatus = "failed"
)

// RunStatus is the pipeline view for one asset.
type RunStatus struct {
	Stages  map[StageName]StageStatus `json:"stages"`
	Overall OverallStatus             `json:"overall"`
}

// skipWarning is the marker a handler puts first in its result warnings
// when it decided at execution time that the stage had nothing to do.
const skipWarning = "stage skipped"

// stageStatusFromJob maps a queue job state onto the stage view. Removed
// jobs read as skipped: cancellation intentionally took the work away, the
// stage did not break.
func stageStatusFromJob(job *queue.Job) StageStatus {
	switch job.Status {
	case queue.JobStatusWaiting, queue.JobStatusDelayed:
		return StageStatusPending
	case queue.JobStatusActive:
		return StageStatusProcessing
	case queue.JobStatusCompleted:
		if len(job.Warnings) > 0 && job.Warnings[0] == skipWarning {
			return StageStatusSkipped
		}
		return StageStatusCompleted
	case queue.JobStatusFailed:
		return StageStatusFailed
	case queue.JobStatusRemoved:
		return StageStatusSkipped
	default:
		return StageStatusPending
	}
}

// reduceOverall computes the overall status as a pure function of the
// per-stage statuses:
//
//   - failed iff any critical stage failed;
//   - completed iff every enabled, applicable stage is completed or skipped;
//   - pending iff no stage has started;
//   - processing otherwise.
//
// Stages may complete in any order or interleave, so the reduction never
// assumes sequencing — it only looks at the statuses in front of it.
func reduceOverall(stages map[StageName]StageStatus) OverallStatus {
	considered := 0
	done := 0
	started := false

	for name, status := range stages {
		switch status {
		case StageStatusNotEnabled, StageStatusNotApplicable:
			continue
		}
		considered++

		switch status {
		case StageStatusFailed:
			if ClassificationFor(name) == CriticalityCritical {
				return OverallFailed
			}
			started = true
		case StageStatusCompleted, StageStatusSkipped:
			done++
			started = true
		case StageStatusProcessing:
			started = true
		}
	}

	switch {
	case considered == 0:
		return OverallCompleted
	case done == considered:
		return OverallCompleted
	case !started:
		return OverallPending
	default:
		return OverallProcessing
	}
}
