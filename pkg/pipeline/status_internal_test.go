package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

func TestStageStatusFromJob(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name string
		job  *queue.Job
		want StageStatus
	}{
		{"waiting", &queue.Job{Status: queue.JobStatusWaiting}, StageStatusPending},
		{"delayed", &queue.Job{Status: queue.JobStatusDelayed}, StageStatusPending},
		{"active", &queue.Job{Status: queue.JobStatusActive}, StageStatusProcessing},
		{"completed", &queue.Job{Status: queue.JobStatusCompleted, CompletedAt: &now}, StageStatusCompleted},
		{"failed", &queue.Job{Status: queue.JobStatusFailed}, StageStatusFailed},
		{"removed reads as skipped", &queue.Job{Status: queue.JobStatusRemoved}, StageStatusSkipped},
		{
			"completed with skip marker",
			&queue.Job{Status: queue.JobStatusCompleted, Warnings: []string{skipWarning}},
			StageStatusSkipped,
		},
		{
			"completed with ordinary warning",
			&queue.Job{Status: queue.JobStatusCompleted, Warnings: []string{"low resolution"}},
			StageStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, stageStatusFromJob(tt.job))
		})
	}
}

func TestReduceOverall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stages map[StageName]StageStatus
		want   OverallStatus
	}{
		{
			"all pending",
			map[StageName]StageStatus{
				StageThumbnail: StageStatusPending,
				StageMetadata:  StageStatusPending,
			},
			OverallPending,
		},
		{
			"some work started",
			map[StageName]StageStatus{
				StageThumbnail: StageStatusProcessing,
				StageMetadata:  StageStatusPending,
			},
			OverallProcessing,
		},
		{
			"all completed",
			map[StageName]StageStatus{
				StageThumbnail: StageStatusCompleted,
				StageMetadata:  StageStatusCompleted,
			},
			OverallCompleted,
		},
		{
			"skipped counts as done",
			map[StageName]StageStatus{
				StageThumbnail: StageStatusCompleted,
				StagePreview:   StageStatusSkipped,
			},
			OverallCompleted,
		},
		{
			"critical failure dominates",
			map[StageName]StageStatus{
				StageContentScan: StageStatusFailed,
				StageThumbnail:   StageStatusCompleted,
				StageMetadata:    StageStatusProcessing,
			},
			OverallFailed,
		},
		{
			"non-critical failure keeps processing",
			map[StageName]StageStatus{
				StageThumbnail: StageStatusFailed,
				StageMetadata:  StageStatusPending,
			},
			OverallProcessing,
		},
		{
			"not-enabled and not-applicable are invisible",
			map[StageName]StageStatus{
				StageThumbnail:    StageStatusCompleted,
				StagePreview:      StageStatusNotApplicable,
				StageWatermarking: StageStatusNotEnabled,
			},
			OverallCompleted,
		},
		{
			"nothing considered",
			map[StageName]StageStatus{
				StagePreview: StageStatusNotApplicable,
			},
			OverallCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, reduceOverall(tt.stages))
		})
	}
}
