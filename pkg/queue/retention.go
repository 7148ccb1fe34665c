package queue

import "time"

// KeepRule bounds how many terminal jobs a queue retains. A job is pruned
// only once it falls outside the newest Count AND is older than Age —
// whichever rule keeps more jobs wins.
type KeepRule struct {
	Count int           `json:"count"`
	Age   time.Duration `json:"age"`
}

// RetentionPolicy governs pruning of terminal jobs per queue. Failed jobs
// are kept longer than completed ones to support postmortem inspection.
// Removed (cancelled) jobs are pruned under the Completed rule.
type RetentionPolicy struct {
	Completed KeepRule `json:"completed"`
	Failed    KeepRule `json:"failed"`
}

// DefaultRetentionPolicy keeps the newest 100 completed jobs or 24 hours
// and the newest 500 failed jobs or 7 days.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Completed: KeepRule{Count: 100, Age: 24 * time.Hour},
		Failed:    KeepRule{Count: 500, Age: 7 * 24 * time.Hour},
	}
}

// rule returns the keep rule applying to a terminal status.
func (p RetentionPolicy) rule(status JobStatus) KeepRule {
	if status == JobStatusFailed {
		return p.Failed
	}
	return p.Completed
}
