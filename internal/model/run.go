package model

import "time"

// PipelineRun はパイプライン1回分の実行履歴を表す。
type PipelineRun struct {
	ID            string
	MosqueUUID    string
	Status        ScheduleStatus
	FailureKind   FailureKind
	FailureReason string
	LastUpdated   *time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
}
