package models

import "time"

// SyncJob records one processing attempt for a discussion. Jobs are kept
// after completion as the audit trail for the run: status is monotone
// (processing → completed|failed) and stage only advances while the job is
// processing.
type SyncJob struct {
	ID             string      `db:"id" json:"id"`
	TenantID       string      `db:"tenant_id" json:"tenant_id"`
	Owner          string      `db:"owner" json:"owner"`
	DiscussionID   string      `db:"discussion_id" json:"discussion_id"`
	SourceConfigID string      `db:"source_config_id" json:"source_config_id"`
	Status         Status      `db:"status" json:"status"`
	Stage          JobStage    `db:"stage" json:"stage"`
	Attempt        int         `db:"attempt" json:"attempt"`
	MaxAttempts    int         `db:"max_attempts" json:"max_attempts"`
	ErrorMessage   string      `db:"error_message" json:"error_message,omitempty"`
	ErrorStack     string      `db:"error_stack" json:"error_stack,omitempty"`
	TaskIDs        StringList  `db:"task_ids" json:"task_ids,omitempty"`
	Metadata       MetadataMap `db:"metadata" json:"metadata,omitempty"`
	StartedAt      time.Time   `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	ProcessingMs   int64       `db:"processing_ms" json:"processing_ms"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// NewSyncJob builds a processing job for one pipeline run.
func NewSyncJob(id string, d *Discussion, attempt, maxAttempts int) *SyncJob {
	now := time.Now().UTC()
	return &SyncJob{
		ID:             id,
		TenantID:       d.TenantID,
		Owner:          d.Owner,
		DiscussionID:   d.ID,
		SourceConfigID: d.SourceConfigID,
		Status:         StatusProcessing,
		Stage:          StagePending,
		Attempt:        attempt,
		MaxAttempts:    maxAttempts,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
