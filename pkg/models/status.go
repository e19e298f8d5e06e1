// Package models contains the source-agnostic domain types shared by
// adapters, the processor pipeline, and the storage layer.
package models

import "fmt"

// Status is the abstract lifecycle status shared by discussions and sync jobs.
// Adapters translate it into source-specific wire gestures (reaction glyphs,
// status fields); the processor only ever deals in this enum.
type Status string

// Status values.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidateStatus returns an error naming the invalid value.
func ValidateStatus(s Status) error {
	if !s.Valid() {
		return fmt.Errorf("invalid status %q", string(s))
	}
	return nil
}

// JobStage is one of the ordered phases a sync job passes through.
type JobStage string

// JobStage values, in pipeline order.
const (
	StagePending        JobStage = "pending"
	StageTeamResolution JobStage = "team_resolution"
	StageConfigLoading  JobStage = "config_loading"
	StageThreadBuilding JobStage = "thread_building"
	StageAIAnalysis     JobStage = "ai_analysis"
	StageTaskCreation   JobStage = "task_creation"
	StageNotification   JobStage = "notification"
	StageCompleted      JobStage = "completed"
)

// stageOrder maps each stage to its position in the pipeline.
var stageOrder = map[JobStage]int{
	StagePending:        0,
	StageTeamResolution: 1,
	StageConfigLoading:  2,
	StageThreadBuilding: 3,
	StageAIAnalysis:     4,
	StageTaskCreation:   5,
	StageNotification:   6,
	StageCompleted:      7,
}

// Valid reports whether st is a known stage value.
func (st JobStage) Valid() bool {
	_, ok := stageOrder[st]
	return ok
}

// Before reports whether st precedes other in the pipeline ordering.
// Unknown stages compare as not-before.
func (st JobStage) Before(other JobStage) bool {
	a, okA := stageOrder[st]
	b, okB := stageOrder[other]
	return okA && okB && a < b
}
