package models

import "time"

// SyncTrigger records what started a reconciliation pass.
type SyncTrigger string

const (
	SyncTriggerManual    SyncTrigger = "MANUAL"
	SyncTriggerScheduled SyncTrigger = "SCHEDULED"
	SyncTriggerEvent     SyncTrigger = "EVENT"
	SyncTriggerOnDemand  SyncTrigger = "ON_DEMAND"
)

// ResourceType is the class of remote resource a pass reconciles.
type ResourceType string

const (
	ResourceTypeDatabase ResourceType = "DATABASE"
	ResourceTypeDataset  ResourceType = "DATASET"
)

// SyncStats counts per-item outcomes of one pass.
type SyncStats struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SyncResult is the outcome of a pass. Stats is always populated.
type SyncResult struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	DurationMs int64      `json:"duration_ms"`
	Stats      *SyncStats `json:"stats"`
}

// NewSyncSuccess builds a successful result.
func NewSyncSuccess(message string, stats *SyncStats, duration time.Duration) *SyncResult {
	if stats == nil {
		stats = &SyncStats{}
	}
	return &SyncResult{
		Success:    true,
		Message:    message,
		DurationMs: duration.Milliseconds(),
		Stats:      stats,
	}
}

// NewSyncFailure builds a failed result.
func NewSyncFailure(message string, stats *SyncStats, duration time.Duration) *SyncResult {
	if stats == nil {
		stats = &SyncStats{}
	}
	return &SyncResult{
		Success:    false,
		Message:    message,
		DurationMs: duration.Milliseconds(),
		Stats:      stats,
	}
}

// FullSyncResult reports both passes of a full reconciliation.
type FullSyncResult struct {
	Databases *SyncResult `json:"databases"`
	Datasets  *SyncResult `json:"datasets"`
}

// Success reports whether both passes succeeded.
func (r *FullSyncResult) Success() bool {
	return r.Databases != nil && r.Databases.Success && r.Datasets != nil && r.Datasets.Success
}
