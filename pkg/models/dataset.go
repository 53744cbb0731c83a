package models

import (
	"time"

	"github.com/google/uuid"
)

// DatasetKind distinguishes table-backed datasets from query-defined ones.
type DatasetKind string

const (
	// DatasetKindPhysical points at an existing table in the source database.
	DatasetKindPhysical DatasetKind = "PHYSICAL"
	// DatasetKindVirtual is defined by a SQL query.
	DatasetKindVirtual DatasetKind = "VIRTUAL"
)

// ValidDatasetKinds lists the accepted dataset kinds.
var ValidDatasetKinds = []DatasetKind{DatasetKindPhysical, DatasetKindVirtual}

// IsValid reports whether k is a known dataset kind.
func (k DatasetKind) IsValid() bool {
	for _, v := range ValidDatasetKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Column is a dataset column as registered locally and mirrored remotely.
// Boolean flags are pointers so that an unset flag is not compared during diffing.
type Column struct {
	Name             string `json:"name"`
	Expression       string `json:"expression,omitempty"`
	Type             string `json:"type,omitempty"`
	IsTimeColumn     *bool  `json:"is_time_column,omitempty"`
	Filterable       *bool  `json:"filterable,omitempty"`
	Groupable        *bool  `json:"groupable,omitempty"`
	IsActive         *bool  `json:"is_active,omitempty"`
	VerboseName      string `json:"verbose_name,omitempty"`
	Description      string `json:"description,omitempty"`
	PythonDateFormat string `json:"python_date_format,omitempty"`
	RemoteID         *int64 `json:"remote_id,omitempty"` // Bound after the first successful sync
}

// Metric is an aggregate expression attached to a dataset.
type Metric struct {
	Name        string `json:"name"`
	Expression  string `json:"expression,omitempty"`
	MetricType  string `json:"metric_type,omitempty"`
	VerboseName string `json:"verbose_name,omitempty"`
	Description string `json:"description,omitempty"`
	RemoteID    *int64 `json:"remote_id,omitempty"`
}

// DesiredDataset is the local definition of a dataset that should exist in the remote catalog.
type DesiredDataset struct {
	ID              uuid.UUID   `json:"id"`
	SQLHash         string      `json:"sql_hash"`
	SQLText         string      `json:"sql_text"`
	NormalizedSQL   string      `json:"normalized_sql"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Kind            DatasetKind `json:"kind"`
	LocalDatabaseID uuid.UUID   `json:"local_database_id"`
	DataSetID       *int64      `json:"data_set_id,omitempty"` // Semantic data set the query was answered from
	SchemaName      string      `json:"schema_name,omitempty"`
	TableName       string      `json:"table_name"`
	TimeColumn      *string     `json:"time_column,omitempty"`
	Columns         []Column    `json:"columns,omitempty"`
	Metrics         []Metric    `json:"metrics,omitempty"`
	RemoteID        *int64      `json:"remote_id,omitempty"`
	CreatedBy       string      `json:"created_by,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	SyncedAt        *time.Time  `json:"synced_at,omitempty"`
}

// ShouldSync reports whether the dataset is stale relative to its remote twin.
// A dataset is stale when it was never synced or was updated after the last sync.
func (d *DesiredDataset) ShouldSync() bool {
	if d.RemoteID == nil || d.SyncedAt == nil {
		return true
	}
	return d.UpdatedAt.After(*d.SyncedAt)
}

// SchemaElement is a dimension or metric produced by the query pipeline.
type SchemaElement struct {
	Name            string `json:"name"`
	BizName         string `json:"biz_name,omitempty"`
	Description     string `json:"description,omitempty"`
	IsPartitionTime bool   `json:"is_partition_time,omitempty"`
}

// DatasetDefinition is the input to on-demand registration: an answered query
// and the schema elements it was built from.
type DatasetDefinition struct {
	SQL             string          `json:"sql"`
	LocalDatabaseID uuid.UUID       `json:"local_database_id"`
	DataSetID       *int64          `json:"data_set_id,omitempty"`
	QueryText       string          `json:"query_text,omitempty"`
	Dimensions      []SchemaElement `json:"dimensions,omitempty"`
	Metrics         []SchemaElement `json:"metrics,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
}

// DatasetFilter narrows registry queries. Zero values mean "no filter".
type DatasetFilter struct {
	Name            string      `json:"name,omitempty"` // Case-insensitive substring
	Kind            DatasetKind `json:"kind,omitempty"`
	LocalDatabaseID *uuid.UUID  `json:"local_database_id,omitempty"`
	DataSetID       *int64      `json:"data_set_id,omitempty"`
	SQLHash         string      `json:"sql_hash,omitempty"`
	RemoteID        *int64      `json:"remote_id,omitempty"`
	CreatedBy       string      `json:"created_by,omitempty"`
	Synced          *bool       `json:"synced,omitempty"`
	Page            int         `json:"page"`
	PageSize        int         `json:"page_size"`
}

// DatasetPage is one page of registry query results.
type DatasetPage struct {
	Items    []*DesiredDataset `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}
