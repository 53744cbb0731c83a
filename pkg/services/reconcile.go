package services

import (
	"strings"

	"github.com/ekaya-inc/catalog-sync/pkg/models"
	sqlutil "github.com/ekaya-inc/catalog-sync/pkg/sql"
)

// buildExpectedDataset renders the remote form of a registered dataset.
// Returns nil when the dataset has neither a usable table nor SQL.
func buildExpectedDataset(ds *models.DesiredDataset, databaseRemoteID int64) *models.RemoteDataset {
	if ds == nil {
		return nil
	}

	sqlText := strings.TrimSpace(ds.SQLText)
	if sqlText == "" {
		sqlText = strings.TrimSpace(ds.NormalizedSQL)
	}
	table := strings.TrimSpace(ds.TableName)

	virtual := ds.Kind == models.DatasetKindVirtual
	if table == "" && sqlText != "" {
		virtual = true
	}

	expected := &models.RemoteDataset{
		DatabaseRemoteID: databaseRemoteID,
		Schema:           strings.TrimSpace(ds.SchemaName),
		Columns:          copyColumns(ds.Columns),
		Metrics:          copyMetrics(ds.Metrics),
	}
	if ds.RemoteID != nil {
		expected.RemoteID = *ds.RemoteID
	}
	if ds.TimeColumn != nil {
		expected.TimeColumn = *ds.TimeColumn
	}

	if virtual {
		if table == "" {
			table = ds.Name
		}
		if sqlText == "" || table == "" {
			return nil
		}
		expected.SQL = sqlText
	} else if table == "" {
		return nil
	}
	expected.TableName = table
	return expected
}

// hasSchema reports whether a dataset carries anything the create call omits.
func hasSchema(ds *models.RemoteDataset) bool {
	return len(ds.Columns) > 0 || len(ds.Metrics) > 0 || ds.TimeColumn != ""
}

type mergeResult struct {
	dataset       *models.RemoteDataset
	orphanColumns []models.Column
	orphanMetrics []models.Metric
}

// mergeDataset binds remote sub-resource ids onto expected by name. Remote
// columns and metrics that are not expected are appended to the payload, or
// collected for deletion when rebuild is set. An expectation without columns
// (or metrics) keeps the remote ones unchanged.
func mergeDataset(expected, current *models.RemoteDataset, rebuild bool) *mergeResult {
	result := &mergeResult{dataset: expected}
	if current == nil {
		return result
	}
	if current.RemoteID != 0 {
		expected.RemoteID = current.RemoteID
	}

	if len(expected.Columns) == 0 {
		expected.Columns = copyColumns(current.Columns)
	} else {
		currentByName := make(map[string]models.Column, len(current.Columns))
		for _, col := range current.Columns {
			if key := subResourceKey(col.Name); key != "" {
				currentByName[key] = col
			}
		}
		expectedKeys := make(map[string]bool, len(expected.Columns))
		for i := range expected.Columns {
			key := subResourceKey(expected.Columns[i].Name)
			expectedKeys[key] = true
			if existing, ok := currentByName[key]; ok {
				expected.Columns[i].RemoteID = existing.RemoteID
			}
		}
		for _, col := range current.Columns {
			if expectedKeys[subResourceKey(col.Name)] {
				continue
			}
			if rebuild {
				if col.RemoteID != nil {
					result.orphanColumns = append(result.orphanColumns, col)
				}
				continue
			}
			expected.Columns = append(expected.Columns, col)
		}
	}

	if len(expected.Metrics) == 0 {
		expected.Metrics = copyMetrics(current.Metrics)
	} else {
		currentByName := make(map[string]models.Metric, len(current.Metrics))
		for _, m := range current.Metrics {
			if key := subResourceKey(m.Name); key != "" {
				currentByName[key] = m
			}
		}
		expectedKeys := make(map[string]bool, len(expected.Metrics))
		for i := range expected.Metrics {
			key := subResourceKey(expected.Metrics[i].Name)
			expectedKeys[key] = true
			if existing, ok := currentByName[key]; ok {
				expected.Metrics[i].RemoteID = existing.RemoteID
			}
		}
		for _, m := range current.Metrics {
			if expectedKeys[subResourceKey(m.Name)] {
				continue
			}
			if rebuild {
				if m.RemoteID != nil {
					result.orphanMetrics = append(result.orphanMetrics, m)
				}
				continue
			}
			expected.Metrics = append(expected.Metrics, m)
		}
	}

	return result
}

// datasetMatches reports whether current already satisfies expected.
// Optional expected fields are only compared when set.
func datasetMatches(current, expected *models.RemoteDataset, rebuild bool) bool {
	if current == nil || expected == nil {
		return false
	}
	if current.DatabaseRemoteID != expected.DatabaseRemoteID {
		return false
	}
	if !strings.EqualFold(current.Schema, expected.Schema) {
		return false
	}
	if sqlutil.NormalizeText(current.SQL) != sqlutil.NormalizeText(expected.SQL) {
		return false
	}
	if !optionalEqual(expected.TimeColumn, current.TimeColumn) {
		return false
	}
	if !columnsMatch(current.Columns, expected.Columns, rebuild) {
		return false
	}
	return metricsMatch(current.Metrics, expected.Metrics, rebuild)
}

func columnsMatch(current, expected []models.Column, rebuild bool) bool {
	if len(expected) == 0 {
		return true
	}
	currentByName := make(map[string]models.Column, len(current))
	for _, col := range current {
		if key := subResourceKey(col.Name); key != "" {
			currentByName[key] = col
		}
	}
	expectedKeys := make(map[string]bool, len(expected))
	for _, exp := range expected {
		key := subResourceKey(exp.Name)
		expectedKeys[key] = true
		cur, ok := currentByName[key]
		if !ok || !columnMatches(cur, exp) {
			return false
		}
	}
	if rebuild {
		for key := range currentByName {
			if !expectedKeys[key] {
				return false
			}
		}
	}
	return true
}

func columnMatches(current, expected models.Column) bool {
	return expressionEqual(expected.Expression, current.Expression) &&
		optionalEqual(expected.Type, current.Type) &&
		optionalBoolEqual(expected.IsTimeColumn, current.IsTimeColumn) &&
		optionalBoolEqual(expected.Filterable, current.Filterable) &&
		optionalBoolEqual(expected.Groupable, current.Groupable) &&
		optionalBoolEqual(expected.IsActive, current.IsActive) &&
		optionalEqual(expected.VerboseName, current.VerboseName) &&
		optionalEqual(expected.Description, current.Description) &&
		optionalEqual(expected.PythonDateFormat, current.PythonDateFormat)
}

func metricsMatch(current, expected []models.Metric, rebuild bool) bool {
	if len(expected) == 0 {
		return true
	}
	currentByName := make(map[string]models.Metric, len(current))
	for _, m := range current {
		if key := subResourceKey(m.Name); key != "" {
			currentByName[key] = m
		}
	}
	expectedKeys := make(map[string]bool, len(expected))
	for _, exp := range expected {
		key := subResourceKey(exp.Name)
		expectedKeys[key] = true
		cur, ok := currentByName[key]
		if !ok || !metricMatches(cur, exp) {
			return false
		}
	}
	if rebuild {
		for key := range currentByName {
			if !expectedKeys[key] {
				return false
			}
		}
	}
	return true
}

func metricMatches(current, expected models.Metric) bool {
	return expressionEqual(expected.Expression, current.Expression) &&
		optionalEqual(expected.MetricType, current.MetricType) &&
		optionalEqual(expected.VerboseName, current.VerboseName) &&
		optionalEqual(expected.Description, current.Description)
}

// optionalEqual compares case-insensitively when expected is non-empty.
func optionalEqual(expected, current string) bool {
	if strings.TrimSpace(expected) == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(current))
}

func optionalBoolEqual(expected, current *bool) bool {
	if expected == nil {
		return true
	}
	return current != nil && *current == *expected
}

func expressionEqual(expected, current string) bool {
	if strings.TrimSpace(expected) == "" {
		return true
	}
	return sqlutil.NormalizeExpression(expected) == sqlutil.NormalizeExpression(current)
}

func subResourceKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// fillFromRemote completes a locally built view with remote state the
// registry does not hold.
func fillFromRemote(view, remote *models.RemoteDataset) {
	if remote == nil {
		return
	}
	if view.DatabaseRemoteID == 0 {
		view.DatabaseRemoteID = remote.DatabaseRemoteID
	}
	if view.Schema == "" {
		view.Schema = remote.Schema
	}
	if view.TimeColumn == "" {
		view.TimeColumn = remote.TimeColumn
	}
	if len(remote.Columns) > 0 {
		view.Columns = copyColumns(remote.Columns)
	}
	if len(remote.Metrics) > 0 {
		view.Metrics = copyMetrics(remote.Metrics)
	}
}

func copyColumns(cols []models.Column) []models.Column {
	if len(cols) == 0 {
		return nil
	}
	return append([]models.Column(nil), cols...)
}

func copyMetrics(metrics []models.Metric) []models.Metric {
	if len(metrics) == 0 {
		return nil
	}
	return append([]models.Metric(nil), metrics...)
}
