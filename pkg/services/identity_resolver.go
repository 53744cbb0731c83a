package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	sqlutil "github.com/ekaya-inc/catalog-sync/pkg/sql"
)

const (
	// MaxNameLength bounds dataset and database names sent to the catalog.
	MaxNameLength = 250

	defaultDatasetName = "chat query dataset"
	nameElementLimit   = 3
	descElementLimit   = 5
	nameSeparator      = "·"

	columnTypeDate   = "DATE"
	columnTypeString = "STRING"
	columnTypeNumber = "NUMBER"
	metricTypeSQL    = "SQL"
)

// IdentityResolver derives the stable identity and shape of a dataset from
// an answered query.
type IdentityResolver interface {
	// Resolve returns the desired dataset for def on db, or nil when the
	// definition carries no usable SQL.
	Resolve(def *models.DatasetDefinition, db *models.LocalDatabase) *models.DesiredDataset
}

type identityResolver struct {
	logger *zap.Logger
}

var _ IdentityResolver = (*identityResolver)(nil)

// NewIdentityResolver creates a new identity resolver.
func NewIdentityResolver(logger *zap.Logger) IdentityResolver {
	return &identityResolver{
		logger: logger.Named("identity-resolver"),
	}
}

func (r *identityResolver) Resolve(def *models.DatasetDefinition, db *models.LocalDatabase) *models.DesiredDataset {
	if def == nil || strings.TrimSpace(def.SQL) == "" {
		return nil
	}

	engineType := ""
	if db != nil {
		engineType = db.Type
	}
	normalized, hash := sqlutil.NormalizeAndFingerprintForEngine(def.SQL, engineType)
	if normalized == "" {
		return nil
	}

	name := buildDatasetName(def, hash)
	kind := models.DatasetKindVirtual
	var schema, table string

	if tables := sqlutil.ExtractTables(normalized); len(tables) == 1 {
		kind = models.DatasetKindPhysical
		schema, table = sqlutil.SplitQualifiedName(tables[0])
	}
	if kind == models.DatasetKindPhysical && strings.TrimSpace(table) == "" {
		r.logger.Debug("Table unresolved, falling back to virtual dataset",
			zap.String("sql_hash", hash))
		kind = models.DatasetKindVirtual
	}
	if kind == models.DatasetKindVirtual {
		table = name
	}
	if schema == "" {
		schema = datasource.ResolveSchema(db)
	}

	columns := buildDatasetColumns(def)

	ds := &models.DesiredDataset{
		SQLHash:         hash,
		SQLText:         def.SQL,
		NormalizedSQL:   normalized,
		Name:            name,
		Description:     buildDatasetDescription(def, hash),
		Tags:            buildDatasetTags(def, kind, hash),
		Kind:            kind,
		LocalDatabaseID: def.LocalDatabaseID,
		DataSetID:       def.DataSetID,
		SchemaName:      schema,
		TableName:       table,
		TimeColumn:      resolveTimeColumn(columns),
		Columns:         columns,
		Metrics:         buildDatasetMetrics(def),
		CreatedBy:       def.CreatedBy,
	}
	if db != nil && ds.LocalDatabaseID == uuid.Nil {
		ds.LocalDatabaseID = db.ID
	}
	return ds
}

func buildDatasetName(def *models.DatasetDefinition, hash string) string {
	var parts []string
	if names := joinElementNames(def.Metrics, nameElementLimit); names != "" {
		parts = append(parts, "metrics "+names)
	}
	if names := joinElementNames(def.Dimensions, nameElementLimit); names != "" {
		parts = append(parts, "dimensions "+names)
	}
	if len(parts) == 0 {
		parts = append(parts, defaultDatasetName)
	}
	if len(hash) >= 6 {
		parts = append(parts, hash[:6])
	}
	return truncateRunes(strings.Join(parts, nameSeparator), MaxNameLength)
}

func buildDatasetDescription(def *models.DatasetDefinition, hash string) string {
	var b strings.Builder
	b.WriteString("Dataset generated from a chat query")
	if hash != "" {
		fmt.Fprintf(&b, ", SQL hash: %s", hash)
	}
	if names := joinElementNames(def.Metrics, descElementLimit); names != "" {
		fmt.Fprintf(&b, ", metrics: %s", names)
	}
	if names := joinElementNames(def.Dimensions, descElementLimit); names != "" {
		fmt.Fprintf(&b, ", dimensions: %s", names)
	}
	if q := strings.TrimSpace(def.QueryText); q != "" {
		fmt.Fprintf(&b, ", question: %s", q)
	}
	return b.String()
}

func buildDatasetTags(def *models.DatasetDefinition, kind models.DatasetKind, hash string) []string {
	tags := []string{"supersonic", "chat"}
	if def.DataSetID != nil {
		tags = append(tags, fmt.Sprintf("datasetId:%d", *def.DataSetID))
	}
	tags = append(tags, strings.ToLower(string(kind)))
	if len(hash) >= 8 {
		tags = append(tags, "sqlHash:"+hash[:8])
	}
	return tags
}

// buildDatasetColumns lists dimensions then metrics, keeping the first
// column of each case-insensitive name.
func buildDatasetColumns(def *models.DatasetDefinition) []models.Column {
	var columns []models.Column
	seen := make(map[string]bool)
	add := func(col models.Column) {
		key := strings.ToLower(col.Name)
		if seen[key] {
			return
		}
		seen[key] = true
		columns = append(columns, col)
	}

	for _, el := range def.Dimensions {
		name := elementColumnName(el)
		if name == "" {
			continue
		}
		col := models.Column{
			Name:       name,
			Groupable:  boolPtr(true),
			Filterable: boolPtr(true),
		}
		if el.IsPartitionTime {
			col.IsTimeColumn = boolPtr(true)
			col.Type = columnTypeDate
		} else {
			col.IsTimeColumn = boolPtr(false)
			col.Type = columnTypeString
		}
		add(col)
	}
	for _, el := range def.Metrics {
		name := elementColumnName(el)
		if name == "" {
			continue
		}
		add(models.Column{
			Name:       name,
			Type:       columnTypeNumber,
			Groupable:  boolPtr(false),
			Filterable: boolPtr(false),
		})
	}
	return columns
}

// buildDatasetMetrics keeps the first metric of each case-insensitive name.
func buildDatasetMetrics(def *models.DatasetDefinition) []models.Metric {
	var metrics []models.Metric
	seen := make(map[string]bool)
	for _, el := range def.Metrics {
		name := elementColumnName(el)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		metrics = append(metrics, models.Metric{
			Name:        name,
			Expression:  name,
			MetricType:  metricTypeSQL,
			VerboseName: strings.TrimSpace(el.Name),
			Description: el.Description,
		})
	}
	return metrics
}

func resolveTimeColumn(columns []models.Column) *string {
	for _, col := range columns {
		if col.IsTimeColumn != nil && *col.IsTimeColumn && col.Name != "" {
			name := col.Name
			return &name
		}
	}
	return nil
}

// elementColumnName prefers the element's column name over its business name.
func elementColumnName(el models.SchemaElement) string {
	if name := strings.TrimSpace(el.Name); name != "" {
		return name
	}
	return strings.TrimSpace(el.BizName)
}

// elementDisplayName prefers the business name for human-facing text.
func elementDisplayName(el models.SchemaElement) string {
	if name := strings.TrimSpace(el.BizName); name != "" {
		return name
	}
	return strings.TrimSpace(el.Name)
}

func joinElementNames(elements []models.SchemaElement, limit int) string {
	var names []string
	seen := make(map[string]bool)
	for _, el := range elements {
		name := elementDisplayName(el)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
		if len(names) == limit {
			break
		}
	}
	return strings.Join(names, ", ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func boolPtr(b bool) *bool {
	return &b
}
