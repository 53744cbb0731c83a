package superset

import (
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// DatabasePayload is the create/update body for a database connection.
type DatabasePayload struct {
	DatabaseName  string `json:"database_name"`
	SQLAlchemyURI string `json:"sqlalchemy_uri"`
}

// DatasetCreatePayload is the create body for a dataset. SQL is empty for physical datasets.
type DatasetCreatePayload struct {
	Database       int64  `json:"database"`
	Schema         string `json:"schema,omitempty"`
	TableName      string `json:"table_name"`
	SQL            string `json:"sql,omitempty"`
	TemplateParams string `json:"template_params"`
}

// DatasetUpdatePayload is the full update body for a dataset including its
// columns and metrics. Sub-resources carrying an id are updated in place.
type DatasetUpdatePayload struct {
	DatabaseID     int64           `json:"database_id"`
	Schema         string          `json:"schema,omitempty"`
	TableName      string          `json:"table_name"`
	SQL            string          `json:"sql,omitempty"`
	TemplateParams string          `json:"template_params"`
	MainDttmCol    string          `json:"main_dttm_col,omitempty"`
	Columns        []ColumnPayload `json:"columns"`
	Metrics        []MetricPayload `json:"metrics"`
}

// ColumnPayload is one column in a dataset update.
type ColumnPayload struct {
	ID               *int64 `json:"id,omitempty"`
	ColumnName       string `json:"column_name"`
	Expression       string `json:"expression,omitempty"`
	Type             string `json:"type,omitempty"`
	IsDttm           *bool  `json:"is_dttm,omitempty"`
	Filterable       *bool  `json:"filterable,omitempty"`
	Groupby          *bool  `json:"groupby,omitempty"`
	IsActive         *bool  `json:"is_active,omitempty"`
	VerboseName      string `json:"verbose_name,omitempty"`
	Description      string `json:"description,omitempty"`
	PythonDateFormat string `json:"python_date_format,omitempty"`
}

// MetricPayload is one metric in a dataset update.
type MetricPayload struct {
	ID          *int64 `json:"id,omitempty"`
	MetricName  string `json:"metric_name"`
	Expression  string `json:"expression,omitempty"`
	MetricType  string `json:"metric_type,omitempty"`
	VerboseName string `json:"verbose_name,omitempty"`
	Description string `json:"description,omitempty"`
}

const emptyTemplateParams = "{}"

func newDatasetCreatePayload(ds *models.RemoteDataset) DatasetCreatePayload {
	return DatasetCreatePayload{
		Database:       ds.DatabaseRemoteID,
		Schema:         ds.Schema,
		TableName:      ds.TableName,
		SQL:            ds.SQL,
		TemplateParams: emptyTemplateParams,
	}
}

func newDatasetUpdatePayload(ds *models.RemoteDataset) DatasetUpdatePayload {
	p := DatasetUpdatePayload{
		DatabaseID:     ds.DatabaseRemoteID,
		Schema:         ds.Schema,
		TableName:      ds.TableName,
		SQL:            ds.SQL,
		TemplateParams: emptyTemplateParams,
		MainDttmCol:    ds.TimeColumn,
		Columns:        make([]ColumnPayload, 0, len(ds.Columns)),
		Metrics:        make([]MetricPayload, 0, len(ds.Metrics)),
	}
	for _, c := range ds.Columns {
		p.Columns = append(p.Columns, ColumnPayload{
			ID:               c.RemoteID,
			ColumnName:       c.Name,
			Expression:       c.Expression,
			Type:             c.Type,
			IsDttm:           c.IsTimeColumn,
			Filterable:       c.Filterable,
			Groupby:          c.Groupable,
			IsActive:         c.IsActive,
			VerboseName:      c.VerboseName,
			Description:      c.Description,
			PythonDateFormat: c.PythonDateFormat,
		})
	}
	for _, m := range ds.Metrics {
		p.Metrics = append(p.Metrics, MetricPayload{
			ID:          m.RemoteID,
			MetricName:  m.Name,
			Expression:  m.Expression,
			MetricType:  m.MetricType,
			VerboseName: m.VerboseName,
			Description: m.Description,
		})
	}
	return p
}

func parseRemoteDatabase(o object) *models.RemoteDatabase {
	id, _ := o.num("id")
	uri := o.str("sqlalchemy_uri")
	if uri == "" {
		uri = o.str("sqlalchemy_uri_safe")
	}
	return &models.RemoteDatabase{
		RemoteID:      id,
		Name:          o.str("database_name"),
		ConnectionURI: uri,
		Schema:        o.str("force_ctas_schema"),
	}
}

func parseRemoteDataset(o object) *models.RemoteDataset {
	id, _ := o.num("id")
	ds := &models.RemoteDataset{
		RemoteID:   id,
		Schema:     o.str("schema"),
		TableName:  o.str("table_name"),
		SQL:        o.str("sql"),
		TimeColumn: o.str("main_dttm_col"),
	}

	if db := o.child("database"); db != nil {
		ds.DatabaseRemoteID, _ = db.num("id")
	} else if dbID, ok := o.num("database_id"); ok {
		ds.DatabaseRemoteID = dbID
	} else if dbID, ok := o.num("database"); ok {
		ds.DatabaseRemoteID = dbID
	}

	for _, c := range o.children("columns") {
		ds.Columns = append(ds.Columns, models.Column{
			RemoteID:         c.numPtr("id"),
			Name:             c.str("column_name"),
			Expression:       c.str("expression"),
			Type:             c.str("type"),
			IsTimeColumn:     c.flag("is_dttm"),
			Filterable:       c.flag("filterable"),
			Groupable:        c.flag("groupby"),
			IsActive:         c.flag("is_active"),
			VerboseName:      c.str("verbose_name"),
			Description:      c.str("description"),
			PythonDateFormat: c.str("python_date_format"),
		})
	}
	for _, m := range o.children("metrics") {
		ds.Metrics = append(ds.Metrics, models.Metric{
			RemoteID:    m.numPtr("id"),
			Name:        m.str("metric_name"),
			Expression:  m.str("expression"),
			MetricType:  m.str("metric_type"),
			VerboseName: m.str("verbose_name"),
			Description: m.str("description"),
		})
	}
	return ds
}
