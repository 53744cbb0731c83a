package models

// RemoteDatabase is a database connection registered in the remote catalog.
type RemoteDatabase struct {
	RemoteID      int64  `json:"remote_id"`
	Name          string `json:"name"`
	ConnectionURI string `json:"connection_uri"`
	Schema        string `json:"schema,omitempty"`
}

// RemoteDataset is a dataset as held by the remote catalog.
// SQL is empty for physical datasets.
type RemoteDataset struct {
	RemoteID         int64    `json:"remote_id"`
	DatabaseRemoteID int64    `json:"database_remote_id"`
	Schema           string   `json:"schema,omitempty"`
	TableName        string   `json:"table_name"`
	SQL              string   `json:"sql,omitempty"`
	TimeColumn       string   `json:"time_column,omitempty"`
	Columns          []Column `json:"columns,omitempty"`
	Metrics          []Metric `json:"metrics,omitempty"`
}
