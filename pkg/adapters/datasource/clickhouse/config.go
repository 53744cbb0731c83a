// Package clickhouse registers the ClickHouse connection URI builder.
package clickhouse

import (
	"fmt"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// Driver is the remote catalog's driver identifier for ClickHouse.
const Driver = "clickhouse+native"

// FromLocalDatabase parses a jdbc:clickhouse:// url into URI parts.
func FromLocalDatabase(db *models.LocalDatabase) (*datasource.URIParts, error) {
	u, err := datasource.ParseJDBC(db.URL)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}

	database := u.Database
	if db.Database != "" {
		database = db.Database
	}

	return &datasource.URIParts{
		Driver:   Driver,
		User:     db.Username,
		Password: db.Password,
		Host:     u.Host,
		Port:     u.Port,
		Database: database,
		Query:    u.RawQuery,
	}, nil
}

func init() {
	datasource.Register(datasource.EngineRegistration{
		Info: datasource.EngineInfo{
			Type:        models.EngineTypeClickHouse,
			DisplayName: "ClickHouse",
			Driver:      Driver,
		},
		BuildURI: func(db *models.LocalDatabase) (string, error) {
			parts, err := FromLocalDatabase(db)
			if err != nil {
				return "", err
			}
			return datasource.AssembleURI(*parts), nil
		},
	})
}
