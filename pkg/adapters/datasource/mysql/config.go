// Package mysql registers the MySQL connection URI builder.
package mysql

import (
	"fmt"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// Driver is the remote catalog's driver identifier for MySQL.
const Driver = "mysql+pymysql"

// FromLocalDatabase parses a jdbc:mysql:// url into URI parts.
func FromLocalDatabase(db *models.LocalDatabase) (*datasource.URIParts, error) {
	u, err := datasource.ParseJDBC(db.URL)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
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
			Type:        models.EngineTypeMySQL,
			DisplayName: "MySQL",
			Driver:      Driver,
			Aliases:     []string{"mariadb"},
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
