// Package mssql registers the SQL Server connection URI builder.
package mssql

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// Driver is the remote catalog's driver identifier for SQL Server.
const Driver = "mssql+pymssql"

// Config contains the SQL Server connection parts needed for a remote URI.
type Config struct {
	Host     string
	Port     int
	Instance string
	Database string
	Username string
	Password string

	// Encrypt and TrustServerCertificate only matter for local connection tests.
	Encrypt                string
	TrustServerCertificate bool
}

// FromLocalDatabase parses the local database url with msdsn. Accepted forms:
//
//	jdbc:sqlserver://host:1433;databaseName=sales;encrypt=true
//	sqlserver://host:1433?database=sales
//	server=host,1433;database=sales
func FromLocalDatabase(db *models.LocalDatabase) (*Config, error) {
	raw := strings.TrimSpace(db.URL)
	if raw == "" {
		return nil, fmt.Errorf("url is required")
	}
	if strings.HasPrefix(raw, "jdbc:") {
		raw = jdbcToURL(raw)
	}

	dsn, err := msdsn.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid sqlserver connection string: %w", err)
	}
	if dsn.Host == "" {
		return nil, fmt.Errorf("sqlserver connection string has no host")
	}

	cfg := &Config{
		Host:     dsn.Host,
		Port:     int(dsn.Port),
		Instance: dsn.Instance,
		Database: dsn.Database,
		Username: dsn.User,
		Password: dsn.Password,
		Encrypt:  encryptionParam(dsn.Encryption),
	}
	if dsn.TLSConfig != nil {
		cfg.TrustServerCertificate = dsn.TLSConfig.InsecureSkipVerify
	}
	if db.Database != "" {
		cfg.Database = db.Database
	}
	if db.Username != "" {
		cfg.Username = db.Username
	}
	if db.Password != "" {
		cfg.Password = db.Password
	}
	return cfg, nil
}

func encryptionParam(e msdsn.Encryption) string {
	switch e {
	case msdsn.EncryptionRequired:
		return "true"
	case msdsn.EncryptionDisabled:
		return "disable"
	case msdsn.EncryptionStrict:
		return "strict"
	default:
		return "false"
	}
}

// jdbcToURL rewrites jdbc:sqlserver://host:port;key=value;... into the
// sqlserver:// url form msdsn understands.
func jdbcToURL(raw string) string {
	rest := strings.TrimPrefix(raw, "jdbc:")
	hostPart, props, _ := strings.Cut(rest, ";")

	instance := ""
	query := url.Values{}
	for _, prop := range strings.Split(props, ";") {
		key, value, ok := strings.Cut(prop, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "databasename", "database":
			query.Set("database", value)
		case "instancename":
			instance = value
		case "encrypt", "trustservercertificate":
			query.Set(strings.ToLower(key), value)
		}
	}

	if instance != "" {
		hostPart = hostPart + "/" + url.PathEscape(instance)
	}
	if len(query) == 0 {
		return hostPart
	}
	return hostPart + "?" + query.Encode()
}

// ConnectionURI renders the remote connection URI. Named instances are
// addressed as host\instance.
func (c *Config) ConnectionURI() string {
	host := c.Host
	if c.Instance != "" {
		host = host + `\` + c.Instance
	}
	return datasource.AssembleURI(datasource.URIParts{
		Driver:   Driver,
		User:     c.Username,
		Password: c.Password,
		Host:     host,
		Port:     c.Port,
		Database: c.Database,
	})
}

func init() {
	datasource.Register(datasource.EngineRegistration{
		Info: datasource.EngineInfo{
			Type:        models.EngineTypeSQLServer,
			DisplayName: "Microsoft SQL Server",
			Driver:      Driver,
			Aliases:     []string{"mssql"},
		},
		BuildURI: func(db *models.LocalDatabase) (string, error) {
			cfg, err := FromLocalDatabase(db)
			if err != nil {
				return "", err
			}
			return cfg.ConnectionURI(), nil
		},
		NewTester: newTester,
	})
}
