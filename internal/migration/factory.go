package migration

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/BaSui01/depflow/config"
	"go.uber.org/zap"
)

// NewMigratorFromConfig builds a migrator for the SQL store configured in cfg.
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Store.Database, logger)
}

// NewMigratorFromDatabaseConfig builds a migrator from a database section.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, dbCfg),
		Logger:       logger,
	})
}

// NewMigratorFromURL builds a migrator from a dialect name and a raw URL.
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}

// BuildDatabaseURL renders dbCfg in the form the dialect's sql driver expects.
func BuildDatabaseURL(dbType DatabaseType, dbCfg config.DatabaseConfig) string {
	switch dbType {
	case DatabaseTypePostgres:
		sslMode := dbCfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(dbCfg.User, dbCfg.Password),
			Host:     dbCfg.Host + ":" + strconv.Itoa(dbCfg.Port),
			Path:     "/" + dbCfg.Name,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return u.String()
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.Name)
	default:
		return ""
	}
}
