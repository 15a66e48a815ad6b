// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package migration owns the schema of the SQL store backend.

The depflow_kv table and its indexes are versioned as golang-migrate files
embedded per dialect (postgres, mysql). DefaultMigrator opens the database
through the driver each golang-migrate database package registers (lib/pq,
go-sql-driver/mysql) and exposes up, down, steps, goto, force, version,
status and info. CLI renders those operations for the depflow migrate
subcommand.

SQLite databases are not versioned here: the sql store creates its table
with gorm AutoMigrate, and ParseDatabaseType reports ErrSQLiteUnversioned.
*/
package migration
