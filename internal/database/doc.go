// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database opens GORM connections for the SQL store and manages their
connection pool.

Open selects a dialector from config.DatabaseConfig (PostgreSQL, MySQL or
pure-Go SQLite) and returns a PoolManager. The PoolManager applies pool
limits, pings the database in the background, and runs transactions with
WithTransaction. SQLite always gets a single long-lived connection.
*/
package database
