// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package store defines the key/value contract the dependency graph persists
through, plus helpers shared by its backends.

Backends live in sub-packages:

  - memory: in-process map, the default for tests and single-process use.
  - badgerstore: embedded BadgerDB.
  - redisstore: Redis, with MULTI/EXEC batches.
  - sqlstore: a single table through GORM (PostgreSQL, MySQL, SQLite).

Every backend passes the storetest conformance suite.
*/
package store
