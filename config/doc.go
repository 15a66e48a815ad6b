// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config loads depflow configuration from defaults, a YAML file and
// DEPFLOW_* environment variables, in that order of precedence.
//
// Configuration is read once at startup; changing it requires a restart.
package config
