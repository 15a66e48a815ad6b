// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package server manages the lifecycle of depflow's HTTP listeners.

Manager wraps net/http.Server: Start listens and serves in the background,
Errors surfaces the first serve failure, and Shutdown drains in-flight
requests within the configured timeout. The binary runs one Manager for the
JSON API and one for the Prometheus endpoint.
*/
package server
