// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry initializes the OpenTelemetry SDK for depflow. Spans
// emitted by the graph engine and the graph size gauges registered by
// RegisterGraphGauges are exported over OTLP/gRPC; when telemetry is
// disabled the global providers stay no-op and nothing is dialed.
package telemetry
