// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package tlsutil builds the hardened TLS settings shared by the API listener,
// the Redis store connection and the health probe client: TLS 1.2 or newer
// with AEAD-only cipher suites.
package tlsutil
