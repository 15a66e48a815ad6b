// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package circuitbreaker guards calls to an unreliable dependency with a
three-state breaker.

# State machine

	CLOSED --(Threshold consecutive failures)--> OPEN
	OPEN --(ResetTimeout elapsed, next call)--> HALF_OPEN
	HALF_OPEN --(trial succeeds)--> CLOSED
	HALF_OPEN --(trial fails)--> OPEN

While open, calls fail immediately with a CIRCUIT_OPEN error and the protected
operation is not invoked. In half-open state exactly one trial call is in
flight; concurrent callers are rejected as if the breaker were open.

Which errors count as failures is decided by Config.IsFailure. Errors that do
not count are returned to the caller unchanged and reset the consecutive
failure counter like a success.

Calls that exceed Config.Timeout or the caller's deadline return a TIMEOUT
error and count as failures. The breaker never retries.
*/
package circuitbreaker
