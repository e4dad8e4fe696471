// Package agent implements the reasoning loop at the heart of the runtime:
// an explicit state machine that loads the thread, fits it to the context
// budget, then alternates model calls and concurrent tool dispatch until the
// model answers without requesting tools or the iteration bound is hit.
//
// The loop owns the failure-handling policy: model calls are retried with
// exponential backoff and surface a ReasoningError on exhaustion; tool
// failures are never retried here; they become error observations in the
// transcript so the model can decide whether to retry, switch tools or
// answer without them.
package agent
