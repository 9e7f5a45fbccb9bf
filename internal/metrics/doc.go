// Package metrics collects prometheus metrics for the transform core:
// routing outcomes, pipeline stage timings, byte counters, and invocation
// results. Observation methods are nil-safe so Lambda entrypoints can opt
// out entirely.
package metrics
