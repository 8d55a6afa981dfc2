// Package sinks implements progress consumers that write structured logs,
// update Prometheus collectors and tally page counts on the job store.
package sinks
