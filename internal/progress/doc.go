// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces used to report crawl progress while a crawl runs. The
// hub batches events on a background goroutine and fans them out to sinks
// such as Prometheus collectors, structured logs or the job store.
package progress
