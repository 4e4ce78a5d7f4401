// Package progress tracks the counters of a crawl run and reports its start and
// completion to pluggable sinks such as the crawl_runs table or the log. The
// Tracker is safe for concurrent use so the operator API can read snapshots
// while the pipeline updates them.
package progress
