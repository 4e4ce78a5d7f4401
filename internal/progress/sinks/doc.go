// Package sinks implements progress consumers: the crawl_runs repository and
// structured logging. Each sink satisfies progress.Sink.
package sinks
