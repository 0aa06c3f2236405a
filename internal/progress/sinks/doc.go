// Package sinks implements concrete progress consumers: the append-only
// progress file, structured zap logging and a Prometheus counter. Each sink
// satisfies the progress.Sink interface.
package sinks
