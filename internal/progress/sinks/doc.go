// Package sinks implements the progress consumers wired by the server: a zap
// log sink, Prometheus collectors, a Pub/Sub style publisher, and shoutrrr
// notifications. Each satisfies progress.Sink.
package sinks
