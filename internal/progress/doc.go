// Package progress is the notification side channel of the crawler. Workers
// emit "show found" and tick events into a non-blocking Hub that batches them
// on a background goroutine and fans them out to pluggable sinks. Delivery is
// best effort: events are dropped under backpressure rather than slowing the
// crawl.
package progress
