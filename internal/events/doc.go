// Package events fans task and model updates out to any number of live
// subscribers (the SSE endpoint, tests, CLI followers).
//
// Each subscriber owns an unbounded queue so a slow reader never blocks the
// publisher. Subscriptions report a heartbeat when nothing arrives within
// the caller's timeout.
package events
