// Package riptide implements in-process publish-subscribe streams
// with explicit, consumer-driven flow control.
//
// A [Publisher] buffers submitted items and fans them out to any number
// of subscribers, each of which paces its own delivery by granting
// demand through its [Subscription]. A [Processor] chains stages
// together: it consumes one stream and publishes a derived one,
// propagating backpressure upstream.
//
// Delivery to one subscriber is strictly serialized and in submission
// order; distinct subscribers are fully independent of each other.
package riptide
