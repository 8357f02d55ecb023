// Package batcher implements the Message Batcher: per-topic coalescing
// windows that bound delivery rate under update storms.
//
// A topic's first pending item arms a window timer. When it fires, or as
// soon as the pending count exceeds the burst threshold, the topic's items
// are drained and handed to the flush function in arrival order.
package batcher
