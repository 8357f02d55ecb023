// Package connection implements the Transport Manager component.
//
// The Transport Manager:
//   - Owns one persistent WebSocket connection to the streaming endpoint
//   - Reconnects with capped exponential backoff and optional jitter
//   - Gives up with a fatal TransportError after a configured attempt cap
//   - Queues outbound commands (bounded FIFO) while disconnected and flushes
//     them in order on reconnect
//   - Sends application heartbeats and forces a reconnect when no liveness
//     arrives within the timeout (half-open detection)
//   - Decodes frames with package wire and hands them to a Handler
package connection
