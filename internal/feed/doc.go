// Package feed wires the streaming pipeline into one explicit client.
//
// Data flow:
//
//	Transport ─► decode ─► route by topic (mux) ─► cache (scalars)
//	                                            └► batcher ─► order book ─► subscribers
//
// Commands flow the other way: a subscriber joining or leaving changes the
// topic's ref count in the mux, which issues at most one upstream command
// through the circuit breaker and the transport's send path.
//
// A Client owns all of its state; several can run side by side. Shutdown
// flushes pending batches, stops timers and closes the connection.
package feed
