// Package wire implements the JSON frame protocol spoken over the streaming
// connection.
//
// Inbound frames decode into a closed set of variants (DataFrame,
// HeartbeatFrame, ErrorFrame, AckFrame). Callers match them with a type
// switch. Malformed input yields a *ValidationError and is never fatal to the
// connection.
//
// Outbound frames are control commands ({"type":"subscribe","topics":[...]})
// and heartbeats.
package wire
