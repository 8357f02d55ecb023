// Package breaker implements the circuit breaker that guards outbound
// subscribe/unsubscribe commands.
//
// Closed: outcomes are kept in a rolling time window. After each call, once
// the window holds at least VolumeThreshold calls and the failure ratio is at
// or above ErrorThreshold, the breaker opens.
//
// Open: every call is rejected with *OpenError until ResetTimeout has passed.
// The timeout is a deadline check, not a timer.
//
// HalfOpen: exactly one trial call runs. Success closes the breaker with an
// empty window; failure reopens it and restarts the timeout.
package breaker
