// Package mux implements the Subscription Multiplexer.
//
// Subscribers are kept in an explicit table keyed by a uuid handle rather
// than captured in closures. A topic's ref count is its number of
// registrations: the 0→1 transition sends one upstream subscribe, the →0
// transition one upstream unsubscribe. After a reconnect, Resubscribe
// restores every live topic in as few commands as the batch size allows.
package mux
