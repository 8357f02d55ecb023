// Package cache implements the Snapshot Cache: the last known value per
// topic, used to answer late subscribers immediately and to judge staleness.
//
// A snapshot is stale when it was marked stale (after a reconnect) or is
// older than the TTL of its class. Stale values are still served; only
// ReadFresh refuses them.
package cache
