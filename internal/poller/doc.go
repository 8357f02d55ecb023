// Package poller implements the stale-topic refresher.
//
// While the stream is down or a topic's cached value is marked stale, the
// poller periodically fetches the latest snapshot for each such topic from
// the hydration source (REST or Postgres) with bounded concurrency and hands
// it to the feed, which writes it to the cache with source "hydration".
package poller
