// Package metrics exposes a feed client's counters to Prometheus.
//
// Metrics are read from one Stats/Health snapshot per scrape rather than
// incremented on the hot path, so the feed has no dependency on Prometheus.
package metrics
