package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/marketsync/internal/breaker"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/feed"
)

const namespace = "marketsync"

// Source is the read side of a feed client.
type Source interface {
	Stats() feed.Stats
	Health() feed.Health
}

type snapshot struct {
	stats  feed.Stats
	health feed.Health
}

type metric struct {
	desc  *prometheus.Desc
	typ   prometheus.ValueType
	value func(snapshot) float64
}

// Collector turns a feed snapshot into metrics on every scrape.
type Collector struct {
	src     Source
	metrics []metric

	connState    *prometheus.Desc
	breakerState *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	counter := func(name, help string, v func(snapshot) float64) metric {
		return metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			typ:   prometheus.CounterValue,
			value: v,
		}
	}
	gauge := func(name, help string, v func(snapshot) float64) metric {
		m := counter(name, help, v)
		m.typ = prometheus.GaugeValue
		return m
	}

	return &Collector{
		src: src,
		connState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "state"),
			"Streaming connection state, 1 for the current state.",
			[]string{"state"}, nil,
		),
		breakerState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "breaker", "state"),
			"Circuit breaker state, 1 for the current state.",
			[]string{"state"}, nil,
		),
		metrics: []metric{
			gauge("up", "1 when connected with a closed breaker.", func(s snapshot) float64 {
				return boolFloat(s.health.Healthy())
			}),
			gauge("fatal", "1 once reconnect attempts are exhausted.", func(s snapshot) float64 {
				return boolFloat(s.health.Fatal)
			}),
			gauge("last_frame_timestamp_seconds", "Arrival time of the last routed data frame.", func(s snapshot) float64 {
				if s.health.LastFrame.IsZero() {
					return 0
				}
				return float64(s.health.LastFrame.UnixNano()) / 1e9
			}),

			// Transport
			counter("reconnects_total", "Successful reconnects.", func(s snapshot) float64 {
				return float64(s.stats.Transport.Reconnects)
			}),
			counter("frames_received_total", "Frames read from the stream.", func(s snapshot) float64 {
				return float64(s.stats.Transport.FramesReceived)
			}),
			counter("frames_invalid_total", "Frames dropped by validation.", func(s snapshot) float64 {
				return float64(s.stats.Transport.FramesDropped)
			}),
			counter("commands_sent_total", "Control commands written to the stream.", func(s snapshot) float64 {
				return float64(s.stats.Transport.Sent)
			}),
			gauge("commands_queued", "Commands waiting for a connection.", func(s snapshot) float64 {
				return float64(s.stats.Transport.Queued)
			}),

			// Breaker
			counter("breaker_rejected_total", "Commands refused by the open breaker.", func(s snapshot) float64 {
				return float64(s.stats.Breaker.Rejected)
			}),
			counter("breaker_trips_total", "Transitions into the open state.", func(s snapshot) float64 {
				return float64(s.stats.Breaker.Trips)
			}),

			// Subscriptions
			gauge("topics", "Topics with at least one subscriber.", func(s snapshot) float64 {
				return float64(s.health.Topics)
			}),
			gauge("subscribers", "Local subscriber registrations.", func(s snapshot) float64 {
				return float64(s.health.Subscribers)
			}),
			gauge("stale_topics", "Watched topics awaiting fresh data.", func(s snapshot) float64 {
				return float64(len(s.health.StaleTopics))
			}),
			counter("upstream_subscribes_total", "Topics subscribed upstream.", func(s snapshot) float64 {
				return float64(s.stats.Mux.UpstreamSubscribes)
			}),
			counter("upstream_unsubscribes_total", "Topics unsubscribed upstream.", func(s snapshot) float64 {
				return float64(s.stats.Mux.UpstreamUnsubscribes)
			}),

			// Batcher
			counter("batch_enqueued_total", "Updates accepted by the batcher.", func(s snapshot) float64 {
				return float64(s.stats.Batcher.Enqueued)
			}),
			counter("batch_coalesced_total", "Updates replaced by a newer value before flush.", func(s snapshot) float64 {
				return float64(s.stats.Batcher.Coalesced)
			}),
			counter("batch_flushes_total", "Batch flushes.", func(s snapshot) float64 {
				return float64(s.stats.Batcher.Flushes)
			}),
			counter("batch_burst_flushes_total", "Flushes triggered by the burst threshold.", func(s snapshot) float64 {
				return float64(s.stats.Batcher.BurstFlushes)
			}),

			// Cache
			gauge("cache_entries", "Cached snapshots.", func(s snapshot) float64 {
				return float64(s.stats.Cache.Entries)
			}),
			counter("cache_evicted_total", "Cache entries removed by sweeps.", func(s snapshot) float64 {
				return float64(s.stats.Cache.Evicted)
			}),

			// Hydration
			counter("hydrations_total", "Snapshots applied from the hydration source.", func(s snapshot) float64 {
				return float64(s.stats.Hydrations)
			}),
			counter("refresh_cycles_total", "Stale topic refresh cycles.", func(s snapshot) float64 {
				return float64(s.stats.Refresh.Cycles)
			}),
			counter("refresh_errors_total", "Failed snapshot fetches during refresh.", func(s snapshot) float64 {
				return float64(s.stats.Refresh.Errors)
			}),

			// Delivery
			counter("deliveries_total", "Subscriber callback invocations.", func(s snapshot) float64 {
				return float64(s.stats.Deliveries)
			}),
			counter("callback_panics_total", "Subscriber callbacks that panicked.", func(s snapshot) float64 {
				return float64(s.stats.CallbackPanics)
			}),
			counter("unrouted_frames_total", "Data frames for unwatched topics.", func(s snapshot) float64 {
				return float64(s.stats.UnroutedFrames)
			}),
			counter("invalid_payloads_total", "Data frames whose payload failed to parse or apply.", func(s snapshot) float64 {
				return float64(s.stats.InvalidPayloads)
			}),
			counter("upstream_errors_total", "Error frames from the exchange.", func(s snapshot) float64 {
				return float64(s.stats.UpstreamErrors)
			}),
			counter("events_dropped_total", "Lifecycle events dropped on a full channel.", func(s snapshot) float64 {
				return float64(s.stats.EventsDropped)
			}),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connState
	ch <- c.breakerState
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := snapshot{stats: c.src.Stats(), health: c.src.Health()}

	for _, st := range []connection.State{
		connection.StateDisconnected,
		connection.StateConnecting,
		connection.StateConnected,
		connection.StateClosing,
	} {
		ch <- prometheus.MustNewConstMetric(c.connState, prometheus.GaugeValue,
			boolFloat(s.health.Connection == st), st.String())
	}
	for _, st := range []breaker.State{breaker.StateClosed, breaker.StateOpen, breaker.StateHalfOpen} {
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue,
			boolFloat(s.health.Breaker == st), st.String())
	}

	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.value(s))
	}
}

// NewRegistry returns a registry holding the feed collector plus the
// standard Go runtime and process collectors. instance is attached to every
// feed metric as a constant label.
func NewRegistry(src Source, instance string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	var feedReg prometheus.Registerer = reg
	if instance != "" {
		feedReg = prometheus.WrapRegistererWith(prometheus.Labels{"instance_id": instance}, reg)
	}
	if err := feedReg.Register(NewCollector(src)); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return reg, nil
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
