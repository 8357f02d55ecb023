package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/marketsync/internal/feed"
	"github.com/rickgao/marketsync/internal/metrics"
	"github.com/rickgao/marketsync/internal/model"
)

// feedReader is the part of *feed.Client the HTTP handlers read.
type feedReader interface {
	Health() feed.Health
	Topics() []model.Topic
	Snapshot(topic model.Topic) (model.Snapshot, bool)
}

type healthResponse struct {
	Status      string        `json:"status"`
	Connection  string        `json:"connection"`
	Breaker     string        `json:"breaker"`
	Topics      int           `json:"topics"`
	Subscribers int           `json:"subscribers"`
	StaleTopics []model.Topic `json:"stale_topics"`
	Reconnects  int64         `json:"reconnects"`
	LastFrame   *time.Time    `json:"last_frame,omitempty"`
}

type topicResponse struct {
	Topic      model.Topic     `json:"topic"`
	Class      model.Class     `json:"class,omitempty"`
	Stale      bool            `json:"stale"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Bid        string          `json:"bid,omitempty"`
	Ask        string          `json:"ask,omitempty"`
}

// newHandler serves /health, /debug/topics and the metrics path.
func newHandler(client feedReader, reg *prometheus.Registry, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := client.Health()

		resp := healthResponse{
			Status:      "healthy",
			Connection:  h.Connection.String(),
			Breaker:     h.Breaker.String(),
			Topics:      h.Topics,
			Subscribers: h.Subscribers,
			StaleTopics: h.StaleTopics,
			Reconnects:  h.Reconnects,
		}
		if resp.StaleTopics == nil {
			resp.StaleTopics = []model.Topic{}
		}
		if !h.LastFrame.IsZero() {
			resp.LastFrame = &h.LastFrame
		}

		status := http.StatusOK
		switch {
		case !h.Healthy():
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		case len(h.StaleTopics) > 0:
			resp.Status = "degraded"
		}

		writeJSON(w, status, resp)
	})

	mux.HandleFunc("/debug/topics", func(w http.ResponseWriter, r *http.Request) {
		topics := client.Topics()
		out := make([]topicResponse, 0, len(topics))
		for _, t := range topics {
			tr := topicResponse{Topic: t}
			if snap, ok := client.Snapshot(t); ok {
				tr.Class = snap.Class
				tr.Stale = snap.Stale
				tr.ReceivedAt = &snap.ReceivedAt
				tr.Payload = snap.Payload
				if snap.Book != nil {
					if bid, ok := snap.Book.BestBid(); ok {
						tr.Bid = bid.Price.String()
					}
					if ask, ok := snap.Book.BestAsk(); ok {
						tr.Ask = ask.Price.String()
					}
				}
			}
			out = append(out, tr)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":  len(out),
			"topics": out,
		})
	})

	mux.Handle(metricsPath, metrics.Handler(reg))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
