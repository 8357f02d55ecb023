package api

import "github.com/rickgao/marketsync/internal/model"

// StatusResponse from GET /status
type StatusResponse struct {
	StreamActive bool     `json:"stream_active"`
	Venues       []string `json:"venues"`
	ServerTime   int64    `json:"server_time,omitempty"` // ms since epoch
}

// InstrumentsResponse from GET /instruments
type InstrumentsResponse struct {
	Instruments []Instrument `json:"instruments"`
	Cursor      string       `json:"cursor"`
}

// Instrument is one tradable pair on a venue.
type Instrument struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"` // BASE/QUOTE
	Status string `json:"status"`
}

// Listing is an Instrument whose venue and symbol parsed as a topic.
type Listing struct {
	Topic  model.Topic
	Status string
}
