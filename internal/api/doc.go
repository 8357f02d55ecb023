// Package api is the REST client for the exchange's snapshot endpoints.
//
// Endpoints:
//   - GET /status                              stream and venue availability
//   - GET /snapshots/{venue}/{base}/{quote}    latest data frame for a topic
//   - GET /instruments?venue=V&cursor=C        paginated instrument listing
//
// Snapshot bodies use the same JSON shape as streamed data frames and are
// decoded with the wire package.
package api
