// Package orderbook implements the Order Book Aggregator.
//
// Each side of a book is a treemap keyed by decimal price: bids sort
// descending, asks ascending, so iteration is always best price first. A
// level with size zero removes the price. After every mutation the side is
// trimmed to MaxDepth (deepest levels go first) and the cumulative size
// arrays are rebuilt as prefix sums over the sorted levels.
package orderbook
