// Package market tracks the instruments each venue lists.
//
// The registry loads the full listing on start, then reconciles on an
// interval and reports instruments that appear, disappear or change status.
// The feed uses it to flag configured topics the venue does not trade.
package market
