// Package database reads market snapshots from PostgreSQL.
//
// The snapshot table is written by an external recorder; this package only
// reads the most recent row per topic so a feed can hydrate topics it has not
// yet seen on the stream. Expected columns:
//
//	venue       text
//	instrument  text         -- BASE/QUOTE
//	payload     jsonb        -- same object a live data frame carries
//	exchange_ts bigint       -- ms since epoch, nullable
//	received_at timestamptz
package database
