// Package sqldb implements the Falcon backend on top of a SQL engine.
//
// Every view becomes one grouped count query. Continuous dimensions are
// keyed by floor((col - start) / step), categorical ones by their value, and
// the active dimension by a CASE expression that yields -1 outside its pixel
// range:
//
//	SELECT CASE WHEN "delay" >= (-1.6) AND "delay" <= 160.0
//	            THEN floor(("delay" - (-1.6)) / 1.6) ELSE -1 END AS key_active_0,
//	       floor(("distance" - 0.0) / 100.0) AS key_0,
//	       count(*) AS cnt, count(*) AS fcnt
//	FROM "flights"
//	WHERE ("distance" >= 0.0 AND "distance" <= 2000.0)
//	GROUP BY key_active_0, key_0
//
// The backend reassembles the counts into cubes and prefix-sums them
// locally. Queries run through an Executor: NewSQLExecutor for any
// database/sql driver, NewHTTPExecutor for a query service answering with
// Arrow IPC streams.
package sqldb
