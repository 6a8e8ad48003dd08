// Package pipeline connects a scan source to the station cache.
//
// A Runner owns one goroutine with two tickers. On the scan tick it asks the
// Source for notification lines, parses each into a sighting and folds it
// into the cache; sightings without advertisement data are dropped. On the
// sweep tick it ages the cache and reports to the sink. Scans and sweeps never
// overlap, so the cache sees one caller at a time.
//
// Sources are the radio (atclient.Scanner) and Replay, which plays back a
// capture file scan by scan.
package pipeline
