// Package discovery lists the most recent items of a source.
//
// A source carries an ordered list of strategies, cheapest and least
// reliable first. The Engine calls them in turn, each bounded by its own
// timeout, and stops at the first one that returns at least
// AcceptanceThreshold(limit) items. A short answer or a transient failure
// moves on to the next strategy; a content error (the source is gone or
// private) stops discovery for the source. When every strategy has been
// tried the best answer seen is returned and marked Degraded.
//
// Strategies:
//   - feed: RSS, Atom or JSON Feed documents parsed with gofeed
//   - api:  JSON listings, fields picked with gjson paths
//   - page: HTML listing pages scraped with goquery selectors
package discovery
