// Package sources provides the read-only catalog of content sources.
//
// A Source is the unit every run works on: an identifier, the number of
// most recent items to keep, an enabled flag, and the ordered discovery
// strategies used to list its items. The catalog is built once from the
// configuration file and is never mutated by discovery or fetching.
package sources
