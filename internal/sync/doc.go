// Package sync runs the discovery and fetch pipeline for a single source.
//
// The Manager is deliberately unaware of scheduling: it never touches the run
// lock or the wait queue. The coordinator subpackage decides when a pipeline
// may run and serialises bulk and on-demand work through the state store.
//
// Failures come back as *Error with a Kind:
//
//   - KindTransient: network trouble; the next run will try again
//   - KindContent: the source is gone, private or permanently invalid
//   - KindSystem: the state store failed; duplicates could follow if ignored
package sync
