// Package integration runs feedsync end to end against local content servers:
// scheduled bulk runs, on-demand requests, strategy fallback and queueing behind a busy lock.
package integration
