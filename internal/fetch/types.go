// Package fetch retrieves discovered items that have not been retrieved before.
//
// Each item is checked against the retrieved ledger first, downloaded to a
// temporary file, synced and renamed into place, and only then recorded.
// A crash between the rename and the record causes a re-download on the next
// run, never a false "retrieved" entry.
package fetch

import (
	"context"
	"time"

	"github.com/stacklok/feedsync/internal/discovery"
	"github.com/stacklok/feedsync/internal/sources"
)

//go:generate mockgen -destination=mocks/mock_fetch.go -package=mocks -source=types.go Ledger,Downloader,Executor

// Ledger is the per-source set of retrieved item ids
type Ledger interface {
	IsRetrieved(ctx context.Context, sourceID, itemID string) (bool, error)
	Record(ctx context.Context, sourceID, itemID string, at time.Time) error
}

// Downloader stores one item durably and returns where it was written
type Downloader interface {
	Download(ctx context.Context, sourceID string, item discovery.ItemDescriptor) (string, error)
}

// Executor fetches the items of one discovery result
type Executor interface {
	Fetch(ctx context.Context, src *sources.Source, items []discovery.ItemDescriptor) (*Summary, error)
}

// Summary counts what happened to each item handed to the executor
type Summary struct {
	Found   int `json:"found"`
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Errors maps item id to the failure message for failed items
	Errors map[string]string `json:"errors,omitempty"`
}
