package sources

import (
	"errors"
	"time"

	"github.com/stacklok/feedsync/internal/config"
)

var (
	// ErrUnknownSource is returned when a source id is not in the catalog
	ErrUnknownSource = errors.New("unknown source")

	// ErrSourceDisabled is returned when a disabled source is requested explicitly
	ErrSourceDisabled = errors.New("source is disabled")
)

// Source is a configured content source
type Source struct {
	ID         string
	Limit      int
	Enabled    bool
	Strategies []StrategySpec
}

// StrategySpec describes one discovery strategy of a source, with its timeout resolved
type StrategySpec struct {
	Type    string
	URL     string
	Timeout time.Duration
	API     *config.APIStrategyConfig
	Page    *config.PageStrategyConfig
}

// Catalog gives read access to the configured sources
type Catalog interface {
	// Get returns the source with the given id, or ErrUnknownSource
	Get(id string) (*Source, error)

	// List returns every source in configuration order
	List() []*Source

	// Enabled returns the enabled sources in configuration order
	Enabled() []*Source
}
