package sources

import (
	"fmt"

	"github.com/stacklok/feedsync/internal/config"
)

type staticCatalog struct {
	ordered []*Source
	byID    map[string]*Source
}

var _ Catalog = (*staticCatalog)(nil)

// NewCatalog builds the catalog from a loaded configuration
func NewCatalog(cfg *config.Config) (Catalog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	c := &staticCatalog{byID: make(map[string]*Source, len(cfg.Sources))}
	for i := range cfg.Sources {
		sc := &cfg.Sources[i]
		if _, exists := c.byID[sc.ID]; exists {
			return nil, fmt.Errorf("duplicate source id '%s'", sc.ID)
		}

		src := &Source{
			ID:         sc.ID,
			Limit:      cfg.GetSourceLimit(sc),
			Enabled:    sc.IsEnabled(),
			Strategies: make([]StrategySpec, 0, len(sc.Strategies)),
		}
		for j := range sc.Strategies {
			st := &sc.Strategies[j]
			src.Strategies = append(src.Strategies, StrategySpec{
				Type:    st.Type,
				URL:     st.URL,
				Timeout: cfg.GetStrategyTimeout(st),
				API:     st.API,
				Page:    st.Page,
			})
		}

		c.ordered = append(c.ordered, src)
		c.byID[src.ID] = src
	}

	return c, nil
}

// NewStaticCatalog builds a catalog from already resolved sources
func NewStaticCatalog(srcs ...*Source) Catalog {
	c := &staticCatalog{byID: make(map[string]*Source, len(srcs))}
	for _, src := range srcs {
		c.ordered = append(c.ordered, src)
		c.byID[src.ID] = src
	}
	return c
}

func (c *staticCatalog) Get(id string) (*Source, error) {
	src, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return src, nil
}

func (c *staticCatalog) List() []*Source {
	out := make([]*Source, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *staticCatalog) Enabled() []*Source {
	out := make([]*Source, 0, len(c.ordered))
	for _, src := range c.ordered {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}
