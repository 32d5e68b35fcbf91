package discovery

import (
	"fmt"

	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/httpclient"
	"github.com/stacklok/feedsync/internal/sources"
)

// defaultStrategyFactory builds HTTP-backed strategies from a source's specs
type defaultStrategyFactory struct {
	client httpclient.Client
}

var _ StrategyFactory = (*defaultStrategyFactory)(nil)

// NewStrategyFactory creates a factory whose strategies share client
func NewStrategyFactory(client httpclient.Client) StrategyFactory {
	return &defaultStrategyFactory{client: client}
}

// StrategiesFor returns the strategies of src in configuration order
func (f *defaultStrategyFactory) StrategiesFor(src *sources.Source) ([]Strategy, error) {
	strategies := make([]Strategy, 0, len(src.Strategies))
	for i, st := range src.Strategies {
		switch st.Type {
		case config.StrategyTypeFeed:
			strategies = append(strategies, NewFeedStrategy(f.client, st.URL, st.Timeout))
		case config.StrategyTypeAPI:
			strategies = append(strategies, NewAPIStrategy(f.client, st.URL, st.Timeout, st.API))
		case config.StrategyTypePage:
			strategies = append(strategies, NewPageStrategy(f.client, st.URL, st.Timeout, st.Page))
		default:
			return nil, fmt.Errorf("strategy %d of source %s: unsupported strategy type: %s", i, src.ID, st.Type)
		}
	}
	return strategies, nil
}

// StrategyFactoryFunc adapts a function to StrategyFactory
type StrategyFactoryFunc func(src *sources.Source) ([]Strategy, error)

// StrategiesFor implements StrategyFactory
func (f StrategyFactoryFunc) StrategiesFor(src *sources.Source) ([]Strategy, error) {
	return f(src)
}
