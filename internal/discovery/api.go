package discovery

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/httpclient"
	"github.com/stacklok/feedsync/internal/sources"
)

// Default gjson paths for JSON listings
const (
	DefaultItemsPath     = "items"
	DefaultIDPath        = "id"
	DefaultURLPath       = "url"
	DefaultPublishedPath = "published"
	DefaultTitlePath     = "title"
)

// APIStrategy reads a JSON listing endpoint
type APIStrategy struct {
	client  httpclient.Client
	url     string
	timeout time.Duration
	paths   config.APIStrategyConfig
}

var _ Strategy = (*APIStrategy)(nil)

// NewAPIStrategy creates a JSON listing strategy. Empty paths fall back to the defaults.
func NewAPIStrategy(
	client httpclient.Client, endpoint string, timeout time.Duration, paths *config.APIStrategyConfig,
) *APIStrategy {
	p := config.APIStrategyConfig{}
	if paths != nil {
		p = *paths
	}
	p.ItemsPath = orDefault(p.ItemsPath, DefaultItemsPath)
	p.IDPath = orDefault(p.IDPath, DefaultIDPath)
	p.URLPath = orDefault(p.URLPath, DefaultURLPath)
	p.PublishedPath = orDefault(p.PublishedPath, DefaultPublishedPath)
	p.TitlePath = orDefault(p.TitlePath, DefaultTitlePath)

	return &APIStrategy{client: client, url: endpoint, timeout: timeout, paths: p}
}

// Name implements Strategy
func (*APIStrategy) Name() string { return "api" }

// Timeout implements Strategy
func (s *APIStrategy) Timeout() time.Duration { return s.timeout }

// Discover implements Strategy
func (s *APIStrategy) Discover(ctx context.Context, _ *sources.Source, _ int) ([]ItemDescriptor, error) {
	data, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, classifyFetchError(fmt.Errorf("failed to fetch listing: %w", err))
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("listing %s is not valid JSON", s.url)
	}

	list := gjson.GetBytes(data, s.paths.ItemsPath)
	if !list.Exists() {
		root := gjson.ParseBytes(data)
		if !root.IsArray() {
			return nil, fmt.Errorf("listing %s has no array at %q", s.url, s.paths.ItemsPath)
		}
		list = root
	}

	base, _ := url.Parse(s.url)
	var items []ItemDescriptor
	list.ForEach(func(_, value gjson.Result) bool {
		item := ItemDescriptor{
			URL:       resolveURL(base, value.Get(s.paths.URLPath).String()),
			Title:     value.Get(s.paths.TitlePath).String(),
			Published: jsonTime(value.Get(s.paths.PublishedPath)),
		}
		switch {
		case item.URL != "":
			item.ID = ItemID(item.URL)
		case value.Get(s.paths.IDPath).Exists():
			item.ID = hashString("id:" + value.Get(s.paths.IDPath).String())
		}
		items = append(items, item)
		return true
	})

	return items, nil
}

// jsonTime accepts RFC 3339 style strings and unix timestamps in seconds or milliseconds
func jsonTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n <= 0 {
			return time.Time{}
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	case gjson.String:
		return parseTime(v.String())
	default:
		return time.Time{}
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
