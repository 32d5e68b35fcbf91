package discovery

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/stacklok/feedsync/internal/httpclient"
	"github.com/stacklok/feedsync/internal/sources"
)

// FeedStrategy reads an RSS, Atom or JSON Feed document
type FeedStrategy struct {
	client  httpclient.Client
	url     string
	timeout time.Duration
}

var _ Strategy = (*FeedStrategy)(nil)

// NewFeedStrategy creates a feed strategy reading feedURL
func NewFeedStrategy(client httpclient.Client, feedURL string, timeout time.Duration) *FeedStrategy {
	return &FeedStrategy{client: client, url: feedURL, timeout: timeout}
}

// Name implements Strategy
func (*FeedStrategy) Name() string { return "feed" }

// Timeout implements Strategy
func (s *FeedStrategy) Timeout() time.Duration { return s.timeout }

// Discover implements Strategy
func (s *FeedStrategy) Discover(ctx context.Context, _ *sources.Source, _ int) ([]ItemDescriptor, error) {
	data, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, classifyFetchError(fmt.Errorf("failed to fetch feed: %w", err))
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", s.url, err)
	}

	items := make([]ItemDescriptor, 0, len(feed.Items))
	for _, fi := range feed.Items {
		if fi == nil {
			continue
		}
		items = append(items, convertFeedItem(fi))
	}
	return items, nil
}

func convertFeedItem(fi *gofeed.Item) ItemDescriptor {
	var published time.Time
	if fi.PublishedParsed != nil {
		published = fi.PublishedParsed.UTC()
	} else if fi.UpdatedParsed != nil {
		published = fi.UpdatedParsed.UTC()
	}

	// The link keeps the id stable across strategies; the GUID is only a fallback
	var id string
	switch {
	case fi.Link != "":
		id = ItemID(fi.Link)
	case fi.GUID != "":
		id = hashString("guid:" + fi.GUID)
	}

	itemURL := fi.Link
	if itemURL == "" && len(fi.Enclosures) > 0 && fi.Enclosures[0] != nil {
		itemURL = fi.Enclosures[0].URL
		if id == "" {
			id = ItemID(itemURL)
		}
	}

	return ItemDescriptor{
		ID:        id,
		Published: published,
		URL:       itemURL,
		Title:     fi.Title,
	}
}
