package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/httpclient"
	"github.com/stacklok/feedsync/internal/sources"
)

// PageStrategy scrapes an HTML listing page with CSS selectors
type PageStrategy struct {
	client    httpclient.Client
	url       string
	timeout   time.Duration
	selectors config.PageStrategyConfig
}

var _ Strategy = (*PageStrategy)(nil)

// NewPageStrategy creates an HTML listing strategy
func NewPageStrategy(
	client httpclient.Client, pageURL string, timeout time.Duration, selectors *config.PageStrategyConfig,
) *PageStrategy {
	sel := config.PageStrategyConfig{}
	if selectors != nil {
		sel = *selectors
	}
	sel.LinkAttr = orDefault(sel.LinkAttr, "href")
	sel.TimeSelector = orDefault(sel.TimeSelector, "time")
	sel.TimeAttr = orDefault(sel.TimeAttr, "datetime")

	return &PageStrategy{client: client, url: pageURL, timeout: timeout, selectors: sel}
}

// Name implements Strategy
func (*PageStrategy) Name() string { return "page" }

// Timeout implements Strategy
func (s *PageStrategy) Timeout() time.Duration { return s.timeout }

// Discover implements Strategy
func (s *PageStrategy) Discover(ctx context.Context, _ *sources.Source, _ int) ([]ItemDescriptor, error) {
	if s.selectors.ItemSelector == "" {
		return nil, fmt.Errorf("%w: page strategy for %s has no item selector", ErrContent, s.url)
	}

	data, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, classifyFetchError(fmt.Errorf("failed to fetch page: %w", err))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", s.url, err)
	}

	base, _ := url.Parse(s.url)
	var items []ItemDescriptor
	doc.Find(s.selectors.ItemSelector).Each(func(_ int, node *goquery.Selection) {
		link := node
		if s.selectors.LinkSelector != "" {
			link = node.Find(s.selectors.LinkSelector).First()
		}
		href, ok := link.Attr(s.selectors.LinkAttr)
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		itemURL := resolveURL(base, href)

		title := strings.TrimSpace(link.Text())
		if s.selectors.TitleSelector != "" {
			title = strings.TrimSpace(node.Find(s.selectors.TitleSelector).First().Text())
		}

		items = append(items, ItemDescriptor{
			ID:        ItemID(itemURL),
			URL:       itemURL,
			Title:     title,
			Published: s.published(node),
		})
	})

	return items, nil
}

func (s *PageStrategy) published(node *goquery.Selection) time.Time {
	stamp := node.Find(s.selectors.TimeSelector).First()
	if stamp.Length() == 0 {
		return time.Time{}
	}
	if value, ok := stamp.Attr(s.selectors.TimeAttr); ok {
		if t := parseTime(value); !t.IsZero() {
			return t
		}
	}
	return parseTime(stamp.Text())
}

// resolveURL makes href absolute against base; invalid input is returned unchanged
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
