// Package helpers provides fixtures for the feedsync integration tests.
package helpers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ContentServer publishes feeds, listing pages and item bodies for any number of sources.
//
//	/{source}/feed.xml      RSS 2.0 with one entry per item
//	/{source}/index.html    HTML listing with one <article> per item
//	/{source}/items/{n}.txt item body
type ContentServer struct {
	*httptest.Server

	mu         sync.Mutex
	itemCounts map[string]int
	feedStatus map[string]int
	gates      map[string]chan struct{}
	downloads  atomic.Int64
}

// NewContentServer starts a content server; call Close when done
func NewContentServer() *ContentServer {
	cs := &ContentServer{
		itemCounts: make(map[string]int),
		feedStatus: make(map[string]int),
		gates:      make(map[string]chan struct{}),
	}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.serve))
	return cs
}

// SetItems publishes n items for source
func (cs *ContentServer) SetItems(source string, n int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.itemCounts[source] = n
}

// FailFeed makes the feed of source answer with status
func (cs *ContentServer) FailFeed(source string, status int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.feedStatus[source] = status
}

// HoldItems blocks item downloads of source until the returned function is called
func (cs *ContentServer) HoldItems(source string) (release func()) {
	gate := make(chan struct{})
	cs.mu.Lock()
	cs.gates[source] = gate
	cs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// Downloads returns how many item bodies have been served
func (cs *ContentServer) Downloads() int64 {
	return cs.downloads.Load()
}

// FeedURL returns the RSS feed of source
func (cs *ContentServer) FeedURL(source string) string {
	return fmt.Sprintf("%s/%s/feed.xml", cs.URL, source)
}

// PageURL returns the HTML listing of source
func (cs *ContentServer) PageURL(source string) string {
	return fmt.Sprintf("%s/%s/index.html", cs.URL, source)
}

func (cs *ContentServer) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	source, rest := parts[0], parts[1]

	cs.mu.Lock()
	count := cs.itemCounts[source]
	status := cs.feedStatus[source]
	gate := cs.gates[source]
	cs.mu.Unlock()

	switch {
	case rest == "feed.xml":
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprint(w, cs.rss(source, count))
	case rest == "index.html":
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, cs.page(source, count))
	case strings.HasPrefix(rest, "items/"):
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		cs.downloads.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "body of %s/%s\n", source, rest)
	default:
		http.NotFound(w, r)
	}
}

// published spaces items an hour apart, item 1 being the newest
func published(n int) time.Time {
	return time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC).Add(-time.Duration(n) * time.Hour)
}

func (cs *ContentServer) itemURL(source string, n int) string {
	return fmt.Sprintf("%s/%s/items/%d.txt", cs.URL, source, n)
}

func (cs *ContentServer) rss(source string, count int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel>`)
	fmt.Fprintf(&b, "<title>%s</title><link>%s</link><description>test</description>", source, cs.URL)
	for n := 1; n <= count; n++ {
		fmt.Fprintf(&b, "<item><title>%s item %d</title><link>%s</link><pubDate>%s</pubDate></item>",
			source, n, cs.itemURL(source, n), published(n).Format(time.RFC1123Z))
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func (cs *ContentServer) page(source string, count int) string {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for n := 1; n <= count; n++ {
		fmt.Fprintf(&b, `<article><a href="/%s/items/%d.txt">%s item %d</a><time datetime="%s"></time></article>`,
			source, n, source, n, published(n).Format(time.RFC3339))
	}
	b.WriteString("</main></body></html>")
	return b.String()
}
