package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/feedsync/internal/httpclient"
	"github.com/stacklok/feedsync/internal/sources"
)

var (
	// ErrContent marks failures that will not go away by retrying: the source
	// or its listing is gone, private or permanently invalid.
	ErrContent = errors.New("source content unavailable")

	// ErrDiscoveryExhausted is returned when every strategy failed without producing a single item
	ErrDiscoveryExhausted = errors.New("all discovery strategies failed")
)

// ItemDescriptor identifies one published item of a source
type ItemDescriptor struct {
	// ID is stable for the same item whichever strategy found it
	ID        string
	Published time.Time
	URL       string
	Title     string
}

// Result is the outcome of discovery for one source
type Result struct {
	// Items are ordered newest first and hold at most limit entries
	Items []ItemDescriptor

	// Strategy is the name of the strategy the items came from
	Strategy string

	// Degraded is set when no strategy reached the acceptance threshold
	Degraded bool
	Warning  string
}

//go:generate mockgen -destination=mocks/mock_discovery.go -package=mocks -source=types.go Strategy,StrategyFactory,Engine

// Strategy lists items of a source by one method
type Strategy interface {
	// Name identifies the strategy in logs, metrics and results
	Name() string

	// Timeout bounds a single Discover call; zero means the engine default
	Timeout() time.Duration

	// Discover returns the items it could find, in any order.
	// Errors wrapping ErrContent stop discovery for the source.
	Discover(ctx context.Context, src *sources.Source, limit int) ([]ItemDescriptor, error)
}

// StrategyFactory builds the ordered strategy list of a source
type StrategyFactory interface {
	StrategiesFor(src *sources.Source) ([]Strategy, error)
}

// Engine runs the strategies of a source until one is good enough
type Engine interface {
	Discover(ctx context.Context, src *sources.Source, limit int) (*Result, error)
}

// ItemID derives the item identifier from its URL. The fragment is dropped and
// scheme and host are lower-cased so that every strategy yields the same id.
func ItemID(rawURL string) string {
	key := strings.TrimSpace(rawURL)
	if u, err := url.Parse(key); err == nil && u.Host != "" {
		u.Fragment = ""
		u.RawFragment = ""
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		key = u.String()
	}
	return hashString(key)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// IsContentError reports whether err is a content error
func IsContentError(err error) bool {
	return errors.Is(err, ErrContent)
}

// classifyFetchError marks permanent HTTP failures as content errors
func classifyFetchError(err error) error {
	if httpclient.IsPermanent(err) {
		return fmt.Errorf("%w: %w", ErrContent, err)
	}
	return err
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// parseTime accepts the date formats commonly found in listings; unparsable input yields the zero time
func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
