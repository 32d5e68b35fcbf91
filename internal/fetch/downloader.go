package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/stacklok/feedsync/internal/discovery"
	"github.com/stacklok/feedsync/internal/httpclient"
)

const (
	// DefaultMaxAttempts is the number of download attempts per item
	DefaultMaxAttempts = 3

	itemsDirName = "items"
)

var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

// DownloaderOption configures the HTTP downloader
type DownloaderOption func(*httpDownloader)

// WithRateLimit allows at most perSecond requests per second. Zero or less disables limiting.
func WithRateLimit(perSecond float64) DownloaderOption {
	return func(d *httpDownloader) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithMaxAttempts sets how many times a transient failure is tried
func WithMaxAttempts(n int) DownloaderOption {
	return func(d *httpDownloader) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithInitialBackoff sets the first retry delay
func WithInitialBackoff(interval time.Duration) DownloaderOption {
	return func(d *httpDownloader) {
		if interval > 0 {
			d.initialInterval = interval
		}
	}
}

type httpDownloader struct {
	client          httpclient.Client
	dataDir         string
	limiter         *rate.Limiter
	maxAttempts     int
	initialInterval time.Duration
}

var _ Downloader = (*httpDownloader)(nil)

// NewHTTPDownloader creates a downloader writing under <dataDir>/items/<sourceID>/
func NewHTTPDownloader(client httpclient.Client, dataDir string, opts ...DownloaderOption) Downloader {
	d := &httpDownloader{
		client:          client,
		dataDir:         dataDir,
		limiter:         rate.NewLimiter(rate.Inf, 1),
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ItemPath returns where an item of a source is stored
func ItemPath(dataDir, sourceID string, item discovery.ItemDescriptor) string {
	return filepath.Join(dataDir, itemsDirName, sourceID, item.ID+itemExt(item.URL))
}

// Download writes the item body to its final path through a synced temporary file.
// Permanent HTTP failures are not retried.
func (d *httpDownloader) Download(ctx context.Context, sourceID string, item discovery.ItemDescriptor) (string, error) {
	if item.URL == "" {
		return "", fmt.Errorf("item %s has no URL", item.ID)
	}

	target := ItemPath(d.dataDir, sourceID, item)
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return "", fmt.Errorf("failed to create item directory for source '%s': %w", sourceID, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialInterval
	b.MaxInterval = 10 * d.initialInterval

	operation := func() (string, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		err := d.writeItem(ctx, item.URL, target)
		if err != nil && (httpclient.IsPermanent(err) || ctx.Err() != nil) {
			return "", backoff.Permanent(err)
		}
		return target, err
	}

	written, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.maxAttempts)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", item.URL, err)
	}
	return written, nil
}

func (d *httpDownloader) writeItem(ctx context.Context, itemURL, target string) error {
	body, err := d.client.Open(ctx, itemURL)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return fmt.Errorf("failed to write item body: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync item file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close item file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		committed = true
		return fmt.Errorf("failed to move item into place: %w", err)
	}
	committed = true
	return nil
}

// itemExt keeps a short alphanumeric extension from the URL path, if any
func itemExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if !safeExt.MatchString(ext) {
		return ""
	}
	return ext
}
