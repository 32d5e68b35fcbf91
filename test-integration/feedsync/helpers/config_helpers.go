package helpers

import (
	"os"
	"path/filepath"

	"github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/feedsync/internal/config"
)

// FeedSource configures a source whose first strategy is the feed and second the listing page
func FeedSource(cs *ContentServer, id string, limit int) config.SourceConfig {
	return config.SourceConfig{
		ID:    id,
		Limit: limit,
		Strategies: []config.StrategyConfig{
			{Type: config.StrategyTypeFeed, URL: cs.FeedURL(id), Timeout: "5s"},
			{
				Type:    config.StrategyTypePage,
				URL:     cs.PageURL(id),
				Timeout: "5s",
				Page:    &config.PageStrategyConfig{ItemSelector: "article", LinkSelector: "a"},
			},
		},
	}
}

// WriteConfigYAML writes a configuration for srcs into dir and returns its path.
// initialDelay controls when the first scheduled bulk run starts.
func WriteConfigYAML(dir, dataDir, initialDelay string, srcs ...config.SourceConfig) string {
	cfg := config.Config{
		Sources: srcs,
		Schedule: &config.ScheduleConfig{
			Interval:     "1h",
			InitialDelay: initialDelay,
		},
		Fetch: &config.FetchConfig{
			MaxAttempts: 1,
			Timeout:     "10s",
		},
		Storage: &config.StorageConfig{
			Type:    config.StorageTypeFile,
			DataDir: dataDir,
		},
	}

	data, err := yaml.Marshal(&cfg)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	path := filepath.Join(dir, "config.yaml")
	gomega.Expect(os.WriteFile(path, data, 0600)).To(gomega.Succeed())
	return path
}

// CountItems returns the number of item files written for source
func CountItems(dataDir, source string) int {
	entries, err := os.ReadDir(filepath.Join(dataDir, "items", source))
	if os.IsNotExist(err) {
		return 0
	}
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".txt" {
			n++
		}
	}
	return n
}
