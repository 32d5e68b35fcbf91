package integration

import (
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/feedsync/test-integration/feedsync/helpers"
)

var _ = Describe("On-demand fetch", Label("fetch"), func() {
	var (
		tempDir      string
		dataDir      string
		content      *helpers.ContentServer
		serverHelper *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("feedsync-fetch-")
		dataDir = filepath.Join(tempDir, "data")

		content = helpers.NewContentServer()
		content.SetItems("news", 6)
		content.SetItems("blog", 4)

		// No scheduled run during these specs
		configFile := helpers.WriteConfigYAML(tempDir, dataDir, "1h",
			helpers.FeedSource(content, "news", 5),
			helpers.FeedSource(content, "blog", 3),
		)

		var err error
		serverHelper, err = helpers.NewServerTestHelper(ctx, configFile, dataDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(serverHelper.StopServer()).To(Succeed())
		content.Close()
		cleanupTempDir(tempDir)
	})

	It("runs at once when idle and keeps only the newest items", func() {
		status, resp, err := serverHelper.RequestFetch("news")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(resp.Status).To(Equal("completed"))
		Expect(resp.Strategy).To(Equal("feed"))
		Expect(resp.Found).To(Equal(5))
		Expect(resp.Fetched).To(Equal(5))
		Expect(resp.Failed).To(BeZero())

		Expect(helpers.CountItems(dataDir, "news")).To(Equal(5))
	})

	It("skips items that were already retrieved", func() {
		_, first, err := serverHelper.RequestFetch("blog")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Fetched).To(Equal(3))
		downloads := content.Downloads()

		_, second, err := serverHelper.RequestFetch("blog")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Status).To(Equal("completed"))
		Expect(second.Fetched).To(BeZero())
		Expect(second.Skipped).To(Equal(3))
		Expect(content.Downloads()).To(Equal(downloads))
	})

	It("falls back to the listing page when the feed is unavailable", func() {
		content.FailFeed("news", http.StatusServiceUnavailable)

		_, resp, err := serverHelper.RequestFetch("news")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal("completed"))
		Expect(resp.Strategy).To(Equal("page"))
		Expect(resp.Fetched).To(Equal(5))
	})

	It("fails the source without fallback when the feed is gone", func() {
		content.FailFeed("news", http.StatusGone)

		status, resp, err := serverHelper.RequestFetch("news")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(resp.Status).To(Equal("failed"))
		Expect(resp.Error).NotTo(BeEmpty())
		Expect(helpers.CountItems(dataDir, "news")).To(BeZero())
	})

	It("rejects unknown sources", func() {
		status, _, err := serverHelper.RequestFetch("missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusNotFound))
	})
})
