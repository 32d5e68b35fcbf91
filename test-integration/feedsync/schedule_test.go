package integration

import (
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/stacklok/feedsync/internal/api/v1"
	"github.com/stacklok/feedsync/test-integration/feedsync/helpers"
)

var _ = Describe("Scheduled bulk run", Label("schedule"), func() {
	var (
		tempDir      string
		dataDir      string
		content      *helpers.ContentServer
		serverHelper *helpers.ServerTestHelper
		release      func()
	)

	BeforeEach(func() {
		tempDir = createTempDir("feedsync-schedule-")
		dataDir = filepath.Join(tempDir, "data")

		content = helpers.NewContentServer()
		content.SetItems("slow", 4)
		content.SetItems("quick", 3)
		// The bulk run stays on "slow" until released
		release = content.HoldItems("slow")

		configFile := helpers.WriteConfigYAML(tempDir, dataDir, "0s",
			helpers.FeedSource(content, "slow", 4),
			helpers.FeedSource(content, "quick", 3),
		)

		var err error
		serverHelper, err = helpers.NewServerTestHelper(ctx, configFile, dataDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		release()
		Expect(serverHelper.StopServer()).To(Succeed())
		content.Close()
		cleanupTempDir(tempDir)
	})

	waitForBulkLock := func() {
		Eventually(func() string {
			st, err := serverHelper.GetStatus()
			if err != nil || !st.Lock.Held {
				return ""
			}
			return st.Lock.Holder
		}, 10*time.Second, 50*time.Millisecond).Should(Equal("bulk"))
	}

	waitForIdle := func() *v1.StatusResponse {
		var last *v1.StatusResponse
		Eventually(func() bool {
			st, err := serverHelper.GetStatus()
			if err != nil {
				return false
			}
			last = st
			return !st.Lock.Held && len(st.Queue) == 0
		}, 20*time.Second, 50*time.Millisecond).Should(BeTrue())
		return last
	}

	It("queues on-demand requests behind the bulk run and drains them afterwards", func() {
		waitForBulkLock()

		status, resp, err := serverHelper.RequestFetch("quick")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusAccepted))
		Expect(resp.Status).To(Equal("queued"))
		Expect(resp.Position).To(Equal(1))

		By("asking again for the same source")
		_, again, err := serverHelper.RequestFetch("quick")
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Position).To(Equal(2))

		st, err := serverHelper.GetStatus()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Queue).To(HaveLen(2))
		for _, q := range st.Queue {
			Expect(q.SourceID).To(Equal("quick"))
			Expect(q.Requester).To(Equal("integration"))
		}

		release()

		idle := waitForIdle()
		Expect(idle.Lock.LastRunAt).NotTo(BeNil())
		Expect(helpers.CountItems(dataDir, "slow")).To(Equal(4))
		Expect(helpers.CountItems(dataDir, "quick")).To(Equal(3))
	})

	It("reports queue positions in arrival order", func() {
		waitForBulkLock()

		_, first, err := serverHelper.RequestFetch("quick")
		Expect(err).NotTo(HaveOccurred())
		_, second, err := serverHelper.RequestFetch("slow")
		Expect(err).NotTo(HaveOccurred())

		Expect(first.Position).To(Equal(1))
		Expect(second.Position).To(Equal(2))

		release()
		waitForIdle()
	})
})
