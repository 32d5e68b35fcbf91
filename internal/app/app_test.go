package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/feedsync/internal/fetch"
	pkgsync "github.com/stacklok/feedsync/internal/sync"
	syncmocks "github.com/stacklok/feedsync/internal/sync/mocks"
	"github.com/stacklok/feedsync/internal/sync/state"
)

// startTestApp builds an app on a loopback listener and starts it in the background
func startTestApp(t *testing.T, opts ...FeedsyncAppOptions) (*FeedsyncApp, string, <-chan error) {
	t.Helper()

	opts = append([]FeedsyncAppOptions{
		WithConfig(createValidTestConfig()),
		WithAddress("127.0.0.1:0"),
	}, opts...)

	app, err := NewFeedsyncApp(context.Background(), opts...)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	app.listener = ln

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	baseURL := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	return app, baseURL, errCh
}

func stopTestApp(t *testing.T, app *FeedsyncApp, errCh <-chan error) {
	t.Helper()

	require.NoError(t, app.Stop(5*time.Second))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestFeedsyncApp_StartStop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	app, baseURL, errCh := startTestApp(t,
		WithDataDirectory(t.TempDir()),
		WithSyncManager(syncmocks.NewMockManager(ctrl)),
	)

	resp, err := http.Get(baseURL + "/readiness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotNil(t, app.GetConfig())
	assert.NotNil(t, app.GetHTTPServer())
	assert.NotNil(t, app.GetCoordinator())

	stopTestApp(t, app, errCh)
}

func TestFeedsyncApp_RecoversHeldLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctrl := gomock.NewController(t)

	store := state.NewFileStore(t.TempDir())
	require.NoError(t, store.Initialize(ctx))
	acquired, err := store.TryAcquire(ctx, state.HolderBulk, time.Now())
	require.NoError(t, err)
	require.True(t, acquired)

	app, _, errCh := startTestApp(t,
		WithDataDirectory(t.TempDir()),
		WithStore(store),
		WithSyncManager(syncmocks.NewMockManager(ctrl)),
	)

	lock, err := store.Lock(ctx)
	require.NoError(t, err)
	assert.False(t, lock.Held)

	stopTestApp(t, app, errCh)
}

func TestFeedsyncApp_OnDemandFetch(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	manager := syncmocks.NewMockManager(ctrl)
	manager.EXPECT().
		PerformSync(gomock.Any(), gomock.Any()).
		Return(&pkgsync.Result{
			Summary:  fetch.Summary{Found: 3, Fetched: 2, Skipped: 1},
			Strategy: "feed",
		}, nil)

	app, baseURL, errCh := startTestApp(t,
		WithDataDirectory(t.TempDir()),
		WithSyncManager(manager),
	)

	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/sources/alpha/fetch", nil)
	require.NoError(t, err)
	req.Header.Set("X-Requester", "app-test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 2, body["fetched"])
	assert.EqualValues(t, 1, body["skipped"])

	resp, err = http.Post(baseURL+"/v1/sources/missing/fetch", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	stopTestApp(t, app, errCh)
}
