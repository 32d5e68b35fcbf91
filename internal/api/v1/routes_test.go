package v1_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v1 "github.com/stacklok/feedsync/internal/api/v1"
	"github.com/stacklok/feedsync/internal/fetch"
	"github.com/stacklok/feedsync/internal/sources"
	"github.com/stacklok/feedsync/internal/sync/coordinator"
	"github.com/stacklok/feedsync/internal/sync/coordinator/mocks"
	"github.com/stacklok/feedsync/internal/sync/state"
)

func newRouter(coord coordinator.Coordinator) http.Handler {
	r := chi.NewRouter()
	r.Mount("/v1", v1.Router(coord))
	return r
}

func TestRequestFetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requester      string
		setup          func(m *mocks.MockCoordinator)
		expectedStatus int
		check          func(t *testing.T, body map[string]any)
	}{
		{
			name:      "completed with counts",
			requester: "dashboard",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "dashboard").Return(&coordinator.Response{
					Status: coordinator.StatusCompleted,
					Outcome: &coordinator.SourceOutcome{
						SourceID: "news",
						Summary:  fetch.Summary{Found: 5, Fetched: 2, Skipped: 3},
						Strategy: "feed",
					},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				t.Helper()
				assert.Equal(t, "completed", body["status"])
				assert.EqualValues(t, 5, body["found"])
				assert.EqualValues(t, 2, body["fetched"])
				assert.EqualValues(t, 3, body["skipped"])
				assert.EqualValues(t, 0, body["failed"])
				assert.Equal(t, "feed", body["strategy"])
				assert.NotContains(t, body, "error")
			},
		},
		{
			name: "nothing new is still completed",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "").Return(&coordinator.Response{
					Status:  coordinator.StatusCompleted,
					Outcome: &coordinator.SourceOutcome{Summary: fetch.Summary{Found: 3, Skipped: 3}},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				t.Helper()
				assert.Equal(t, "completed", body["status"])
				assert.EqualValues(t, 0, body["fetched"])
			},
		},
		{
			name: "pipeline failure",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "").Return(&coordinator.Response{
					Status: coordinator.StatusFailed,
					Outcome: &coordinator.SourceOutcome{
						Error:     "discovery failed for source news",
						ErrorKind: "content",
					},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				t.Helper()
				assert.Equal(t, "failed", body["status"])
				assert.Equal(t, "discovery failed for source news", body["error"])
			},
		},
		{
			name: "queued",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "").Return(&coordinator.Response{
					Status:   coordinator.StatusQueued,
					Position: 2,
				}, nil)
			},
			expectedStatus: http.StatusAccepted,
			check: func(t *testing.T, body map[string]any) {
				t.Helper()
				assert.Equal(t, "queued", body["status"])
				assert.EqualValues(t, 2, body["position"])
			},
		},
		{
			name: "unknown source",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "").
					Return(nil, fmt.Errorf("%w: news", sources.ErrUnknownSource))
			},
			expectedStatus: http.StatusNotFound,
			check: func(t *testing.T, body map[string]any) {
				t.Helper()
				assert.Equal(t, "unknown source: news", body["error"])
			},
		},
		{
			name: "disabled source",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "").
					Return(nil, fmt.Errorf("%w: news", sources.ErrSourceDisabled))
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "shutting down",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "").Return(nil, coordinator.ErrStopped)
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name: "store failure",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().RequestFetch(gomock.Any(), "news", "").Return(nil, errors.New("disk full"))
			},
			expectedStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				t.Helper()
				assert.Equal(t, "failed to process fetch request", body["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockCoord := mocks.NewMockCoordinator(ctrl)
			tt.setup(mockCoord)

			req := httptest.NewRequest(http.MethodPost, "/v1/sources/news/fetch", nil)
			if tt.requester != "" {
				req.Header.Set(v1.RequesterHeader, tt.requester)
			}
			rr := httptest.NewRecorder()
			newRouter(mockCoord).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestRequestFetch_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rr := httptest.NewRecorder()
	newRouter(mocks.NewMockCoordinator(ctrl)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sources/news/fetch", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	acquired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name           string
		setup          func(m *mocks.MockCoordinator)
		expectedStatus int
		check          func(t *testing.T, body v1.StatusResponse)
	}{
		{
			name: "lock held with queue",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().Status(gomock.Any()).Return(&coordinator.Status{
					Lock: state.LockState{Held: true, Holder: state.HolderBulk, AcquiredAt: &acquired},
					Queue: []coordinator.QueuedRequest{
						{
							QueueEntry: state.QueueEntry{SourceID: "news", Requester: "cli", EnqueuedAt: acquired},
							Position:   1,
							Age:        90 * time.Second,
						},
					},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body v1.StatusResponse) {
				t.Helper()
				assert.True(t, body.Lock.Held)
				assert.Equal(t, "bulk", body.Lock.Holder)
				require.NotNil(t, body.Lock.AcquiredAt)
				require.Len(t, body.Queue, 1)
				assert.Equal(t, "news", body.Queue[0].SourceID)
				assert.Equal(t, 1, body.Queue[0].Position)
				assert.Equal(t, int64(90), body.Queue[0].AgeSeconds)
			},
		},
		{
			name: "idle",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().Status(gomock.Any()).Return(&coordinator.Status{}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body v1.StatusResponse) {
				t.Helper()
				assert.False(t, body.Lock.Held)
				assert.NotNil(t, body.Queue)
				assert.Empty(t, body.Queue)
			},
		},
		{
			name: "store failure",
			setup: func(m *mocks.MockCoordinator) {
				m.EXPECT().Status(gomock.Any()).Return(nil, errors.New("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockCoord := mocks.NewMockCoordinator(ctrl)
			tt.setup(mockCoord)

			rr := httptest.NewRecorder()
			newRouter(mockCoord).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
			assert.Equal(t, tt.expectedStatus, rr.Code)

			if tt.check != nil {
				var body v1.StatusResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				tt.check(t, body)
			}
		})
	}
}
