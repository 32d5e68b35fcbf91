// Package v1 provides the REST handlers for triggering fetches and
// inspecting the run lock and queue.
package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/feedsync/internal/api/common"
	"github.com/stacklok/feedsync/internal/sources"
	"github.com/stacklok/feedsync/internal/sync/coordinator"
	"github.com/stacklok/feedsync/internal/versions"
)

// RequesterHeader tags an on-demand request with its origin
const RequesterHeader = "X-Requester"

// ReadinessCheck reports whether the service can take requests
type ReadinessCheck func(ctx context.Context) error

// Routes holds the handler dependencies
type Routes struct {
	coordinator coordinator.Coordinator
}

// Router creates the /v1 router
func Router(coord coordinator.Coordinator) http.Handler {
	routes := &Routes{coordinator: coord}

	r := chi.NewRouter()
	r.Post("/sources/{sourceID}/fetch", routes.requestFetch)
	r.Get("/status", routes.status)

	return r
}

// requestFetch handles POST /v1/sources/{sourceID}/fetch
func (rt *Routes) requestFetch(w http.ResponseWriter, r *http.Request) {
	sourceID, err := common.URLParam(r, "sourceID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := rt.coordinator.RequestFetch(r.Context(), sourceID, r.Header.Get(RequesterHeader))
	switch {
	case errors.Is(err, sources.ErrUnknownSource):
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, sources.ErrSourceDisabled):
		common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, coordinator.ErrStopped):
		common.WriteErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		slog.Error("On-demand request failed", "source", sourceID, "error", err)
		common.WriteErrorResponse(w, "failed to process fetch request", http.StatusInternalServerError)
		return
	}

	body := FetchResponse{
		Status:   resp.Status,
		SourceID: sourceID,
		Position: resp.Position,
	}
	if outcome := resp.Outcome; outcome != nil {
		body.Found = outcome.Summary.Found
		body.Fetched = outcome.Summary.Fetched
		body.Skipped = outcome.Summary.Skipped
		body.Failed = outcome.Summary.Failed
		body.Errors = outcome.Summary.Errors
		body.Strategy = outcome.Strategy
		body.Degraded = outcome.Degraded
		body.Warning = outcome.Warning
		body.Error = outcome.Error
	}

	statusCode := http.StatusOK
	if resp.Status == coordinator.StatusQueued {
		statusCode = http.StatusAccepted
	}
	common.WriteJSONResponse(w, body, statusCode)
}

// status handles GET /v1/status
func (rt *Routes) status(w http.ResponseWriter, r *http.Request) {
	st, err := rt.coordinator.Status(r.Context())
	if err != nil {
		slog.Error("Failed to read coordination status", "error", err)
		common.WriteErrorResponse(w, "failed to read status", http.StatusInternalServerError)
		return
	}

	body := StatusResponse{
		Lock: LockResponse{
			Held:       st.Lock.Held,
			Holder:     st.Lock.Holder,
			AcquiredAt: st.Lock.AcquiredAt,
			LastRunAt:  st.Lock.LastRunAt,
		},
		Queue: make([]QueueEntryResponse, 0, len(st.Queue)),
	}
	for _, q := range st.Queue {
		body.Queue = append(body.Queue, QueueEntryResponse{
			Position:   q.Position,
			SourceID:   q.SourceID,
			Requester:  q.Requester,
			EnqueuedAt: q.EnqueuedAt,
			AgeSeconds: int64(q.Age.Seconds()),
		})
	}
	common.WriteJSONResponse(w, body, http.StatusOK)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(ready ReadinessCheck) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(ready))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func readinessHandler(ready ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				common.WriteErrorResponse(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		common.WriteJSONResponse(w, HealthResponse{Status: "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
