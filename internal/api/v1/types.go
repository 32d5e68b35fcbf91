package v1

import "time"

// FetchResponse answers POST /v1/sources/{sourceID}/fetch
type FetchResponse struct {
	Status   string            `json:"status" example:"completed"`
	SourceID string            `json:"sourceId"`
	Found    int               `json:"found"`
	Fetched  int               `json:"fetched"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Strategy string            `json:"strategy,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
	Warning  string            `json:"warning,omitempty"`
	Error    string            `json:"error,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
	Position int               `json:"position,omitempty"`
}

// LockResponse describes the run lock
type LockResponse struct {
	Held       bool       `json:"held"`
	Holder     string     `json:"holder,omitempty"`
	AcquiredAt *time.Time `json:"acquiredAt,omitempty"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
}

// QueueEntryResponse describes one waiting request
type QueueEntryResponse struct {
	Position   int       `json:"position"`
	SourceID   string    `json:"sourceId"`
	Requester  string    `json:"requester"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	AgeSeconds int64     `json:"ageSeconds"`
}

// StatusResponse answers GET /v1/status
type StatusResponse struct {
	Lock  LockResponse         `json:"lock"`
	Queue []QueueEntryResponse `json:"queue"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}
