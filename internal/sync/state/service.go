// Package state persists the run lock, the waiting queue and the per-source
// record of retrieved items.
package state

import (
	"context"
	"errors"
	"time"
)

const (
	// HolderBulk marks the lock as held by a scheduled bulk run
	HolderBulk = "bulk"

	// HolderOnDemand marks the lock as held by an on-demand request
	HolderOnDemand = "on-demand"
)

// ErrInvalidHolder is returned when acquiring the lock without a holder
var ErrInvalidHolder = errors.New("lock holder is required")

// LockState is the single persisted run lock
type LockState struct {
	Held       bool       `json:"held"`
	Holder     string     `json:"holder,omitempty"`
	AcquiredAt *time.Time `json:"acquiredAt,omitempty"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
}

// QueueEntry is a deferred on-demand request
type QueueEntry struct {
	SourceID   string    `json:"sourceId"`
	Requester  string    `json:"requester"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Admission is the outcome of AcquireOrEnqueue
type Admission struct {
	// Acquired is set when the caller now holds the lock
	Acquired bool
	// Position is the 1-based queue position when not acquired
	Position int
}

// Store persists coordination state. Every read-modify-write method runs as a
// single critical section.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/feedsync/internal/sync/state Store
type Store interface {
	// Initialize prepares the backing storage. It is idempotent and never
	// clears existing state.
	Initialize(ctx context.Context) error
	// Lock returns the current lock state.
	Lock(ctx context.Context) (*LockState, error)
	// TryAcquire takes the lock for holder if it is free.
	TryAcquire(ctx context.Context, holder string, now time.Time) (bool, error)
	// AcquireOrEnqueue takes the lock if it is free, otherwise appends entry to
	// the queue. A source already queued keeps its existing position.
	AcquireOrEnqueue(ctx context.Context, holder string, entry QueueEntry) (Admission, error)
	// Release frees the lock. LastRunAt is updated when completed is set.
	Release(ctx context.Context, completed bool, now time.Time) error
	// ReleaseIfQueueEmpty frees the lock only when nothing is waiting.
	ReleaseIfQueueEmpty(ctx context.Context, completed bool, now time.Time) (bool, error)
	// Queue returns the waiting entries in FIFO order.
	Queue(ctx context.Context) ([]QueueEntry, error)
	// PurgeStale removes and returns entries enqueued before cutoff.
	PurgeStale(ctx context.Context, cutoff time.Time) ([]QueueEntry, error)
	// Dequeue removes and returns the head of the queue, or nil when empty.
	Dequeue(ctx context.Context) (*QueueEntry, error)
	// IsRetrieved reports whether itemID was already recorded for sourceID.
	IsRetrieved(ctx context.Context, sourceID, itemID string) (bool, error)
	// Record adds itemID to the retrieved set of sourceID. Recording an
	// existing id is a no-op.
	Record(ctx context.Context, sourceID, itemID string, at time.Time) error
	// Close releases the underlying resources.
	Close() error
}

// coordination is the lock plus queue snapshot the file backend persists
type coordination struct {
	Lock  LockState    `json:"lock"`
	Queue []QueueEntry `json:"queue"`
}

func (c *coordination) acquire(holder string, now time.Time) bool {
	if c.Lock.Held {
		return false
	}
	acquiredAt := now
	c.Lock.Held = true
	c.Lock.Holder = holder
	c.Lock.AcquiredAt = &acquiredAt
	return true
}

func (c *coordination) release(completed bool, now time.Time) {
	c.Lock.Held = false
	c.Lock.Holder = ""
	c.Lock.AcquiredAt = nil
	if completed {
		lastRun := now
		c.Lock.LastRunAt = &lastRun
	}
}

func (c *coordination) admit(holder string, entry QueueEntry) Admission {
	if c.acquire(holder, entry.EnqueuedAt) {
		return Admission{Acquired: true}
	}
	c.Queue = append(c.Queue, entry)
	return Admission{Position: len(c.Queue)}
}

func (c *coordination) purge(cutoff time.Time) []QueueEntry {
	var evicted []QueueEntry
	kept := c.Queue[:0]
	for _, entry := range c.Queue {
		if entry.EnqueuedAt.Before(cutoff) {
			evicted = append(evicted, entry)
			continue
		}
		kept = append(kept, entry)
	}
	c.Queue = kept
	return evicted
}
