package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/feedsync/database"
)

type dbStore struct {
	db      *sql.DB
	dialect string

	// mu keeps read-modify-write transactions of this process in order
	mu sync.Mutex
}

// NewDBStore creates a Store over an already migrated database handle
func NewDBStore(db *sql.DB, dialect string) Store {
	return &dbStore{
		db:      db,
		dialect: dialect,
	}
}

func (d *dbStore) Initialize(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, d.rebind(
		"INSERT INTO run_lock (id, held, holder) VALUES (1, 0, '') ON CONFLICT (id) DO NOTHING"))
	if err != nil {
		return fmt.Errorf("failed to initialize run lock: %w", err)
	}
	return nil
}

func (d *dbStore) Lock(ctx context.Context) (*LockState, error) {
	return d.readLock(ctx, d.db)
}

func (d *dbStore) TryAcquire(ctx context.Context, holder string, now time.Time) (bool, error) {
	if holder == "" {
		return false, ErrInvalidHolder
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquire(ctx, d.db, holder, now)
}

func (d *dbStore) AcquireOrEnqueue(ctx context.Context, holder string, entry QueueEntry) (Admission, error) {
	if holder == "" {
		return Admission{}, ErrInvalidHolder
	}

	var admission Admission
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		acquired, err := d.acquire(ctx, tx, holder, entry.EnqueuedAt)
		if err != nil {
			return err
		}
		if acquired {
			admission.Acquired = true
			return nil
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM wait_queue").Scan(&seq); err != nil {
			return fmt.Errorf("failed to allocate queue sequence: %w", err)
		}
		_, err = tx.ExecContext(ctx, d.rebind(
			"INSERT INTO wait_queue (seq, source_id, requester, enqueued_at) VALUES (?, ?, ?, ?)"),
			seq, entry.SourceID, entry.Requester, entry.EnqueuedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to enqueue source '%s': %w", entry.SourceID, err)
		}

		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM wait_queue").Scan(&admission.Position); err != nil {
			return fmt.Errorf("failed to count queue: %w", err)
		}
		return nil
	})
	return admission, err
}

func (d *dbStore) Release(ctx context.Context, completed bool, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release(ctx, d.db, completed, now)
}

func (d *dbStore) ReleaseIfQueueEmpty(ctx context.Context, completed bool, now time.Time) (bool, error) {
	var released bool
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var waiting int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM wait_queue").Scan(&waiting); err != nil {
			return fmt.Errorf("failed to count queue: %w", err)
		}
		if waiting > 0 {
			return nil
		}
		if err := d.release(ctx, tx, completed, now); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (d *dbStore) Queue(ctx context.Context) ([]QueueEntry, error) {
	return d.queryQueue(ctx, d.db, "SELECT source_id, requester, enqueued_at FROM wait_queue ORDER BY seq")
}

func (d *dbStore) PurgeStale(ctx context.Context, cutoff time.Time) ([]QueueEntry, error) {
	var evicted []QueueEntry
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		evicted, err = d.queryQueue(ctx, tx, d.rebind(
			"SELECT source_id, requester, enqueued_at FROM wait_queue WHERE enqueued_at < ? ORDER BY seq"),
			cutoff.UnixMilli())
		if err != nil || len(evicted) == 0 {
			return err
		}
		if _, err := tx.ExecContext(ctx, d.rebind("DELETE FROM wait_queue WHERE enqueued_at < ?"),
			cutoff.UnixMilli()); err != nil {
			return fmt.Errorf("failed to purge stale queue entries: %w", err)
		}
		return nil
	})
	return evicted, err
}

func (d *dbStore) Dequeue(ctx context.Context) (*QueueEntry, error) {
	var head *QueueEntry
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var (
			seq        int64
			entry      QueueEntry
			enqueuedAt int64
		)
		err := tx.QueryRowContext(ctx,
			"SELECT seq, source_id, requester, enqueued_at FROM wait_queue ORDER BY seq LIMIT 1").
			Scan(&seq, &entry.SourceID, &entry.Requester, &enqueuedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read queue head: %w", err)
		}
		if _, err := tx.ExecContext(ctx, d.rebind("DELETE FROM wait_queue WHERE seq = ?"), seq); err != nil {
			return fmt.Errorf("failed to dequeue source '%s': %w", entry.SourceID, err)
		}
		entry.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		head = &entry
		return nil
	})
	return head, err
}

func (d *dbStore) IsRetrieved(ctx context.Context, sourceID, itemID string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, d.rebind(
		"SELECT COUNT(*) FROM retrieved_items WHERE source_id = ? AND item_id = ?"),
		sourceID, itemID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up retrieved item: %w", err)
	}
	return count > 0, nil
}

func (d *dbStore) Record(ctx context.Context, sourceID, itemID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, d.rebind(
		`INSERT INTO retrieved_items (source_id, item_id, retrieved_at) VALUES (?, ?, ?)
		 ON CONFLICT (source_id, item_id) DO NOTHING`),
		sourceID, itemID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record retrieved item: %w", err)
	}
	return nil
}

func (d *dbStore) Close() error {
	return d.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn inside one transaction under the process mutex
func (d *dbStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// acquire flips the lock with a single conditional update
func (d *dbStore) acquire(ctx context.Context, q querier, holder string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, d.rebind(
		"UPDATE run_lock SET held = 1, holder = ?, acquired_at = ? WHERE id = 1 AND held = 0"),
		holder, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return n == 1, nil
}

func (d *dbStore) release(ctx context.Context, q querier, completed bool, now time.Time) error {
	query := "UPDATE run_lock SET held = 0, holder = '', acquired_at = NULL WHERE id = 1"
	args := []any{}
	if completed {
		query = "UPDATE run_lock SET held = 0, holder = '', acquired_at = NULL, last_run_at = ? WHERE id = 1"
		args = append(args, now.UnixMilli())
	}
	if _, err := q.ExecContext(ctx, d.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

func (d *dbStore) readLock(ctx context.Context, q querier) (*LockState, error) {
	var (
		held       int
		lock       LockState
		acquiredAt sql.NullInt64
		lastRunAt  sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		"SELECT held, holder, acquired_at, last_run_at FROM run_lock WHERE id = 1").
		Scan(&held, &lock.Holder, &acquiredAt, &lastRunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &LockState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run lock: %w", err)
	}

	lock.Held = held != 0
	lock.AcquiredAt = millisToTime(acquiredAt)
	lock.LastRunAt = millisToTime(lastRunAt)
	return &lock, nil
}

func (*dbStore) queryQueue(ctx context.Context, q querier, query string, args ...any) ([]QueueEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var (
			entry      QueueEntry
			enqueuedAt int64
		)
		if err := rows.Scan(&entry.SourceID, &entry.Requester, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entry.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// rebind rewrites ? placeholders into $n for postgres
func (d *dbStore) rebind(query string) string {
	if d.dialect != database.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func millisToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
