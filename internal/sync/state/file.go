package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// CoordinationFileName holds the lock and the queue
	CoordinationFileName = "coordination.json"

	retrievedDirName = "retrieved"
	lockFileName     = "coordination.lock"
	lockRetryDelay   = 20 * time.Millisecond
)

type fileStore struct {
	dir string

	// mu serialises goroutines; flock serialises processes sharing dir
	mu    sync.Mutex
	flock *flock.Flock
}

// NewFileStore creates a Store that keeps its state in JSON and text files under dir
func NewFileStore(dir string) Store {
	return &fileStore{
		dir:   dir,
		flock: flock.New(filepath.Join(dir, lockFileName)),
	}
}

func (f *fileStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(f.dir, retrievedDirName), 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return f.update(ctx, func(*coordination) (bool, error) {
		_, err := os.Stat(filepath.Join(f.dir, CoordinationFileName))
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, err
	})
}

func (f *fileStore) Lock(ctx context.Context) (*LockState, error) {
	var lock LockState
	err := f.update(ctx, func(c *coordination) (bool, error) {
		lock = c.Lock
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (f *fileStore) TryAcquire(ctx context.Context, holder string, now time.Time) (bool, error) {
	if holder == "" {
		return false, ErrInvalidHolder
	}
	var acquired bool
	err := f.update(ctx, func(c *coordination) (bool, error) {
		acquired = c.acquire(holder, now)
		return acquired, nil
	})
	return acquired, err
}

func (f *fileStore) AcquireOrEnqueue(ctx context.Context, holder string, entry QueueEntry) (Admission, error) {
	if holder == "" {
		return Admission{}, ErrInvalidHolder
	}
	var admission Admission
	err := f.update(ctx, func(c *coordination) (bool, error) {
		admission = c.admit(holder, entry)
		return true, nil
	})
	return admission, err
}

func (f *fileStore) Release(ctx context.Context, completed bool, now time.Time) error {
	return f.update(ctx, func(c *coordination) (bool, error) {
		c.release(completed, now)
		return true, nil
	})
}

func (f *fileStore) ReleaseIfQueueEmpty(ctx context.Context, completed bool, now time.Time) (bool, error) {
	var released bool
	err := f.update(ctx, func(c *coordination) (bool, error) {
		if len(c.Queue) > 0 {
			return false, nil
		}
		c.release(completed, now)
		released = true
		return true, nil
	})
	return released, err
}

func (f *fileStore) Queue(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := f.update(ctx, func(c *coordination) (bool, error) {
		entries = append([]QueueEntry(nil), c.Queue...)
		return false, nil
	})
	return entries, err
}

func (f *fileStore) PurgeStale(ctx context.Context, cutoff time.Time) ([]QueueEntry, error) {
	var evicted []QueueEntry
	err := f.update(ctx, func(c *coordination) (bool, error) {
		evicted = c.purge(cutoff)
		return len(evicted) > 0, nil
	})
	return evicted, err
}

func (f *fileStore) Dequeue(ctx context.Context) (*QueueEntry, error) {
	var head *QueueEntry
	err := f.update(ctx, func(c *coordination) (bool, error) {
		if len(c.Queue) == 0 {
			return false, nil
		}
		entry := c.Queue[0]
		head = &entry
		c.Queue = c.Queue[1:]
		return true, nil
	})
	return head, err
}

func (f *fileStore) IsRetrieved(ctx context.Context, sourceID, itemID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containsItem(sourceID, itemID)
}

func (f *fileStore) Record(ctx context.Context, sourceID, itemID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	exists, err := f.containsItem(sourceID, itemID)
	if err != nil || exists {
		return err
	}

	path := f.retrievedPath(sourceID)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create retrieved directory: %w", err)
	}

	// #nosec G304 -- path is built from the state dir and a validated source id
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open retrieved record for source '%s': %w", sourceID, err)
	}
	if _, err := fmt.Fprintf(file, "%s\t%s\n", itemID, at.UTC().Format(time.RFC3339)); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to append retrieved record for source '%s': %w", sourceID, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync retrieved record for source '%s': %w", sourceID, err)
	}
	return file.Close()
}

func (*fileStore) Close() error {
	return nil
}

func (f *fileStore) retrievedPath(sourceID string) string {
	return filepath.Join(f.dir, retrievedDirName, sourceID+".txt")
}

// containsItem scans the retrieved record of sourceID. Callers hold f.mu.
func (f *fileStore) containsItem(sourceID, itemID string) (bool, error) {
	// #nosec G304 -- path is built from the state dir and a validated source id
	file, err := os.Open(f.retrievedPath(sourceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read retrieved record for source '%s': %w", sourceID, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id, _, _ := strings.Cut(scanner.Text(), "\t")
		if id == itemID {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// update runs fn on the persisted coordination state under both locks and
// writes the result back when fn reports a change.
func (f *fileStore) update(ctx context.Context, fn func(*coordination) (bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	locked, err := f.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock state directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock state directory: %w", ctx.Err())
	}
	defer func() {
		_ = f.flock.Unlock()
	}()

	state, err := f.load()
	if err != nil {
		return err
	}

	changed, err := fn(state)
	if err != nil || !changed {
		return err
	}
	return f.save(state)
}

func (f *fileStore) load() (*coordination, error) {
	path := filepath.Join(f.dir, CoordinationFileName)
	// #nosec G304 -- path is built from the configured state dir
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &coordination{}, nil
		}
		return nil, fmt.Errorf("failed to read coordination state: %w", err)
	}

	var state coordination
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coordination state: %w", err)
	}
	return &state, nil
}

func (f *fileStore) save(state *coordination) error {
	if state.Queue == nil {
		state.Queue = []QueueEntry{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal coordination state: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, CoordinationFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(f.dir, CoordinationFileName)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
