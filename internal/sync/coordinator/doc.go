// Package coordinator serialises scheduled bulk runs and on-demand fetch
// requests through the persisted run lock.
//
// Exactly one pipeline executes at a time. A bulk run or an on-demand request
// that finds the lock free takes it, runs, and then drains the waiting queue
// before releasing. Requests arriving while the lock is held are queued and
// answered immediately with their position.
//
// # Drain
//
// Every lock holder finishes with the same loop:
//
//  1. Queue entries older than the stale threshold are evicted.
//  2. The head of the queue is dequeued and its source is run.
//  3. The lock is released only if the queue is empty at that instant,
//     otherwise the loop continues.
//
// Step 3 is a single store operation, so a request queued while the drain is
// finishing is picked up by the current holder instead of being stranded.
//
// # Lifecycle
//
//	c := coordinator.New(manager, store, catalog, cfg)
//	if err := c.Recover(ctx); err != nil {
//	    return err
//	}
//	go c.Start(ctx)
//	defer c.Stop()
//
// Recover resets a lock left held by a previous process. Deployments are
// assumed to run a single process per state store.
package coordinator
