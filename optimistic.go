package roomscore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Snapshot is the opaque undo state captured by an optimistic apply.
type Snapshot any

// Outcome is the discriminated result of an optimistic operation. Run never
// panics or returns a bare error: local state has already been restored by
// the time the caller sees a failed Outcome, so the caller only decides how
// to surface the message.
type Outcome struct {
	Success bool
	Data    any
	Err     error
}

// Operation describes one optimistic mutation.
//
// Apply mutates local state synchronously and returns a snapshot sufficient
// to undo itself. Remote performs the server mutation. Rollback restores the
// snapshot; it is invoked at most once, and only if Remote did not succeed.
// OnSuccess, when set, runs with the remote result before Run returns.
type Operation struct {
	ID        string
	Apply     func() Snapshot
	Remote    func(ctx context.Context) (any, error)
	Rollback  func(Snapshot)
	OnSuccess func(any)
}

// Coordinator applies local mutations ahead of their remote confirmation and
// restores prior state when the remote call fails. Snapshots live in a table
// keyed by operation ID: running the same ID again before the first settles
// overwrites the earlier snapshot, so only the most recent one is restorable.
// Callers that need stronger guarantees must serialize use per ID.
type Coordinator struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	metrics   *MetricsCollector
	logger    Logger
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{snapshots: make(map[string]Snapshot)}
}

// Run executes op: Apply synchronously, then Remote on the calling goroutine.
// Use Go for the fire-and-forget form. An empty ID gets a generated one.
func (c *Coordinator) Run(ctx context.Context, op Operation) Outcome {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	snapshot := op.Apply()
	c.put(op.ID, snapshot)

	data, err := op.Remote(ctx)
	if err != nil {
		if snap, ok := c.take(op.ID); ok && op.Rollback != nil {
			op.Rollback(snap)
			if c.metrics != nil {
				c.metrics.RecordOptimisticRollback()
			}
			if c.logger != nil {
				c.logger.Warn("Optimistic mutation rolled back", "opID", op.ID, "error", err.Error())
			}
		}
		return Outcome{Success: false, Err: err}
	}

	c.take(op.ID)
	if op.OnSuccess != nil {
		op.OnSuccess(data)
	}
	return Outcome{Success: true, Data: data}
}

// Go runs op on a new goroutine and delivers the Outcome on the returned
// channel. The local mutation still happens synchronously, before Go returns.
func (c *Coordinator) Go(ctx context.Context, op Operation) <-chan Outcome {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	snapshot := op.Apply()
	c.put(op.ID, snapshot)

	result := make(chan Outcome, 1)
	go func() {
		data, err := op.Remote(ctx)
		if err != nil {
			if snap, ok := c.take(op.ID); ok && op.Rollback != nil {
				op.Rollback(snap)
				if c.metrics != nil {
					c.metrics.RecordOptimisticRollback()
				}
			}
			result <- Outcome{Success: false, Err: err}
			return
		}
		c.take(op.ID)
		if op.OnSuccess != nil {
			op.OnSuccess(data)
		}
		result <- Outcome{Success: true, Data: data}
	}()
	return result
}

// PendingOps reports how many snapshots are currently held.
func (c *Coordinator) PendingOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

func (c *Coordinator) put(id string, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[id] = snap
}

// take removes and returns the snapshot for id. A false result means another
// operation with the same ID already consumed or overwrote it, in which case
// no rollback happens.
func (c *Coordinator) take(id string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[id]
	if ok {
		delete(c.snapshots, id)
	}
	return snap, ok
}
