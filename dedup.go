package roomscore

import (
	"context"
	"sync"
)

// pendingCall is an in-flight read shared between callers. All joined callers
// observe the same resolved response or the same error.
type pendingCall struct {
	mu      sync.Mutex
	resp    *Response
	err     error
	done    chan struct{}
	joiners int
}

// Deduplicator collapses concurrent identical reads onto one network call.
// At most one pendingCall exists per canonical key at any instant.
type Deduplicator struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewDeduplicator returns an empty in-memory deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{pending: make(map[string]*pendingCall)}
}

// GetOrCreate returns the pending call for key. The second return value is
// true when the caller created the entry and therefore owns the network call;
// owners must settle it with Complete.
func (d *Deduplicator) GetOrCreate(key string) (*pendingCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if call, exists := d.pending[key]; exists {
		call.mu.Lock()
		call.joiners++
		call.mu.Unlock()
		return call, false
	}

	call := &pendingCall{done: make(chan struct{})}
	d.pending[key] = call
	return call, true
}

// Complete settles the pending call for key and releases every joined caller.
// The entry is removed from the table before the result becomes observable,
// so a caller arriving after settlement never joins it and starts a new call
// instead.
func (d *Deduplicator) Complete(key string, resp *Response, err error) {
	d.mu.Lock()
	call, exists := d.pending[key]
	if exists {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !exists {
		return
	}

	call.mu.Lock()
	call.resp = resp
	call.err = err
	call.mu.Unlock()
	close(call.done)
}

// Pending reports the number of in-flight keys.
func (d *Deduplicator) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Wait blocks until the owning request settles or ctx is cancelled. A caller
// cancelling its own wait abandons only its wrapper; the shared underlying
// call is unaffected.
func (p *pendingCall) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		resp, err := p.resp, p.err
		p.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
