package roomscore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDeduplicatorOwnerAndJoiners(t *testing.T) {
	d := NewDeduplicator()

	call1, owner1 := d.GetOrCreate("k")
	if !owner1 {
		t.Fatal("first caller must own the call")
	}
	call2, owner2 := d.GetOrCreate("k")
	if owner2 {
		t.Fatal("second caller must join, not own")
	}
	if call1 != call2 {
		t.Fatal("joined caller must share the owner's pending call")
	}
	if d.Pending() != 1 {
		t.Errorf("expected 1 pending key, got %d", d.Pending())
	}
}

func TestDeduplicatorSharedResolution(t *testing.T) {
	d := NewDeduplicator()
	call, _ := d.GetOrCreate("k")

	const joiners = 5
	results := make(chan *Response, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		d.GetOrCreate("k")
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := call.Wait(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- resp
		}()
	}

	want := &Response{StatusCode: 200, Body: []byte("shared")}
	d.Complete("k", want, nil)
	wg.Wait()
	close(results)

	for resp := range results {
		if resp != want {
			t.Error("all joined callers must observe the identical response")
		}
	}
}

func TestDeduplicatorSharedFailure(t *testing.T) {
	d := NewDeduplicator()
	call, _ := d.GetOrCreate("k")
	d.GetOrCreate("k")

	boom := errors.New("boom")
	d.Complete("k", nil, boom)

	_, err := call.Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("joined caller must receive the shared failure, got %v", err)
	}
}

func TestDeduplicatorNoJoinAfterSettlement(t *testing.T) {
	d := NewDeduplicator()
	d.GetOrCreate("k")
	d.Complete("k", &Response{StatusCode: 200}, nil)

	_, owner := d.GetOrCreate("k")
	if !owner {
		t.Error("a caller arriving after settlement must start a new call")
	}
}

func TestDeduplicatorWaitCancellation(t *testing.T) {
	d := NewDeduplicator()
	call, _ := d.GetOrCreate("k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation, got %v", err)
	}

	// The shared call is unaffected by an abandoned wrapper.
	done := make(chan struct{})
	go func() {
		resp, err := call.Wait(context.Background())
		if err != nil || resp.StatusCode != 200 {
			t.Errorf("surviving waiter got %v, %v", resp, err)
		}
		close(done)
	}()
	d.Complete("k", &Response{StatusCode: 200}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("surviving waiter never resolved")
	}
}

func TestDeduplicatorCompleteUnknownKey(t *testing.T) {
	d := NewDeduplicator()
	// Must not panic.
	d.Complete("missing", nil, nil)
}
