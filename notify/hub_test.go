package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNotifyWakesEveryRegisteredHandle(t *testing.T) {
	hub := NewHub()

	const n = 50
	handles := make([]*Handle, n)
	for i := range handles {
		handles[i] = hub.Register(ChannelHeadcount)
	}

	var wg sync.WaitGroup
	results := make([]bool, n)
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h *Handle) {
			defer wg.Done()
			results[i] = h.Wait(context.Background(), 2*time.Second)
		}(i, h)
	}

	hub.NotifyHeadcount()
	wg.Wait()

	for i, got := range results {
		if !got {
			t.Errorf("handle %d missed the notify", i)
		}
	}

	// Exactly once: a second wait on any handle must time out until the next
	// notify.
	if handles[0].Wait(context.Background(), 50*time.Millisecond) {
		t.Error("handle observed the same notify twice")
	}
}

func TestNoReplayForLateRegistration(t *testing.T) {
	hub := NewHub()
	hub.NotifyHeadcount()

	late := hub.Register(ChannelHeadcount)
	if late.Wait(context.Background(), 50*time.Millisecond) {
		t.Error("handle registered after notify observed it as a signal")
	}

	hub.NotifyHeadcount()
	if !late.Wait(context.Background(), time.Second) {
		t.Error("handle missed a notify issued after registration")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()

	h := hub.Register(ChannelHeadcount)
	hub.Unregister(ChannelHeadcount, h)
	hub.Unregister(ChannelHeadcount, h)

	// Never-registered handle.
	hub.Unregister(ChannelAnnouncement, newHandle())

	if got := hub.Listeners(ChannelHeadcount); got != 0 {
		t.Errorf("Listeners = %d, want 0", got)
	}

	// An unregistered handle no longer receives notifies.
	hub.NotifyHeadcount()
	if h.Wait(context.Background(), 50*time.Millisecond) {
		t.Error("unregistered handle was signalled")
	}
}

func TestWaitTimeoutAndImmediateSignal(t *testing.T) {
	hub := NewHub()
	h := hub.Register(ChannelHeadcount)

	start := time.Now()
	if h.Wait(context.Background(), 30*time.Millisecond) {
		t.Fatal("Wait returned true without a notify")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Wait returned before the timeout elapsed (%v)", elapsed)
	}

	// A notify that lands before the wait starts must still be observed: the
	// signalled state persists until consumed.
	hub.NotifyHeadcount()
	if !h.Wait(context.Background(), 30*time.Millisecond) {
		t.Fatal("Wait missed a signal delivered before the wait began")
	}

	// Consuming the signal clears the handle for the next change.
	if h.Wait(context.Background(), 30*time.Millisecond) {
		t.Fatal("handle still signalled after being observed")
	}
	hub.NotifyHeadcount()
	if !h.Wait(context.Background(), time.Second) {
		t.Fatal("handle could not be awaited again after a reset")
	}
}

func TestWaitCancelledByContext(t *testing.T) {
	hub := NewHub()
	h := hub.Register(ChannelHeadcount)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		done <- h.Wait(ctx, 5*time.Second)
	}()

	cancel()
	select {
	case got := <-done:
		if got {
			t.Error("Wait returned true on cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return promptly after cancellation")
	}
}

func TestAnnouncementChannelKeepsLatestPayload(t *testing.T) {
	hub := NewHub()

	if hub.LatestAnnouncement() != nil {
		t.Fatal("fresh hub already has an announcement")
	}

	h := hub.Register(ChannelAnnouncement)
	first := json.RawMessage(`{"title":"first"}`)
	second := json.RawMessage(`{"title":"second"}`)

	hub.NotifyAnnouncement(first)
	hub.NotifyAnnouncement(second)

	if !h.Wait(context.Background(), time.Second) {
		t.Fatal("announcement handle not signalled")
	}
	if got := string(hub.LatestAnnouncement()); got != string(second) {
		t.Errorf("LatestAnnouncement = %s, want %s", got, second)
	}

	// Headcount notifies must not leak onto the announcement channel.
	hub.NotifyHeadcount()
	if h.Wait(context.Background(), 50*time.Millisecond) {
		t.Error("announcement handle woken by a headcount notify")
	}
}

func TestNotifyOnEmptyChannelRecordsState(t *testing.T) {
	hub := NewHub()

	before := hub.LastChange()
	hub.NotifyHeadcount()
	if !hub.LastChange().After(before) {
		t.Error("NotifyHeadcount did not record a new last-change timestamp")
	}
}

func TestConcurrentRegisterNotifyUnregister(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h := hub.Register(ChannelHeadcount)
				h.Wait(context.Background(), time.Millisecond)
				hub.Unregister(ChannelHeadcount, h)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.NotifyHeadcount()
			}
		}()
	}
	wg.Wait()

	if got := hub.Listeners(ChannelHeadcount); got != 0 {
		t.Errorf("Listeners = %d after all sessions left, want 0", got)
	}
}
