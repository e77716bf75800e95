// Package notify decouples write handlers from streaming sessions: writers
// signal "something changed" on a channel, and each connected session owns a
// private handle it can wait on for the next change.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type Channel string

const (
	ChannelHeadcount    Channel = "headcount"
	ChannelAnnouncement Channel = "announcement"
)

// Handle is a single session's resettable wait signal. The buffered-1 channel
// keeps a notify "sticky" until the owning session observes it, and receiving
// doubles as the reset, so the same handle can be awaited again for the next
// change. A handle is never shared between sessions.
type Handle struct {
	ch chan struct{}
}

func newHandle() *Handle {
	return &Handle{ch: make(chan struct{}, 1)}
}

// Signal exposes the underlying channel so a session can race several
// handles (and its own cancellation) in a single select. Receiving from it
// consumes the pending signal.
func (h *Handle) Signal() <-chan struct{} {
	return h.ch
}

// Wait blocks until the handle is signalled, the timeout elapses, or ctx is
// cancelled. It returns true only when a signal was consumed; timeout and
// cancellation leave the handle untouched.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// set marks the handle signalled. Setting an already-signalled handle is a
// no-op: the pending signal already covers the newer change.
func (h *Handle) set() {
	select {
	case h.ch <- struct{}{}:
	default:
	}
}

// Hub fans change notifications out to every registered handle on a channel.
// One hub is constructed at server startup and injected into the write
// handlers and the stream endpoint.
type Hub struct {
	mu      sync.Mutex
	handles map[Channel]map[*Handle]struct{}

	lastChange         time.Time
	latestAnnouncement json.RawMessage
}

func NewHub() *Hub {
	return &Hub{
		handles: map[Channel]map[*Handle]struct{}{
			ChannelHeadcount:    {},
			ChannelAnnouncement: {},
		},
	}
}

// Register creates a new handle and adds it to the channel's active set.
// Handles registered after a notify do not observe that notify.
func (hub *Hub) Register(ch Channel) *Handle {
	h := newHandle()
	hub.mu.Lock()
	defer hub.mu.Unlock()
	set, ok := hub.handles[ch]
	if !ok {
		set = make(map[*Handle]struct{})
		hub.handles[ch] = set
	}
	set[h] = struct{}{}
	return h
}

// Unregister removes the handle from the channel's active set. It is
// idempotent: removing an absent or never-registered handle is a no-op.
func (hub *Hub) Unregister(ch Channel, h *Handle) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if set, ok := hub.handles[ch]; ok {
		delete(set, h)
	}
}

// Listeners returns the number of handles currently registered on a channel.
func (hub *Hub) Listeners(ch Channel) int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.handles[ch])
}

// NotifyHeadcount records a new last-changed timestamp and wakes every
// session currently registered on the headcount channel. Safe to call from
// any number of concurrent write handlers; never blocks.
func (hub *Hub) NotifyHeadcount() {
	hub.mu.Lock()
	hub.lastChange = time.Now().UTC()
	targets := collect(hub.handles[ChannelHeadcount])
	hub.mu.Unlock()

	for _, h := range targets {
		h.set()
	}
}

// NotifyAnnouncement stores payload as the latest announcement and wakes
// every session registered on the announcement channel.
func (hub *Hub) NotifyAnnouncement(payload json.RawMessage) {
	hub.mu.Lock()
	hub.latestAnnouncement = payload
	targets := collect(hub.handles[ChannelAnnouncement])
	hub.mu.Unlock()

	for _, h := range targets {
		h.set()
	}
}

// LastChange returns the time of the most recent headcount notify, zero if
// none has happened yet. Advisory display data, last writer wins.
func (hub *Hub) LastChange() time.Time {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return hub.lastChange
}

// LatestAnnouncement returns the most recently published announcement
// payload, nil if none. Lets a freshly connected client fetch the current
// announcement without waiting for the next notify.
func (hub *Hub) LatestAnnouncement() json.RawMessage {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return hub.latestAnnouncement
}

// collect snapshots the handle set under the hub lock so notify can set the
// handles without holding it while sessions register and unregister.
func collect(set map[*Handle]struct{}) []*Handle {
	targets := make([]*Handle, 0, len(set))
	for h := range set {
		targets = append(targets, h)
	}
	return targets
}
