package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/simbridge/internal/protocol/schema"
)

// PendingCallbacks tracks the queued API calls of one simulation.
type PendingCallbacks struct {
	Simulation    string
	Calls         []schema.APICallback
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

// CallbackOutbox stores API calls until a server response acknowledges them.
type CallbackOutbox struct {
	mu    sync.RWMutex
	items map[string]PendingCallbacks
}

func NewCallbackOutbox() *CallbackOutbox {
	return &CallbackOutbox{
		items: make(map[string]PendingCallbacks),
	}
}

// Enqueue appends calls for simulation, keeping order.
func (o *CallbackOutbox) Enqueue(simulation string, calls []schema.APICallback, at time.Time) {
	key := strings.TrimSpace(simulation)
	if key == "" || len(calls) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		item = PendingCallbacks{Simulation: key, QueuedAt: at}
	}
	item.Calls = append(item.Calls, calls...)
	o.items[key] = item
}

// Batch snapshots every pending call.
func (o *CallbackOutbox) Batch() schema.APICallbacks {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.items) == 0 {
		return nil
	}
	out := make(schema.APICallbacks, len(o.items))
	for key, item := range o.items {
		out[key] = append([]schema.APICallback(nil), item.Calls...)
	}
	return out
}

// MarkAttempt records one exchange attempt against every pending entry.
func (o *CallbackOutbox) MarkAttempt(at time.Time, lastErr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, item := range o.items {
		item.Attempts++
		item.LastAttemptAt = at
		item.LastError = strings.TrimSpace(lastErr)
		o.items[key] = item
	}
}

// Ack drops the calls of batch. Calls queued after the batch was taken stay
// pending.
func (o *CallbackOutbox) Ack(batch schema.APICallbacks) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, sent := range batch {
		item, ok := o.items[key]
		if !ok {
			continue
		}
		n := min(len(sent), len(item.Calls))
		item.Calls = item.Calls[n:]
		if len(item.Calls) == 0 {
			delete(o.items, key)
			continue
		}
		o.items[key] = item
	}
}

func (o *CallbackOutbox) Get(simulation string) (PendingCallbacks, bool) {
	key := strings.TrimSpace(simulation)
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

// Len counts pending calls.
func (o *CallbackOutbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, item := range o.items {
		n += len(item.Calls)
	}
	return n
}

func (o *CallbackOutbox) List() []PendingCallbacks {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingCallbacks, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Simulation < out[j].Simulation
	})
	return out
}
