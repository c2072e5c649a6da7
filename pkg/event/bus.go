// Package event is the in-process publish/subscribe bus that links the
// worker to the completion watcher.
package event

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Handler func(ctx context.Context, e Event) error

type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(t EventType, h Handler) (unsubscribe func())
}

// NewBus returns a synchronous bus. Handlers run on the publishing goroutine
// in subscription order, and a failing handler does not stop the others.
func NewBus() Bus {
	return &syncBus{handlers: make(map[EventType][]*Handler)}
}

type syncBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*Handler
}

// Publish always returns nil; handler failures are logged.
func (b *syncBus) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	hs := slices.Clone(b.handlers[e.Type])
	b.mu.RUnlock()

	for _, h := range hs {
		if err := call(ctx, *h, e); err != nil {
			entry := log.Error().Err(err).Str("event", string(e.Type))
			if je, ok := e.Payload.(JobEvent); ok {
				entry = entry.Str("job_id", je.JobID).Str("campaign_id", je.CampaignID)
			}
			entry.Msg("event handler failed")
		}
	}
	return nil
}

func call(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// Subscribe registers h for t. The returned func is safe to call twice.
func (b *syncBus) Subscribe(t EventType, h Handler) func() {
	ref := &h
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], ref)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if i := slices.Index(b.handlers[t], ref); i >= 0 {
			b.handlers[t] = slices.Delete(b.handlers[t], i, i+1)
		}
	}
}
