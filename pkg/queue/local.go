package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/scheduler"
)

// DeliverFunc processes one delivery in process.
type DeliverFunc func(ctx context.Context, d Delivery) error

// LocalPublisher delivers continuations to an in-process handler after their
// delay. Pending timers are lost on restart; the sweeper picks those jobs up.
type LocalPublisher struct {
	mu      sync.Mutex
	deliver DeliverFunc
	timers  map[*time.Timer]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewLocalPublisher() *LocalPublisher {
	return &LocalPublisher{timers: make(map[*time.Timer]struct{})}
}

// Bind sets the handler. Deliveries before Bind are dropped.
func (p *LocalPublisher) Bind(fn DeliverFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliver = fn
}

func (p *LocalPublisher) Publish(ctx context.Context, c scheduler.Continuation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	d := Delivery{JobID: c.JobID, RunCount: c.RunCount}
	p.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(c.Delay, func() {
		defer p.wg.Done()
		p.mu.Lock()
		delete(p.timers, t)
		fn := p.deliver
		p.mu.Unlock()

		if fn == nil {
			log.Warn().Str("job_id", d.JobID).Msg("local delivery dropped, no handler bound")
			return
		}
		if err := fn(context.Background(), d); err != nil {
			log.Error().Err(err).Str("job_id", d.JobID).Int("run_count", d.RunCount).Msg("local delivery failed")
		}
	})
	p.timers[t] = struct{}{}
	return nil
}

// Pending returns the number of scheduled deliveries.
func (p *LocalPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Close cancels pending timers and waits for running deliveries.
func (p *LocalPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	for t := range p.timers {
		if t.Stop() {
			p.wg.Done()
		}
		delete(p.timers, t)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
