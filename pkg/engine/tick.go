// Package engine runs one tick of a search job: route, call the provider,
// accumulate, decide and schedule. It performs no persistence and no
// enqueueing; the caller applies the returned Outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/accumulator"
	"github.com/creatorscout/searchjobs/pkg/jobstate"
	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/router"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/timeout"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// ErrAborted means the tick's context ended before the provider answered.
// Nothing in the returned state should be persisted.
var ErrAborted = errors.New("tick aborted")

// DeadlineMessage is recorded on jobs that hit their wall-clock deadline.
const DeadlineMessage = "search timed out before reaching the target; partial results may exist"

// Outcome is the result of one tick.
type Outcome struct {
	// Job is the next state. Its Version is still the loaded version and
	// serves as the expected version of the conditional write.
	Job *types.Job
	// Batch is the new result batch, nil when nothing was found.
	Batch *types.ResultBatch
	// Continuation is non-nil when another tick must be enqueued.
	Continuation *scheduler.Continuation
	// Provider is the adapter that produced the response.
	Provider string
	// ProviderErr is the classified provider failure, if any.
	ProviderErr error
	// NoOp is set when the loaded job was already terminal.
	NoOp     bool
	Decision jobstate.Decision
}

// Engine composes the tick pipeline.
type Engine struct {
	router    *router.Router
	scheduler *scheduler.Scheduler
	timeouts  *timeout.Manager
	policy    jobstate.Policy
	now       func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithPolicy sets the completion thresholds.
func WithPolicy(p jobstate.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithTimeouts sets the per-adapter call timeouts.
func WithTimeouts(m *timeout.Manager) Option {
	return func(e *Engine) { e.timeouts = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(r *router.Router, s *scheduler.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		router:    r,
		scheduler: s,
		timeouts:  timeout.NewManager(45 * time.Second),
		policy:    jobstate.DefaultPolicy,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Router exposes the routing table for creation-time validation.
func (e *Engine) Router() *router.Router {
	return e.router
}

// Scheduler exposes the continuation policy.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.scheduler
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Tick drives exactly one state-machine step for loaded. loaded is not modified.
func (e *Engine) Tick(ctx context.Context, loaded *types.Job) (*Outcome, error) {
	now := e.now()
	job := loaded.Clone()

	if job.Status.IsTerminal() {
		return &Outcome{Job: job, NoOp: true, Decision: jobstate.Decision{Status: job.Status}}, nil
	}

	if jobstate.Expired(job, now) {
		job.Message = DeadlineMessage
		if err := jobstate.Transition(job, types.StatusTimeout, now); err != nil {
			return nil, err
		}
		return &Outcome{Job: job, Decision: jobstate.Decision{Action: jobstate.ActionFail, Status: types.StatusTimeout}}, nil
	}

	adapters, err := e.router.Route(job)
	if err != nil {
		d := jobstate.Decision{Action: jobstate.ActionFail, Status: types.StatusError, Message: fmt.Sprintf("search failed: %v", err)}
		job.Error = d.Message
		if err := jobstate.Transition(job, types.StatusError, now); err != nil {
			return nil, err
		}
		return &Outcome{Job: job, Decision: d}, nil
	}

	page, used, callErr := e.dispatch(ctx, job, adapters)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	}

	job.RunCount++
	job.Provider = used.Name()
	if job.Status == types.StatusPending {
		if err := jobstate.Transition(job, types.StatusProcessing, now); err != nil {
			return nil, err
		}
	}

	out := &Outcome{Provider: used.Name(), ProviderErr: callErr}
	obs := jobstate.Observation{Err: callErr}
	if callErr == nil {
		acc := accumulator.Accumulate(job, used, page, job.RunCount, now)
		job.ProcessedResults += acc.Added
		out.Batch = acc.Batch
		obs.Added = acc.Added
		obs.HasMore = page.HasMore
		obs.NextCursor = page.NextCursor
	}

	d := jobstate.Decide(job, obs, e.policy)
	switch d.Action {
	case jobstate.ActionFail:
		job.Error = d.Message
	case jobstate.ActionComplete:
		job.Message = d.Message
	case jobstate.ActionContinue:
		job.Cursor = d.Cursor
	}
	if err := jobstate.Transition(job, d.Status, now); err != nil {
		return nil, err
	}

	out.Job = job
	out.Decision = d
	out.Continuation = e.scheduler.Next(job, now)
	return out, nil
}

// dispatch calls the primary adapter and, when it fails hard before the
// job has any results, the fallbacks in order.
func (e *Engine) dispatch(ctx context.Context, job *types.Job, adapters []provider.Adapter) (*provider.Page, provider.Adapter, error) {
	var (
		used    provider.Adapter
		lastErr error
	)
	for i, a := range adapters {
		if i > 0 {
			if job.ProcessedResults > 0 || !provider.IsUnrecoverable(lastErr) {
				break
			}
			log.Info().
				Str("job_id", job.ID).
				Str("from", used.Name()).
				Str("to", a.Name()).
				Err(lastErr).
				Msg("falling back to secondary provider")
		}
		used = a

		req := provider.Request{
			Keywords:       job.Keywords,
			TargetUsername: job.TargetUsername,
			Amount:         job.Remaining(),
		}
		// a cursor only means something to the adapter that issued it
		if job.Provider == "" || job.Provider == a.Name() {
			req.Cursor = job.Cursor
		}

		var page *provider.Page
		err := e.timeouts.Run(ctx, a.Name(), func(cctx context.Context) error {
			p, err := a.Search(cctx, req)
			page = p
			return err
		})
		if err == nil {
			if page == nil {
				page = &provider.Page{}
			}
			return page, a, nil
		}
		lastErr = provider.Classify(a.Name(), err)
	}
	return nil, used, lastErr
}
