// Package worker drives one tick per inbound queue delivery and applies the
// outcome: conditional commit, continuation publish and completion events.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/engine"
	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/jobstate"
	"github.com/creatorscout/searchjobs/pkg/queue"
	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Result is the body returned to the queue for every handled delivery.
type Result struct {
	JobID            string       `json:"jobId"`
	Status           types.Status `json:"status"`
	ProcessedResults int          `json:"processedResults"`
	TargetResults    int          `json:"targetResults"`
	Progress         float64      `json:"progress"`
	// NoOp is set when the delivery changed nothing.
	NoOp bool `json:"noop,omitempty"`
}

func resultOf(job *types.Job, noop bool) *Result {
	return &Result{
		JobID:            job.ID,
		Status:           job.Status,
		ProcessedResults: job.ProcessedResults,
		TargetResults:    job.TargetResults,
		Progress:         jobstate.Progress(job),
		NoOp:             noop,
	}
}

// Worker is the inbound task handler.
type Worker struct {
	store     store.Store
	engine    *engine.Engine
	publisher queue.Publisher
	bus       event.Bus
	verifier  queue.Verifier
	transport queue.Transport
	now       func() time.Time
}

// Option configures the Worker.
type Option func(*Worker)

// WithVerifier sets the delivery authenticity check. Defaults to none.
func WithVerifier(v queue.Verifier) Option {
	return func(w *Worker) { w.verifier = v }
}

// WithTransport selects the body format Handle decodes.
func WithTransport(t queue.Transport) Option {
	return func(w *Worker) { w.transport = t }
}

// WithClock overrides the time source used for early-delivery checks.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func New(s store.Store, e *engine.Engine, p queue.Publisher, bus event.Bus, opts ...Option) *Worker {
	w := &Worker{
		store:     s,
		engine:    e,
		publisher: p,
		bus:       bus,
		verifier:  queue.NoopVerifier{},
		transport: queue.TransportLocal,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Deliver adapts Process to queue.DeliverFunc.
func (w *Worker) Deliver(ctx context.Context, d queue.Delivery) error {
	_, err := w.Process(ctx, d)
	return err
}

// TickJob runs one tick for jobID outside of any queue delivery.
func (w *Worker) TickJob(ctx context.Context, jobID string) (*Result, error) {
	return w.Process(ctx, queue.Delivery{JobID: jobID, RunCount: -1})
}

// Process loads the job named by d and drives at most one tick.
func (w *Worker) Process(ctx context.Context, d queue.Delivery) (*Result, error) {
	job, err := w.store.GetJob(ctx, d.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Wrap(err, apperrors.ErrJobNotFound, "job not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "load job")
	}

	if job.Status.IsTerminal() {
		log.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("delivery for finished job")
		if job.CampaignID != "" && w.bus != nil {
			_ = w.bus.Publish(ctx, event.Event{Type: event.EventJobRedelivered, Payload: event.NewJobEvent(job)})
		}
		return resultOf(job, true), nil
	}

	// a continuation issued before the job's latest run has been superseded
	if d.RunCount >= 0 && d.RunCount < job.RunCount {
		log.Info().
			Str("job_id", job.ID).
			Int("delivery_run", d.RunCount).
			Int("job_run", job.RunCount).
			Msg("stale delivery ignored")
		return resultOf(job, true), nil
	}

	if now := w.now(); !d.NotBefore.IsZero() && now.Before(d.NotBefore) {
		wait := d.NotBefore.Sub(now)
		return nil, apperrors.Newf(apperrors.ErrTooEarly, "job %s not due for %s", job.ID, wait.Round(time.Millisecond)).
			WithRetryAfter(wait)
	}

	return w.tick(ctx, job)
}

func (w *Worker) tick(ctx context.Context, job *types.Job) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("tick panicked")
			res, err = w.fail(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	out, err := w.engine.Tick(ctx, job)
	if err != nil {
		if errors.Is(err, engine.ErrAborted) {
			return nil, apperrors.Wrap(err, apperrors.ErrServiceUnavailable, "tick aborted")
		}
		log.Error().Err(err).Str("job_id", job.ID).Msg("tick failed")
		return w.fail(ctx, job, err.Error())
	}
	if out.NoOp {
		return resultOf(out.Job, true), nil
	}

	if out.ProviderErr != nil {
		log.Warn().Err(out.ProviderErr).Str("job_id", job.ID).Str("provider", out.Provider).Msg("provider call failed")
	}

	stored, err := w.store.Commit(ctx, store.Commit{Job: out.Job, Batch: out.Batch})
	if errors.Is(err, store.ErrConflict) {
		return w.lostRace(ctx, job)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "commit tick")
	}

	var delay time.Duration
	if out.Continuation != nil {
		delay = out.Continuation.Delay
	}
	log.Info().
		Str("job_id", stored.ID).
		Str("provider", out.Provider).
		Int("run_count", stored.RunCount).
		Str("status", string(stored.Status)).
		Int("processed", stored.ProcessedResults).
		Int("target", stored.TargetResults).
		Int("added", out.Batch.Len()).
		Dur("delay", delay).
		Msg("tick")

	w.afterCommit(ctx, stored, out.Continuation != nil)
	if out.Continuation != nil {
		if err := w.publisher.Publish(ctx, *out.Continuation); err != nil {
			log.Error().Err(err).Str("job_id", stored.ID).Int("run_count", stored.RunCount).Msg("continuation publish failed")
		}
	}
	return resultOf(stored, false), nil
}

// fail persists status=error for a tick that could not complete normally.
func (w *Worker) fail(ctx context.Context, job *types.Job, msg string) (*Result, error) {
	next := job.Clone()
	next.Error = msg
	if err := jobstate.Transition(next, types.StatusError, w.now()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalError, "mark job failed")
	}

	stored, err := w.store.Commit(ctx, store.Commit{Job: next})
	if errors.Is(err, store.ErrConflict) {
		return w.lostRace(ctx, job)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "persist job failure")
	}

	log.Warn().Str("job_id", stored.ID).Str("error", msg).Msg("job failed")
	w.afterCommit(ctx, stored, false)
	return resultOf(stored, false), nil
}

// lostRace answers with the state written by the concurrent tick that won.
func (w *Worker) lostRace(ctx context.Context, job *types.Job) (*Result, error) {
	winner, err := w.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "reload job after conflict")
	}
	log.Info().
		Str("job_id", job.ID).
		Int64("loaded_version", job.Version).
		Int64("stored_version", winner.Version).
		Msg("concurrent tick won, discarding this tick")
	return resultOf(winner, true), nil
}

func (w *Worker) afterCommit(ctx context.Context, job *types.Job, continuing bool) {
	if w.bus == nil {
		return
	}
	typ := event.EventJobProgress
	if job.Status.IsTerminal() {
		typ = event.EventJobFinished
	} else if !continuing {
		return
	}
	_ = w.bus.Publish(ctx, event.Event{Type: typ, Timestamp: job.UpdatedAt, Payload: event.NewJobEvent(job)})
}
