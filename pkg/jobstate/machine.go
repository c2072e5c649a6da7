// Package jobstate owns the search job lifecycle: legal transitions,
// the per-tick decision and progress reporting.
package jobstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// ErrIllegalTransition is returned for transitions the lifecycle forbids.
var ErrIllegalTransition = errors.New("illegal job status transition")

// ProgressCap is the highest progress a non-completed job reports.
const ProgressCap = 0.99

var transitions = map[types.Status][]types.Status{
	types.StatusPending: {
		types.StatusProcessing,
		types.StatusError,
		types.StatusTimeout,
	},
	types.StatusProcessing: {
		types.StatusProcessing,
		types.StatusCompleted,
		types.StatusError,
		types.StatusTimeout,
	},
}

// CanTransition reports whether from -> to is legal. Terminal states have no exits.
func CanTransition(from, to types.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves job to status to, maintaining the lifecycle timestamps.
func Transition(job *types.Job, to types.Status, now time.Time) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, to)
	}
	if to == types.StatusProcessing && job.StartedAt == nil {
		t := now
		job.StartedAt = &t
	}
	if to.IsTerminal() && job.CompletedAt == nil {
		t := now
		job.CompletedAt = &t
	}
	job.Status = to
	job.UpdatedAt = now
	return nil
}

// Expired reports whether the job's wall-clock deadline has passed.
func Expired(job *types.Job, now time.Time) bool {
	return !job.TimeoutAt.IsZero() && !now.Before(job.TimeoutAt)
}

// Progress is min(processed/target, 0.99) until the job completes, then 1.
func Progress(job *types.Job) float64 {
	if job.Status == types.StatusCompleted {
		return 1
	}
	if job.TargetResults <= 0 {
		return 0
	}
	p := float64(job.ProcessedResults) / float64(job.TargetResults)
	if p > ProgressCap {
		return ProgressCap
	}
	return p
}

// Policy holds the tunable completion thresholds.
type Policy struct {
	// MaxRuns bounds adapter invocations per job.
	MaxRuns int
	// SufficientFraction of the target completes a job whose provider has no more data.
	SufficientFraction float64
}

// DefaultPolicy mirrors the production thresholds.
var DefaultPolicy = Policy{MaxRuns: 50, SufficientFraction: 0.8}

// Observation is what one adapter invocation produced, after accumulation.
type Observation struct {
	Err        error
	Added      int
	HasMore    bool
	NextCursor string
}

// Action is the outcome class of a tick.
type Action int

const (
	ActionContinue Action = iota
	ActionComplete
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decision is the state machine's verdict for one tick.
type Decision struct {
	Action  Action
	Status  types.Status
	Cursor  string
	Message string
}

// Decide evaluates a processing job whose counters already include this tick.
func Decide(job *types.Job, obs Observation, policy Policy) Decision {
	if obs.Err != nil && !provider.IsRecoverable(obs.Err) {
		return Decision{
			Action:  ActionFail,
			Status:  types.StatusError,
			Cursor:  job.Cursor,
			Message: fmt.Sprintf("search failed: %v", obs.Err),
		}
	}

	if job.ProcessedResults >= job.TargetResults {
		return Decision{Action: ActionComplete, Status: types.StatusCompleted}
	}

	if obs.Err == nil && !obs.HasMore &&
		float64(job.ProcessedResults) >= policy.SufficientFraction*float64(job.TargetResults) {
		return Decision{
			Action: ActionComplete,
			Status: types.StatusCompleted,
			Message: fmt.Sprintf("provider has no more results; found %d of %d",
				job.ProcessedResults, job.TargetResults),
		}
	}

	if policy.MaxRuns > 0 && job.RunCount >= policy.MaxRuns {
		return Decision{
			Action: ActionComplete,
			Status: types.StatusCompleted,
			Message: fmt.Sprintf("stopped after %d runs with %d of %d results",
				job.RunCount, job.ProcessedResults, job.TargetResults),
		}
	}

	// a recoverable error or an exhausted provider starts over from offset zero
	if obs.Err != nil || !obs.HasMore {
		return Decision{Action: ActionContinue, Status: types.StatusProcessing}
	}

	return Decision{Action: ActionContinue, Status: types.StatusProcessing, Cursor: obs.NextCursor}
}
