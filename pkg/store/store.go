// Package store defines persistence for jobs, result batches, campaigns and
// usage counters. Every backend implements Commit as a single conditional
// write guarded by the job's version.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/creatorscout/searchjobs/pkg/types"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional write lost against a
	// concurrent writer.
	ErrConflict = errors.New("version conflict")

	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// Commit is the atomic write that applies one tick.
type Commit struct {
	// Job is the next state. Job.Version must equal the stored version; the
	// store writes Version+1.
	Job *types.Job
	// Batch is appended in the same transaction and charged to the job's
	// user. Optional.
	Batch *types.ResultBatch
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// CreateJob inserts a new job with version 1.
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListCampaignJobs(ctx context.Context, campaignID string) ([]*types.Job, error)
	// ListUnfinishedJobs returns every pending or processing job.
	ListUnfinishedJobs(ctx context.Context) ([]*types.Job, error)
	// ListResultBatches returns a job's batches ordered by run number.
	ListResultBatches(ctx context.Context, jobID string) ([]*types.ResultBatch, error)
	// Commit applies c atomically and returns the stored job. It returns
	// ErrConflict when the stored version differs from c.Job.Version.
	Commit(ctx context.Context, c Commit) (*types.Job, error)

	CreateCampaign(ctx context.Context, campaign *types.Campaign) error
	GetCampaign(ctx context.Context, id string) (*types.Campaign, error)
	// ListPendingCampaigns returns campaigns whose notification has not been
	// sent, oldest first.
	ListPendingCampaigns(ctx context.Context) ([]*types.Campaign, error)
	// MarkCampaignNotified flips the notified flag once. It reports true only
	// to the caller that performed the flip.
	MarkCampaignNotified(ctx context.Context, id string, at time.Time) (bool, error)

	// GetUsage returns the user's counters, zero-valued when none exist.
	GetUsage(ctx context.Context, userID string) (*types.Usage, error)

	Close() error
}

// NextVersion returns the job as it will be stored by a successful Commit.
func NextVersion(job *types.Job) *types.Job {
	next := job.Clone()
	next.Version = job.Version + 1
	return next
}
