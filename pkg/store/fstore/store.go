// Package fstore is the Store backend for deployments that keep job state
// in Cloud Firestore.
package fstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/types"
)

const (
	jobsCollection      = "scraping_jobs"
	resultsCollection   = "scraping_results"
	campaignsCollection = "campaigns"
	usageCollection     = "usage_counters"
)

// Store implements store.Store on Firestore transactions.
type Store struct {
	client *firestore.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithCollectionPrefix namespaces every collection name.
func WithCollectionPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New wraps a Firestore client. The client's lifetime belongs to the caller.
func New(client *firestore.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) col(name string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + name)
}

func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	if job.Version == 0 {
		job.Version = 1
	}
	if _, err := s.col(jobsCollection).Doc(job.ID).Create(ctx, job); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	snap, err := s.col(jobsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job types.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *Store) ListCampaignJobs(ctx context.Context, campaignID string) ([]*types.Job, error) {
	return s.queryJobs(ctx, s.col(jobsCollection).Where("campaignId", "==", campaignID))
}

func (s *Store) ListUnfinishedJobs(ctx context.Context) ([]*types.Job, error) {
	return s.queryJobs(ctx, s.col(jobsCollection).Where("status", "in", []string{
		string(types.StatusPending),
		string(types.StatusProcessing),
	}))
}

func (s *Store) queryJobs(ctx context.Context, q firestore.Query) ([]*types.Job, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	jobs := make([]*types.Job, 0, len(snaps))
	for _, snap := range snaps {
		var job types.Job
		if err := snap.DataTo(&job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", snap.Ref.ID, err)
		}
		jobs = append(jobs, &job)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *Store) ListResultBatches(ctx context.Context, jobID string) ([]*types.ResultBatch, error) {
	snaps, err := s.col(resultsCollection).Where("jobId", "==", jobID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query result batches: %w", err)
	}
	batches := make([]*types.ResultBatch, 0, len(snaps))
	for _, snap := range snaps {
		var b types.ResultBatch
		if err := snap.DataTo(&b); err != nil {
			return nil, fmt.Errorf("decode batch %s: %w", snap.Ref.ID, err)
		}
		batches = append(batches, &b)
	}
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].RunNumber != batches[j].RunNumber {
			return batches[i].RunNumber < batches[j].RunNumber
		}
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
	return batches, nil
}

func (s *Store) Commit(ctx context.Context, c store.Commit) (*types.Job, error) {
	if c.Job == nil {
		return nil, errors.New("commit without job")
	}
	next := store.NextVersion(c.Job)
	jobRef := s.col(jobsCollection).Doc(next.ID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(jobRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("job %s: %w", next.ID, store.ErrNotFound)
			}
			return err
		}
		var current types.Job
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode job %s: %w", next.ID, err)
		}
		if current.Version != c.Job.Version {
			return fmt.Errorf("job %s at version %d, expected %d: %w", next.ID, current.Version, c.Job.Version, store.ErrConflict)
		}
		if err := tx.Set(jobRef, next); err != nil {
			return err
		}

		if c.Batch.Len() == 0 {
			return nil
		}
		if err := tx.Create(s.col(resultsCollection).Doc(c.Batch.ID), c.Batch); err != nil {
			return err
		}
		return tx.Set(s.col(usageCollection).Doc(next.UserID), map[string]any{
			"userId":         next.UserID,
			"resultsCounted": firestore.Increment(c.Batch.Len()),
			"batchesCounted": firestore.Increment(1),
			"updatedAt":      next.UpdatedAt,
		}, firestore.MergeAll)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, fmt.Errorf("batch %s: %w", c.Batch.ID, store.ErrAlreadyExists)
		}
		return nil, err
	}
	return next, nil
}

func (s *Store) CreateCampaign(ctx context.Context, campaign *types.Campaign) error {
	if _, err := s.col(campaignsCollection).Doc(campaign.ID).Create(ctx, campaign); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("campaign %s: %w", campaign.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*types.Campaign, error) {
	snap, err := s.col(campaignsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	var campaign types.Campaign
	if err := snap.DataTo(&campaign); err != nil {
		return nil, fmt.Errorf("decode campaign %s: %w", id, err)
	}
	return &campaign, nil
}

func (s *Store) ListPendingCampaigns(ctx context.Context) ([]*types.Campaign, error) {
	snaps, err := s.col(campaignsCollection).Where("notified", "==", false).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query pending campaigns: %w", err)
	}
	campaigns := make([]*types.Campaign, 0, len(snaps))
	for _, snap := range snaps {
		var campaign types.Campaign
		if err := snap.DataTo(&campaign); err != nil {
			return nil, fmt.Errorf("decode campaign %s: %w", snap.Ref.ID, err)
		}
		campaigns = append(campaigns, &campaign)
	}
	sort.SliceStable(campaigns, func(i, j int) bool { return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt) })
	return campaigns, nil
}

func (s *Store) MarkCampaignNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	ref := s.col(campaignsCollection).Doc(id)
	var flipped bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		flipped = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
			}
			return err
		}
		notified, err := snap.DataAt("notified")
		if err != nil {
			return err
		}
		if done, _ := notified.(bool); done {
			return nil
		}
		flipped = true
		return tx.Update(ref, []firestore.Update{
			{Path: "notified", Value: true},
			{Path: "notifiedAt", Value: at},
		})
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}

func (s *Store) GetUsage(ctx context.Context, userID string) (*types.Usage, error) {
	snap, err := s.col(usageCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &types.Usage{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get usage: %w", err)
	}
	var usage types.Usage
	if err := snap.DataTo(&usage); err != nil {
		return nil, fmt.Errorf("decode usage %s: %w", userID, err)
	}
	return &usage, nil
}
