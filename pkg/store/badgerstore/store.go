// Package badgerstore is the embedded Store backend used for local runs and tests.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
	"github.com/timshannon/badgerhold/v4"

	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Config controls where the database lives.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
}

// Store implements store.Store on badgerhold.
type Store struct {
	db *badgerhold.Store
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	options := badgerhold.DefaultOptions
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal
	options.Logger = nil

	if cfg.InMemory {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		options.Dir = cfg.Path
		options.ValueDir = cfg.Path
	}

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	log.Debug().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("badger store opened")
	return &Store{db: db}, nil
}

// OpenInMemory is shorthand for a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	if job.Version == 0 {
		job.Version = 1
	}
	if err := s.db.Insert(job.ID, job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	if err := s.db.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *Store) ListCampaignJobs(ctx context.Context, campaignID string) ([]*types.Job, error) {
	var jobs []types.Job
	if err := s.db.Find(&jobs, badgerhold.Where("CampaignID").Eq(campaignID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list campaign jobs: %w", err)
	}
	return jobPointers(jobs), nil
}

func (s *Store) ListUnfinishedJobs(ctx context.Context) ([]*types.Job, error) {
	var jobs []types.Job
	query := badgerhold.Where("Status").In(types.StatusPending, types.StatusProcessing).SortBy("CreatedAt")
	if err := s.db.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	return jobPointers(jobs), nil
}

func (s *Store) ListResultBatches(ctx context.Context, jobID string) ([]*types.ResultBatch, error) {
	var batches []types.ResultBatch
	if err := s.db.Find(&batches, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to list result batches: %w", err)
	}
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].RunNumber != batches[j].RunNumber {
			return batches[i].RunNumber < batches[j].RunNumber
		}
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
	out := make([]*types.ResultBatch, len(batches))
	for i := range batches {
		out[i] = &batches[i]
	}
	return out, nil
}

// Commit runs inside one badger transaction. Badger's own conflict
// detection also rejects a concurrent transaction that read the same job.
func (s *Store) Commit(ctx context.Context, c store.Commit) (*types.Job, error) {
	if c.Job == nil {
		return nil, errors.New("commit without job")
	}
	next := store.NextVersion(c.Job)

	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		var current types.Job
		if err := s.db.TxGet(tx, next.ID, &current); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", next.ID, store.ErrNotFound)
			}
			return err
		}
		if current.Version != c.Job.Version {
			return fmt.Errorf("job %s at version %d, expected %d: %w", next.ID, current.Version, c.Job.Version, store.ErrConflict)
		}
		if err := s.db.TxUpdate(tx, next.ID, next); err != nil {
			return err
		}

		if c.Batch.Len() == 0 {
			return nil
		}
		if err := s.db.TxInsert(tx, c.Batch.ID, c.Batch); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return fmt.Errorf("batch %s: %w", c.Batch.ID, store.ErrAlreadyExists)
			}
			return err
		}

		var usage types.Usage
		if err := s.db.TxGet(tx, next.UserID, &usage); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		usage.UserID = next.UserID
		usage.ResultsCounted += int64(c.Batch.Len())
		usage.BatchesCounted++
		usage.UpdatedAt = next.UpdatedAt
		return s.db.TxUpsert(tx, usage.UserID, &usage)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, fmt.Errorf("job %s: %w", next.ID, store.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) CreateCampaign(ctx context.Context, campaign *types.Campaign) error {
	if err := s.db.Insert(campaign.ID, campaign); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("campaign %s: %w", campaign.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*types.Campaign, error) {
	var campaign types.Campaign
	if err := s.db.Get(id, &campaign); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (s *Store) ListPendingCampaigns(ctx context.Context) ([]*types.Campaign, error) {
	var campaigns []types.Campaign
	if err := s.db.Find(&campaigns, nil); err != nil {
		return nil, fmt.Errorf("failed to list pending campaigns: %w", err)
	}
	var out []*types.Campaign
	for i := range campaigns {
		if !campaigns[i].Notified {
			out = append(out, &campaigns[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkCampaignNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	flipped := false
	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		var campaign types.Campaign
		if err := s.db.TxGet(tx, id, &campaign); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
			}
			return err
		}
		if campaign.Notified {
			return nil
		}
		campaign.Notified = true
		campaign.NotifiedAt = &at
		flipped = true
		return s.db.TxUpdate(tx, id, &campaign)
	})
	if errors.Is(err, badger.ErrConflict) {
		// the concurrent writer flipped it
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flipped, nil
}

func (s *Store) GetUsage(ctx context.Context, userID string) (*types.Usage, error) {
	var usage types.Usage
	if err := s.db.Get(userID, &usage); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &types.Usage{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return &usage, nil
}

func jobPointers(jobs []types.Job) []*types.Job {
	out := make([]*types.Job, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out
}
