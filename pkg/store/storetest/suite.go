// Package storetest is the behavioural suite every store.Store backend must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGetJob", testCreateAndGetJob},
		{"CreateJobTwice", testCreateJobTwice},
		{"CommitAdvancesVersion", testCommitAdvancesVersion},
		{"CommitRejectsStaleVersion", testCommitRejectsStaleVersion},
		{"CommitChargesUsage", testCommitChargesUsage},
		{"ConcurrentCommitsSingleWinner", testConcurrentCommitsSingleWinner},
		{"ListUnfinishedJobs", testListUnfinishedJobs},
		{"ListCampaignJobs", testListCampaignJobs},
		{"MarkCampaignNotifiedOnce", testMarkCampaignNotifiedOnce},
		{"ListPendingCampaigns", testListPendingCampaigns},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewJob builds a pending job with a fresh id.
func NewJob(userID, campaignID string, target int) *types.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &types.Job{
		ID:            uuid.New().String(),
		UserID:        userID,
		CampaignID:    campaignID,
		Platform:      types.PlatformTikTok,
		SearchMode:    types.SearchModeKeyword,
		Keywords:      []string{"yoga"},
		TargetResults: target,
		Status:        types.StatusPending,
		TimeoutAt:     now.Add(time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewBatch builds a batch of n creators for job.
func NewBatch(job *types.Job, run, n int) *types.ResultBatch {
	creators := make([]types.Creator, n)
	for i := range creators {
		creators[i] = types.Creator{Platform: job.Platform, Handle: uuid.New().String()[:8], Source: "test"}
	}
	return &types.ResultBatch{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		RunNumber: run,
		Provider:  "test",
		Creators:  creators,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testCreateAndGetJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := NewJob("user-1", "", 50)
	require.NoError(t, s.CreateJob(ctx, job))
	assert.Equal(t, int64(1), job.Version)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, []string{"yoga"}, got.Keywords)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, job.TimeoutAt.Equal(got.TimeoutAt))
}

func testCreateJobTwice(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := NewJob("user-1", "", 50)
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrAlreadyExists)
}

func testCommitAdvancesVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := NewJob("user-1", "", 50)
	require.NoError(t, s.CreateJob(ctx, job))

	next := job.Clone()
	next.Status = types.StatusProcessing
	next.RunCount = 1
	next.ProcessedResults = 30
	next.Cursor = "c1"
	batch := NewBatch(job, 1, 30)

	stored, err := s.Commit(ctx, store.Commit{Job: next, Batch: batch})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 30, got.ProcessedResults)
	assert.Equal(t, "c1", got.Cursor)

	batches, err := s.ListResultBatches(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, batch.ID, batches[0].ID)
	assert.Len(t, batches[0].Creators, 30)
}

func testCommitRejectsStaleVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := NewJob("user-1", "", 50)
	require.NoError(t, s.CreateJob(ctx, job))

	first := job.Clone()
	first.ProcessedResults = 10
	_, err := s.Commit(ctx, store.Commit{Job: first, Batch: NewBatch(job, 1, 10)})
	require.NoError(t, err)

	stale := job.Clone()
	stale.ProcessedResults = 20
	_, err = s.Commit(ctx, store.Commit{Job: stale, Batch: NewBatch(job, 1, 20)})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.ProcessedResults)

	batches, err := s.ListResultBatches(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, batches, 1)

	usage, err := s.GetUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.ResultsCounted)
}

func testCommitChargesUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	usage, err := s.GetUsage(ctx, "user-2")
	require.NoError(t, err)
	assert.Zero(t, usage.ResultsCounted)

	job := NewJob("user-2", "", 100)
	require.NoError(t, s.CreateJob(ctx, job))

	cur := job
	for run, n := range []int{7, 0, 5} {
		next := cur.Clone()
		next.RunCount = run + 1
		next.ProcessedResults += n
		var batch *types.ResultBatch
		if n > 0 {
			batch = NewBatch(job, run+1, n)
		}
		cur, err = s.Commit(ctx, store.Commit{Job: next, Batch: batch})
		require.NoError(t, err)
	}

	usage, err = s.GetUsage(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(12), usage.ResultsCounted)
	assert.Equal(t, int64(2), usage.BatchesCounted)

	batches, err := s.ListResultBatches(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 1, batches[0].RunNumber)
	assert.Equal(t, 3, batches[1].RunNumber)
}

// Two ticks load the same job at processedResults=40 and each adds 20.
// Exactly one write lands.
func testConcurrentCommitsSingleWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := NewJob("user-3", "", 100)
	job.Status = types.StatusProcessing
	job.ProcessedResults = 40
	require.NoError(t, s.CreateJob(ctx, job))

	loaded, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)

	const writers = 2
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(run int) {
			defer wg.Done()
			next := loaded.Clone()
			next.ProcessedResults += 20
			next.RunCount++
			_, err := s.Commit(ctx, store.Commit{Job: next, Batch: NewBatch(loaded, next.RunCount, 20)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, store.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.ProcessedResults)

	batches, err := s.ListResultBatches(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, batches, 1)

	usage, err := s.GetUsage(ctx, "user-3")
	require.NoError(t, err)
	assert.Equal(t, int64(20), usage.ResultsCounted)
}

func testListUnfinishedJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	statuses := []types.Status{types.StatusPending, types.StatusProcessing, types.StatusCompleted, types.StatusError, types.StatusTimeout}
	want := map[string]bool{}
	for _, st := range statuses {
		job := NewJob("user-4", "", 10)
		job.Status = st
		require.NoError(t, s.CreateJob(ctx, job))
		if !st.IsTerminal() {
			want[job.ID] = true
		}
	}

	jobs, err := s.ListUnfinishedJobs(ctx)
	require.NoError(t, err)
	got := map[string]bool{}
	for _, j := range jobs {
		got[j.ID] = true
	}
	assert.Equal(t, want, got)
}

func testListCampaignJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	campaign := &types.Campaign{
		ID:            uuid.New().String(),
		UserID:        "user-5",
		Name:          "spring",
		SearchMode:    types.SearchModeKeyword,
		TargetResults: 100,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.CreateCampaign(ctx, campaign))
	assert.ErrorIs(t, s.CreateCampaign(ctx, campaign), store.ErrAlreadyExists)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateJob(ctx, NewJob("user-5", campaign.ID, 10)))
	}
	require.NoError(t, s.CreateJob(ctx, NewJob("user-5", "", 10)))

	jobs, err := s.ListCampaignJobs(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
	for _, j := range jobs {
		assert.Equal(t, campaign.ID, j.CampaignID)
	}

	got, err := s.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, "spring", got.Name)
	assert.False(t, got.Notified)
}

func testMarkCampaignNotifiedOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	campaign := &types.Campaign{ID: uuid.New().String(), UserID: "user-6", Name: "once", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateCampaign(ctx, campaign))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		flipped int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkCampaignNotified(ctx, campaign.ID, time.Now().UTC())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				flipped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, flipped)

	got, err := s.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified)
	assert.NotNil(t, got.NotifiedAt)

	ok, err := s.MarkCampaignNotified(ctx, campaign.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testListPendingCampaigns(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 3; i++ {
		c := &types.Campaign{
			ID:         uuid.New().String(),
			UserID:     "user-7",
			Name:       "pending",
			SearchMode: types.SearchModeSimilar,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateCampaign(ctx, c))
		ids = append(ids, c.ID)
	}
	ok, err := s.MarkCampaignNotified(ctx, ids[1], base)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := s.ListPendingCampaigns(ctx)
	require.NoError(t, err)
	var got []string
	for _, c := range pending {
		assert.False(t, c.Notified)
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{ids[0], ids[2]}, got)
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetCampaign(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.MarkCampaignNotified(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Commit(ctx, store.Commit{Job: NewJob("u", "", 1)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
