package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/router"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/store/badgerstore"
	"github.com/creatorscout/searchjobs/pkg/types"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu  sync.Mutex
	got []scheduler.Continuation
}

func (p *recordingPublisher) Publish(ctx context.Context, c scheduler.Continuation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, c)
	return nil
}

func newService(t *testing.T) (*Service, store.Store, *recordingPublisher, event.Bus) {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	pub := &recordingPublisher{}
	bus := event.NewBus()
	svc := NewService(s, router.New(provider.NewRegistry()), pub, bus, Limits{MaxTarget: 1000, JobTimeout: time.Hour}).
		WithClock(func() time.Time { return epoch })
	return svc, s, pub, bus
}

func TestSubmitJob(t *testing.T) {
	svc, s, pub, bus := newService(t)
	ctx := context.Background()

	var created []event.JobEvent
	bus.Subscribe(event.EventJobCreated, func(ctx context.Context, ev event.Event) error {
		created = append(created, ev.Payload.(event.JobEvent))
		return nil
	})

	job, err := svc.SubmitJob(ctx, "user-1", JobRequest{
		Platform:      "tiktok",
		SearchMode:    "keyword",
		Keywords:      []string{" yoga ", "", "pilates"},
		TargetResults: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusPending, job.Status)
	assert.Equal(t, []string{"yoga", "pilates"}, job.Keywords)
	assert.Equal(t, epoch.Add(time.Hour), job.TimeoutAt)
	assert.Equal(t, int64(1), job.Version)

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, 100, stored.TargetResults)

	require.Len(t, pub.got, 1)
	assert.Equal(t, job.ID, pub.got[0].JobID)
	assert.Equal(t, 0, pub.got[0].RunCount)
	assert.Zero(t, pub.got[0].Delay)
	require.Len(t, created, 1)
	assert.Equal(t, job.ID, created[0].JobID)
}

func TestSubmitJobRejects(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	similar, err := svc.CreateCampaign(ctx, "user-1", CampaignRequest{Name: "lookalikes", SearchMode: "similar"})
	require.NoError(t, err)
	others, err := svc.CreateCampaign(ctx, "user-2", CampaignRequest{Name: "theirs", SearchMode: "keyword"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  JobRequest
		code string
	}{
		{"unknown platform", JobRequest{Platform: "myspace", SearchMode: "keyword", Keywords: []string{"a"}, TargetResults: 10}, apperrors.ErrInvalidInput},
		{"zero target", JobRequest{Platform: "tiktok", SearchMode: "keyword", Keywords: []string{"a"}}, apperrors.ErrInvalidInput},
		{"target over limit", JobRequest{Platform: "tiktok", SearchMode: "keyword", Keywords: []string{"a"}, TargetResults: 1001}, apperrors.ErrInvalidInput},
		{"keyword without keywords", JobRequest{Platform: "tiktok", SearchMode: "keyword", Keywords: []string{" "}, TargetResults: 10}, apperrors.ErrInvalidInput},
		{"similar without username", JobRequest{Platform: "youtube", SearchMode: "similar", TargetResults: 10}, apperrors.ErrInvalidInput},
		{"override outside instagram", JobRequest{Platform: "tiktok", SearchMode: "keyword", Keywords: []string{"a"}, ProviderOverride: "v2", TargetResults: 10}, apperrors.ErrInvalidInput},
		{"unknown override", JobRequest{Platform: "instagram", SearchMode: "keyword", Keywords: []string{"a"}, ProviderOverride: "v9", TargetResults: 10}, apperrors.ErrInvalidInput},
		{"no route", JobRequest{Platform: "tiktok", SearchMode: "similar", TargetUsername: "someone", TargetResults: 10}, apperrors.ErrNoRoute},
		{"campaign mode mismatch", JobRequest{CampaignID: similar.ID, Platform: "tiktok", SearchMode: "keyword", Keywords: []string{"a"}, TargetResults: 10}, apperrors.ErrInvalidInput},
		{"someone else's campaign", JobRequest{CampaignID: others.ID, Platform: "tiktok", SearchMode: "keyword", Keywords: []string{"a"}, TargetResults: 10}, apperrors.ErrCampaignNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitJob(ctx, "user-1", tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err), err.Error())
		})
	}
	assert.Empty(t, pub.got)
}

func TestSubmitJobAcceptsInstagramOverride(t *testing.T) {
	svc, _, _, _ := newService(t)

	job, err := svc.SubmitJob(context.Background(), "user-1", JobRequest{
		Platform:         "instagram",
		SearchMode:       "keyword",
		Keywords:         []string{"coffee"},
		ProviderOverride: "apify",
		TargetResults:    50,
	})
	require.NoError(t, err)
	assert.Equal(t, "apify", job.ProviderOverride)
}

func TestSubmitJobDropsOtherModeFields(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()
	rt := router.New(provider.NewRegistry())

	similar, err := svc.SubmitJob(ctx, "user-1", JobRequest{
		Platform:       "youtube",
		SearchMode:     "similar",
		Keywords:       []string{"chess"},
		TargetUsername: "@gothamchess",
		TargetResults:  20,
	})
	require.NoError(t, err)
	assert.Empty(t, similar.Keywords)
	assert.Equal(t, "gothamchess", similar.TargetUsername)

	stored, err := s.GetJob(ctx, similar.ID)
	require.NoError(t, err)
	route, err := rt.Resolve(stored)
	require.NoError(t, err)
	assert.Equal(t, "youtube-similar", route.Rule)

	keyword, err := svc.SubmitJob(ctx, "user-1", JobRequest{
		Platform:       "instagram",
		SearchMode:     "keyword",
		Keywords:       []string{"coffee"},
		TargetUsername: "natgeo",
		TargetResults:  20,
	})
	require.NoError(t, err)
	assert.Empty(t, keyword.TargetUsername)

	stored, err = s.GetJob(ctx, keyword.ID)
	require.NoError(t, err)
	route, err = rt.Resolve(stored)
	require.NoError(t, err)
	assert.Equal(t, "instagram-keyword", route.Rule)
}

func TestJobStatusAndResults(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()

	job, err := svc.SubmitJob(ctx, "user-1", JobRequest{Platform: "tiktok", SearchMode: "keyword", Keywords: []string{"a"}, TargetResults: 100})
	require.NoError(t, err)

	next := job.Clone()
	next.Status = types.StatusProcessing
	next.ProcessedResults = 40
	next.RunCount = 1
	batch := &types.ResultBatch{ID: "b1", JobID: job.ID, RunNumber: 1, Provider: provider.TikTokKeyword,
		Creators: make([]types.Creator, 40), CreatedAt: epoch}
	_, err = s.Commit(ctx, store.Commit{Job: next, Batch: batch})
	require.NoError(t, err)

	st, err := svc.JobStatus(ctx, "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, st.Status)
	assert.Equal(t, 40, st.ProcessedResults)
	assert.InDelta(t, 0.4, st.Progress, 1e-9)

	batches, err := svc.JobResults(ctx, "user-1", job.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 40, batches[0].Len())

	usage, err := svc.Usage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), usage.ResultsCounted)

	_, err = svc.JobStatus(ctx, "user-2", job.ID)
	assert.Equal(t, apperrors.ErrJobNotFound, apperrors.CodeOf(err))

	_, err = svc.JobStatus(ctx, "user-1", "nope")
	assert.Equal(t, apperrors.ErrMalformedJobID, apperrors.CodeOf(err))
}

func TestCampaignStatus(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()

	campaign, err := svc.CreateCampaign(ctx, "user-1", CampaignRequest{Name: "  spring  ", SearchMode: "keyword", TargetResults: 50})
	require.NoError(t, err)
	assert.Equal(t, "spring", campaign.Name)

	st, err := svc.CampaignStatus(ctx, "user-1", campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Jobs)
	assert.False(t, st.Complete)

	job, err := svc.SubmitJob(ctx, "user-1", JobRequest{CampaignID: campaign.ID, Platform: "tiktok", SearchMode: "keyword", Keywords: []string{"a"}, TargetResults: 50})
	require.NoError(t, err)

	next := job.Clone()
	next.Status = types.StatusCompleted
	next.ProcessedResults = 50
	_, err = s.Commit(ctx, store.Commit{Job: next})
	require.NoError(t, err)

	st, err = svc.CampaignStatus(ctx, "user-1", campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Jobs)
	assert.Equal(t, 1, st.TerminalJobs)
	assert.Equal(t, 50, st.ProcessedResults)
	assert.True(t, st.Complete)

	jobs, err := svc.CampaignJobs(ctx, "user-1", campaign.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	_, err = svc.CampaignStatus(ctx, "user-2", campaign.ID)
	assert.Equal(t, apperrors.ErrCampaignNotFound, apperrors.CodeOf(err))
}

func TestCreateCampaignValidation(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateCampaign(ctx, "user-1", CampaignRequest{Name: "", SearchMode: "keyword"})
	assert.Equal(t, apperrors.ErrInvalidInput, apperrors.CodeOf(err))

	_, err = svc.CreateCampaign(ctx, "user-1", CampaignRequest{Name: "x", SearchMode: "trending"})
	assert.Equal(t, apperrors.ErrInvalidInput, apperrors.CodeOf(err))

	_, err = svc.CreateCampaign(ctx, "", CampaignRequest{Name: "x", SearchMode: "keyword"})
	assert.Equal(t, apperrors.ErrUnauthorized, apperrors.CodeOf(err))
}
