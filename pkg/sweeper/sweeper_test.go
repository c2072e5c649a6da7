package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/notify"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/store/badgerstore"
	"github.com/creatorscout/searchjobs/pkg/store/storetest"
	"github.com/creatorscout/searchjobs/pkg/types"
	"github.com/creatorscout/searchjobs/pkg/watcher"
	"github.com/creatorscout/searchjobs/pkg/worker"
)

type recordingTicker struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingTicker) TickJob(ctx context.Context, jobID string) (*worker.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
	return &worker.Result{JobID: jobID, Status: types.StatusTimeout}, nil
}

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

type stubChecker struct {
	calls    int
	notified int
	err      error
}

func (c *stubChecker) CheckPending(ctx context.Context) (int, error) {
	c.calls++
	return c.notified, c.err
}

func TestSweep(t *testing.T) {
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	now := time.Now().UTC()

	expired := storetest.NewJob("user-1", "", 50)
	expired.TimeoutAt = now.Add(-time.Minute)
	require.NoError(t, s.CreateJob(ctx, expired))

	stalled := storetest.NewJob("user-1", "", 50)
	stalled.Status = types.StatusProcessing
	stalled.RunCount = 3
	stalled.UpdatedAt = now.Add(-10 * time.Minute)
	require.NoError(t, s.CreateJob(ctx, stalled))

	fresh := storetest.NewJob("user-1", "", 50)
	fresh.UpdatedAt = now
	require.NoError(t, s.CreateJob(ctx, fresh))

	done := storetest.NewJob("user-1", "", 50)
	done.Status = types.StatusCompleted
	done.TimeoutAt = now.Add(-time.Minute)
	require.NoError(t, s.CreateJob(ctx, done))

	ticker := &recordingTicker{}
	pub := &recordingPublisher{}
	sw := New(s, ticker, pub, Config{StallAfter: 5 * time.Minute}).WithClock(func() time.Time { return now })

	stats, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Rekicked)
	assert.Zero(t, stats.Errors)

	assert.Equal(t, []string{expired.ID}, ticker.ids)
	require.Len(t, pub.got, 1)
	assert.Equal(t, stalled.ID, pub.got[0].JobID)
	assert.Equal(t, 3, pub.got[0].RunCount)
	assert.Zero(t, pub.got[0].Delay)
	assert.Equal(t, now, pub.got[0].RekickedAt)
}

func TestSweepRespectsBatchSize(t *testing.T) {
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		job := storetest.NewJob("user-1", "", 50)
		job.TimeoutAt = now.Add(-time.Minute)
		require.NoError(t, s.CreateJob(ctx, job))
	}

	ticker := &recordingTicker{}
	sw := New(s, ticker, &recordingPublisher{}, Config{BatchSize: 2}).WithClock(func() time.Time { return now })

	stats, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Expired)
	assert.Len(t, ticker.ids, 2)
}

func TestSweepChecksPendingCampaigns(t *testing.T) {
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	checker := &stubChecker{notified: 2}
	sw := New(s, &recordingTicker{}, &recordingPublisher{}, Config{}).WithCampaignChecker(checker)

	stats, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, checker.calls)
	assert.Equal(t, 2, stats.Notified)
	assert.Zero(t, stats.Errors)

	checker.err = errors.New("store unavailable")
	checker.notified = 0
	stats, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, checker.calls)
	assert.Equal(t, 1, stats.Errors)
}

func TestSweepNotifiesCampaignMissedByWatcher(t *testing.T) {
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	campaign := &types.Campaign{ID: "camp-1", UserID: "user-1", Name: "spring", SearchMode: types.SearchModeKeyword, TargetResults: 10, CreatedAt: time.Now()}
	require.NoError(t, s.CreateCampaign(ctx, campaign))
	job := storetest.NewJob("user-1", campaign.ID, 10)
	job.Status = types.StatusCompleted
	job.ProcessedResults = 10
	require.NoError(t, s.CreateJob(ctx, job))

	w := watcher.New(s, notify.LogNotifier{}, event.NewBus())
	sw := New(s, &recordingTicker{}, &recordingPublisher{}, Config{}).WithCampaignChecker(w)

	stats, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Notified)

	got, err := s.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified)

	stats, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Notified)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sw := New(nil, &recordingTicker{}, &recordingPublisher{}, Config{Schedule: "not a schedule"})
	assert.Error(t, sw.Start())
}
