package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscout/searchjobs/pkg/engine"
	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/provider/providertest"
	"github.com/creatorscout/searchjobs/pkg/queue"
	"github.com/creatorscout/searchjobs/pkg/router"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/store/badgerstore"
	"github.com/creatorscout/searchjobs/pkg/store/storetest"
	"github.com/creatorscout/searchjobs/pkg/types"
	"github.com/creatorscout/searchjobs/pkg/watcher"
)

type recordingPublisher struct {
	mu  sync.Mutex
	got []scheduler.Continuation
	err error
}

func (p *recordingPublisher) Publish(ctx context.Context, c scheduler.Continuation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, c)
	return nil
}

func (p *recordingPublisher) published() []scheduler.Continuation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scheduler.Continuation(nil), p.got...)
}

type panicAdapter struct{}

func (panicAdapter) Name() string             { return provider.TikTokKeyword }
func (panicAdapter) Platform() types.Platform { return types.PlatformTikTok }
func (panicAdapter) Search(context.Context, provider.Request) (*provider.Page, error) {
	panic("boom")
}
func (panicAdapter) Normalize(json.RawMessage) (types.Creator, error) {
	return types.Creator{}, nil
}

type fixture struct {
	store     *badgerstore.Store
	publisher *recordingPublisher
	bus       event.Bus
	worker    *Worker
}

func newFixture(t *testing.T, adapter provider.Adapter, opts ...Option) *fixture {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := provider.NewRegistry()
	reg.Register(adapter)
	e := engine.New(router.New(reg), scheduler.New(scheduler.DefaultConfig))

	f := &fixture{store: s, publisher: &recordingPublisher{}, bus: event.NewBus()}
	f.worker = New(s, e, f.publisher, f.bus, opts...)
	return f
}

func (f *fixture) createJob(t *testing.T, target int) *types.Job {
	t.Helper()
	job := storetest.NewJob("user-1", "", target)
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	return job
}

func tiktok(responses ...providertest.Response) *providertest.Adapter {
	return providertest.New(provider.TikTokKeyword, types.PlatformTikTok, responses...)
}

func TestProcessRunsTickAndPublishesContinuation(t *testing.T) {
	f := newFixture(t, tiktok(providertest.PageOf("a", 30, true, "c1")))
	job := f.createJob(t, 50)

	var progress []event.JobEvent
	f.bus.Subscribe(event.EventJobProgress, func(ctx context.Context, ev event.Event) error {
		progress = append(progress, ev.Payload.(event.JobEvent))
		return nil
	})

	res, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, res.Status)
	assert.Equal(t, 30, res.ProcessedResults)
	assert.False(t, res.NoOp)

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, 1, stored.RunCount)
	assert.Equal(t, "c1", stored.Cursor)

	batches, err := f.store.ListResultBatches(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 30, batches[0].Len())

	usage, err := f.store.GetUsage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), usage.ResultsCounted)

	sent := f.publisher.published()
	require.Len(t, sent, 1)
	assert.Equal(t, job.ID, sent[0].JobID)
	assert.Equal(t, 1, sent[0].RunCount)
	require.Len(t, progress, 1)
	assert.Equal(t, 30, progress[0].ProcessedResults)
}

func TestProcessCompletesAndAnnouncesFinish(t *testing.T) {
	f := newFixture(t, tiktok(providertest.PageOf("a", 30, true, "c1"), providertest.PageOf("b", 25, true, "c2")))
	job := f.createJob(t, 50)

	var finished []event.JobEvent
	f.bus.Subscribe(event.EventJobFinished, func(ctx context.Context, ev event.Event) error {
		finished = append(finished, ev.Payload.(event.JobEvent))
		return nil
	})

	_, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	res, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 1})
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 50, res.ProcessedResults)
	assert.Equal(t, 1.0, res.Progress)
	assert.Len(t, f.publisher.published(), 1)
	require.Len(t, finished, 1)
	assert.Equal(t, types.StatusCompleted, finished[0].Status)
}

func TestProcessMissingJob(t *testing.T) {
	f := newFixture(t, tiktok())

	_, err := f.worker.Process(context.Background(), queue.Delivery{JobID: "0b9a3a55-5a4e-4b57-9f55-2f9b1ef3f0a1", RunCount: -1})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrJobNotFound))
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
}

func TestProcessFinishedJobIsNoOp(t *testing.T) {
	adapter := tiktok(providertest.PageOf("a", 10, true, "c1"))
	f := newFixture(t, adapter)
	job := storetest.NewJob("user-1", "", 50)
	job.Status = types.StatusCompleted
	require.NoError(t, f.store.CreateJob(context.Background(), job))

	res, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: -1})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Empty(t, adapter.Calls())
	assert.Empty(t, f.publisher.published())
}

func TestProcessIgnoresStaleDelivery(t *testing.T) {
	adapter := tiktok(providertest.PageOf("a", 10, true, "c1"))
	f := newFixture(t, adapter)
	job := f.createJob(t, 50)

	_, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)

	// a redelivery of the first continuation
	res, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, 10, res.ProcessedResults)
	assert.Len(t, adapter.Calls(), 1)
}

func TestProcessEarlyDelivery(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	adapter := tiktok(providertest.PageOf("a", 10, true, "c1"))
	f := newFixture(t, adapter, WithClock(func() time.Time { return now }))
	job := f.createJob(t, 50)

	_, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0, NotBefore: now.Add(4 * time.Second)})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTooEarly))

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.NotNil(t, appErr.RetryAfter)
	assert.Equal(t, 4*time.Second, *appErr.RetryAfter)
	assert.Empty(t, adapter.Calls())
}

func TestProcessPanicPersistsError(t *testing.T) {
	f := newFixture(t, panicAdapter{})
	job := f.createJob(t, 50)

	var finished int
	f.bus.Subscribe(event.EventJobFinished, func(ctx context.Context, ev event.Event) error {
		finished++
		return nil
	})

	res, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, res.Status)

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, stored.Status)
	assert.Contains(t, stored.Error, "boom")
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 1, finished)
	assert.Empty(t, f.publisher.published())
}

func TestProcessAbortedTickPersistsNothing(t *testing.T) {
	f := newFixture(t, tiktok(providertest.PageOf("a", 10, true, "c1")))
	job := f.createJob(t, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.worker.Process(ctx, queue.Delivery{JobID: job.ID, RunCount: 0})
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, types.StatusPending, stored.Status)
}

// conflictingStore lets another writer commit between load and commit.
type conflictingStore struct {
	store.Store
	once sync.Once
	race func()
}

func (s *conflictingStore) Commit(ctx context.Context, c store.Commit) (*types.Job, error) {
	s.once.Do(s.race)
	return s.Store.Commit(ctx, c)
}

func TestProcessLosingTickReturnsWinnerState(t *testing.T) {
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	job := storetest.NewJob("user-1", "", 100)
	require.NoError(t, s.CreateJob(context.Background(), job))

	cs := &conflictingStore{Store: s}
	cs.race = func() {
		winner := job.Clone()
		winner.Status = types.StatusProcessing
		winner.ProcessedResults = 40
		winner.RunCount = 1
		_, err := s.Commit(context.Background(), store.Commit{Job: winner, Batch: storetest.NewBatch(winner, 1, 40)})
		require.NoError(t, err)
	}

	reg := provider.NewRegistry()
	reg.Register(tiktok(providertest.PageOf("a", 20, true, "c1")))
	pub := &recordingPublisher{}
	w := New(cs, engine.New(router.New(reg), scheduler.New(scheduler.DefaultConfig)), pub, event.NewBus())

	res, err := w.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, 40, res.ProcessedResults)

	batches, err := s.ListResultBatches(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
	usage, err := s.GetUsage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), usage.ResultsCounted)
	assert.Empty(t, pub.published())
}

func TestProcessPublishFailureStillCommits(t *testing.T) {
	f := newFixture(t, tiktok(providertest.PageOf("a", 10, true, "c1")))
	f.publisher.err = errors.New("queue down")
	job := f.createJob(t, 50)

	res, err := f.worker.Process(context.Background(), queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.Equal(t, 10, res.ProcessedResults)

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RunCount)
}

func TestTickJobIgnoresRunCount(t *testing.T) {
	f := newFixture(t, tiktok(providertest.PageOf("a", 10, true, "c1")))
	job := f.createJob(t, 50)

	_, err := f.worker.TickJob(context.Background(), job.ID)
	require.NoError(t, err)
	res, err := f.worker.TickJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, 20, res.ProcessedResults)
}

func serve(t *testing.T, w *Worker, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	w.Register(e, "/tasks/search")
	req := httptest.NewRequest(http.MethodPost, "/tasks/search", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type rejectAll struct{}

func (rejectAll) Verify(context.Context, http.Header, []byte) error {
	return apperrors.New(apperrors.ErrSignatureMissing, "missing signature")
}

func TestHandleStatusMapping(t *testing.T) {
	f := newFixture(t, tiktok(providertest.PageOf("a", 10, true, "c1")))
	job := f.createJob(t, 50)

	t.Run("unverified", func(t *testing.T) {
		w := New(f.store, nil, f.publisher, f.bus, WithVerifier(rejectAll{}))
		rec := serve(t, w, `{"jobId":"`+job.ID+`"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed", func(t *testing.T) {
		rec := serve(t, f.worker, `{"jobId":"not-a-uuid"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), apperrors.ErrMalformedJobID)
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := serve(t, f.worker, `{"jobId":"0b9a3a55-5a4e-4b57-9f55-2f9b1ef3f0a1"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ok", func(t *testing.T) {
		rec := serve(t, f.worker, `{"jobId":"`+job.ID+`","runCount":0}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var res Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, types.StatusProcessing, res.Status)
		assert.Equal(t, 10, res.ProcessedResults)
		assert.Equal(t, 50, res.TargetResults)
	})
}

func TestHandleTooEarlySetsRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, tiktok(), WithClock(func() time.Time { return now }))
	job := f.createJob(t, 50)

	body := `{"jobId":"` + job.ID + `","runCount":0,"notBefore":"` + now.Add(2500*time.Millisecond).Format(time.RFC3339Nano) + `"}`
	rec := serve(t, f.worker, body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

type flakyCampaignStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyCampaignStore) GetCampaign(ctx context.Context, id string) (*types.Campaign, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("firestore: deadline exceeded")
	}
	return s.Store.GetCampaign(ctx, id)
}

type countingNotifier struct {
	mu   sync.Mutex
	sent []types.Notification
}

func (n *countingNotifier) Notify(ctx context.Context, msg types.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func TestRedeliveryRetriesCampaignNotification(t *testing.T) {
	f := newFixture(t, tiktok(providertest.PageOf("a", 10, false, "")))
	ctx := context.Background()

	campaign := &types.Campaign{
		ID:            "5d0c6a3e-8f3a-4f7e-9d1e-1a2b3c4d5e6f",
		UserID:        "user-1",
		Name:          "launch",
		SearchMode:    types.SearchModeKeyword,
		TargetResults: 10,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.store.CreateCampaign(ctx, campaign))
	job := storetest.NewJob("user-1", campaign.ID, 10)
	require.NoError(t, f.store.CreateJob(ctx, job))

	notifier := &countingNotifier{}
	w := watcher.New(&flakyCampaignStore{Store: f.store, failures: 1}, notifier, f.bus)
	defer w.Attach()()

	res, err := f.worker.Process(ctx, queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 10, res.ProcessedResults)

	got, err := f.store.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, got.Notified)
	assert.Zero(t, notifier.count())

	// the queue redelivers the same message
	res, err = f.worker.Process(ctx, queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	got, err = f.store.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified)
	assert.Equal(t, 1, notifier.count())

	_, err = f.worker.Process(ctx, queue.Delivery{JobID: job.ID, RunCount: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count())
}
