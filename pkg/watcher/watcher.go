// Package watcher detects campaign completion after a job finishes and
// triggers the single campaign notification.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/notify"
	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Evaluate aggregates a campaign's jobs and applies the completion predicate.
// Keyword campaigns complete once the summed results reach the campaign
// target or every job is terminal; similar campaigns once every job is terminal.
func Evaluate(campaign *types.Campaign, jobs []*types.Job) types.CampaignStatus {
	st := types.CampaignStatus{Campaign: *campaign, Jobs: len(jobs)}
	for _, j := range jobs {
		st.ProcessedResults += j.ProcessedResults
		if j.Status.IsTerminal() {
			st.TerminalJobs++
		}
	}
	if st.Jobs == 0 {
		return st
	}

	allTerminal := st.TerminalJobs == st.Jobs
	switch campaign.SearchMode {
	case types.SearchModeSimilar:
		st.Complete = allTerminal
	default:
		reached := campaign.TargetResults > 0 && st.ProcessedResults >= campaign.TargetResults
		st.Complete = reached || allTerminal
	}
	return st
}

// Watcher reacts to finished jobs.
type Watcher struct {
	store    store.Store
	notifier notify.Notifier
	bus      event.Bus
	now      func() time.Time
}

func New(s store.Store, n notify.Notifier, bus event.Bus) *Watcher {
	return &Watcher{store: s, notifier: n, bus: bus, now: time.Now}
}

// Attach subscribes the watcher to finished and redelivered jobs. A
// redelivery retries a check that failed when the job finished.
func (w *Watcher) Attach() (unsubscribe func()) {
	handle := func(ctx context.Context, e event.Event) error {
		je, ok := e.Payload.(event.JobEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		_, err := w.Check(ctx, je.CampaignID)
		return err
	}
	offFinished := w.bus.Subscribe(event.EventJobFinished, handle)
	offRedelivered := w.bus.Subscribe(event.EventJobRedelivered, handle)
	return func() {
		offFinished()
		offRedelivered()
	}
}

// CheckPending re-evaluates every campaign still waiting for its
// notification. It returns how many were notified.
func (w *Watcher) CheckPending(ctx context.Context) (int, error) {
	campaigns, err := w.store.ListPendingCampaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending campaigns: %w", err)
	}

	var notified int
	var errs []error
	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}
		sent, err := w.Check(ctx, c.ID)
		if err != nil {
			log.Warn().Err(err).Str("campaign_id", c.ID).Msg("pending campaign check failed")
			errs = append(errs, err)
			continue
		}
		if sent {
			notified++
		}
	}
	return notified, errors.Join(errs...)
}

// Check evaluates the campaign and notifies when this call is the one that
// flipped its notified flag. It reports whether a notification was sent.
func (w *Watcher) Check(ctx context.Context, campaignID string) (bool, error) {
	if campaignID == "" {
		return false, nil
	}

	campaign, err := w.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Notified {
		return false, nil
	}

	jobs, err := w.store.ListCampaignJobs(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("list campaign jobs: %w", err)
	}

	st := Evaluate(campaign, jobs)
	if !st.Complete {
		log.Debug().
			Str("campaign_id", campaignID).
			Int("terminal", st.TerminalJobs).
			Int("jobs", st.Jobs).
			Int("processed", st.ProcessedResults).
			Msg("campaign not complete yet")
		return false, nil
	}

	flipped, err := w.store.MarkCampaignNotified(ctx, campaignID, w.now())
	if err != nil {
		return false, fmt.Errorf("mark campaign notified: %w", err)
	}
	if !flipped {
		return false, nil
	}

	// the flag is already set, so a failed notification is not retried
	n := types.Notification{CampaignID: campaign.ID, UserID: campaign.UserID, CampaignName: campaign.Name}
	if err := w.notifier.Notify(ctx, n); err != nil {
		log.Error().Err(err).Str("campaign_id", campaignID).Msg("campaign notification failed")
		return false, err
	}

	log.Info().
		Str("campaign_id", campaignID).
		Int("jobs", st.Jobs).
		Int("processed", st.ProcessedResults).
		Msg("campaign notification sent")

	_ = w.bus.Publish(ctx, event.Event{
		Type: event.EventCampaignCompleted,
		Payload: event.CampaignEvent{
			CampaignID:       campaign.ID,
			UserID:           campaign.UserID,
			Name:             campaign.Name,
			ProcessedResults: st.ProcessedResults,
		},
	})
	return true, nil
}
