package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/jobstate"
	"github.com/creatorscout/searchjobs/pkg/router"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// JobRequest submits one search job.
type JobRequest struct {
	CampaignID       string   `json:"campaignId,omitempty" validate:"omitempty,uuid"`
	Platform         string   `json:"platform" validate:"required,oneof=tiktok instagram youtube google-serp"`
	SearchMode       string   `json:"searchMode" validate:"required,oneof=keyword similar"`
	Keywords         []string `json:"keywords,omitempty" validate:"max=20,dive,max=100"`
	TargetUsername   string   `json:"targetUsername,omitempty" validate:"max=100"`
	ProviderOverride string   `json:"providerOverride,omitempty" validate:"max=50"`
	TargetResults    int      `json:"targetResults" validate:"required,min=1"`
}

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	JobID            string       `json:"jobId"`
	CampaignID       string       `json:"campaignId,omitempty"`
	Status           types.Status `json:"status"`
	ProcessedResults int          `json:"processedResults"`
	TargetResults    int          `json:"targetResults"`
	Progress         float64      `json:"progress"`
	RunCount         int          `json:"runCount"`
	Provider         string       `json:"provider,omitempty"`
	Error            string       `json:"error,omitempty"`
	Message          string       `json:"message,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
}

func StatusOf(job *types.Job) *JobStatus {
	return &JobStatus{
		JobID:            job.ID,
		CampaignID:       job.CampaignID,
		Status:           job.Status,
		ProcessedResults: job.ProcessedResults,
		TargetResults:    job.TargetResults,
		Progress:         jobstate.Progress(job),
		RunCount:         job.RunCount,
		Provider:         job.Provider,
		Error:            job.Error,
		Message:          job.Message,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
}

// SubmitJob validates the request, stores a pending job and enqueues its
// first tick.
func (s *Service) SubmitJob(ctx context.Context, userID string, req JobRequest) (*types.Job, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrUnauthorized, "user id is required")
	}
	req.Keywords = cleanKeywords(req.Keywords)
	req.TargetUsername = strings.TrimPrefix(strings.TrimSpace(req.TargetUsername), "@")
	req.ProviderOverride = strings.TrimSpace(req.ProviderOverride)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.TargetResults > s.limits.MaxTarget {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "targetResults exceeds the limit of %d", s.limits.MaxTarget)
	}

	mode := types.SearchMode(req.SearchMode)
	platform := types.Platform(req.Platform)
	switch mode {
	case types.SearchModeKeyword:
		if len(req.Keywords) == 0 {
			return nil, apperrors.New(apperrors.ErrInvalidInput, "keyword search needs at least one keyword")
		}
		// the router prefers a username over keywords on instagram
		req.TargetUsername = ""
	case types.SearchModeSimilar:
		if req.TargetUsername == "" {
			return nil, apperrors.New(apperrors.ErrInvalidInput, "similar search needs a target username")
		}
		req.Keywords = nil
	}
	if req.ProviderOverride != "" {
		if platform != types.PlatformInstagram || mode != types.SearchModeKeyword {
			return nil, apperrors.New(apperrors.ErrInvalidInput, "provider override applies to instagram keyword searches only")
		}
		if !s.router.IsOverrideToken(req.ProviderOverride) {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "unknown provider override %q", req.ProviderOverride)
		}
	}

	if req.CampaignID != "" {
		campaign, err := s.ownedCampaign(ctx, userID, req.CampaignID)
		if err != nil {
			return nil, err
		}
		if campaign.SearchMode != mode {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "campaign %s runs %s searches", campaign.ID, campaign.SearchMode)
		}
	}

	now := s.now().UTC()
	job := &types.Job{
		ID:               uuid.New().String(),
		UserID:           userID,
		CampaignID:       req.CampaignID,
		Platform:         platform,
		SearchMode:       mode,
		Keywords:         req.Keywords,
		TargetUsername:   req.TargetUsername,
		ProviderOverride: req.ProviderOverride,
		TargetResults:    req.TargetResults,
		Status:           types.StatusPending,
		TimeoutAt:        now.Add(s.limits.JobTimeout),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	route, err := s.router.Resolve(job)
	if err != nil {
		if errors.Is(err, router.ErrNoRoute) {
			return nil, apperrors.Newf(apperrors.ErrNoRoute, "no provider serves %s %s searches", mode, platform)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidInput, "route job")
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "create job")
	}

	log.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("campaign_id", job.CampaignID).
		Str("platform", string(platform)).
		Str("search_mode", string(mode)).
		Str("route", route.Rule).
		Int("target", job.TargetResults).
		Msg("job created")

	// the sweeper re-kicks a job whose first tick was never enqueued
	if err := s.publisher.Publish(ctx, *scheduler.Initial(job, now)); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to enqueue first tick")
	}
	s.publish(ctx, event.EventJobCreated, event.NewJobEvent(job))
	return job, nil
}

// JobStatus returns the job's state as seen by its owner.
func (s *Service) JobStatus(ctx context.Context, userID, jobID string) (*JobStatus, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return StatusOf(job), nil
}

// JobResults returns the job's result batches in run order.
func (s *Service) JobResults(ctx context.Context, userID, jobID string) ([]*types.ResultBatch, error) {
	if _, err := s.ownedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	batches, err := s.store.ListResultBatches(ctx, jobID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "list result batches")
	}
	return batches, nil
}

// Usage returns the results charged to userID.
func (s *Service) Usage(ctx context.Context, userID string) (*types.Usage, error) {
	u, err := s.store.GetUsage(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "load usage")
	}
	return u, nil
}

func (s *Service) ownedJob(ctx context.Context, userID, jobID string) (*types.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMalformedJobID, "job id is not a UUID")
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, notFound(err, apperrors.ErrJobNotFound, "job")
	}
	if userID != "" && job.UserID != userID {
		return nil, apperrors.Newf(apperrors.ErrJobNotFound, "job %s not found", jobID)
	}
	return job, nil
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
