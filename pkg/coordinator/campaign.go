package coordinator

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/types"
	"github.com/creatorscout/searchjobs/pkg/watcher"
)

// CampaignRequest creates a campaign.
type CampaignRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	SearchMode    string `json:"searchMode" validate:"required,oneof=keyword similar"`
	TargetResults int    `json:"targetResults,omitempty" validate:"gte=0"`
}

// CreateCampaign validates and stores a new campaign owned by userID.
func (s *Service) CreateCampaign(ctx context.Context, userID string, req CampaignRequest) (*types.Campaign, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrUnauthorized, "user id is required")
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.TargetResults > s.limits.MaxTarget {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "targetResults exceeds the limit of %d", s.limits.MaxTarget)
	}

	campaign := &types.Campaign{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          req.Name,
		SearchMode:    types.SearchMode(req.SearchMode),
		TargetResults: req.TargetResults,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "create campaign")
	}

	log.Info().
		Str("campaign_id", campaign.ID).
		Str("user_id", userID).
		Str("search_mode", req.SearchMode).
		Msg("campaign created")
	return campaign, nil
}

// CampaignStatus aggregates the campaign's jobs and evaluates completion.
func (s *Service) CampaignStatus(ctx context.Context, userID, campaignID string) (*types.CampaignStatus, error) {
	campaign, err := s.ownedCampaign(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListCampaignJobs(ctx, campaignID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "list campaign jobs")
	}
	st := watcher.Evaluate(campaign, jobs)
	return &st, nil
}

// CampaignJobs lists the jobs of a campaign, oldest first.
func (s *Service) CampaignJobs(ctx context.Context, userID, campaignID string) ([]*types.Job, error) {
	if _, err := s.ownedCampaign(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	jobs, err := s.store.ListCampaignJobs(ctx, campaignID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistence, "list campaign jobs")
	}
	return jobs, nil
}

func (s *Service) ownedCampaign(ctx context.Context, userID, campaignID string) (*types.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, notFound(err, apperrors.ErrCampaignNotFound, "campaign")
	}
	// other users' campaigns look missing
	if userID != "" && campaign.UserID != userID {
		return nil, apperrors.Newf(apperrors.ErrCampaignNotFound, "campaign %s not found", campaignID)
	}
	return campaign, nil
}
