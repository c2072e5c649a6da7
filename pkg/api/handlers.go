package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/creatorscout/searchjobs/pkg/coordinator"
	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Handlers adapts the coordinator service to huma operations.
type Handlers struct {
	svc *coordinator.Service
}

func NewHandlers(svc *coordinator.Service) *Handlers {
	return &Handlers{svc: svc}
}

type IDInput struct {
	ID string `path:"id" doc:"Resource ID"`
}

type CreateCampaignInput struct {
	Body coordinator.CampaignRequest
}

type CampaignOutput struct {
	Body *types.Campaign
}

type CampaignStatusOutput struct {
	Body *types.CampaignStatus
}

type CampaignJobsOutput struct {
	Body []*coordinator.JobStatus
}

type SubmitJobInput struct {
	Body coordinator.JobRequest
}

type JobOutput struct {
	Body *coordinator.JobStatus
}

type JobResultsOutput struct {
	Body []*types.ResultBatch
}

type UsageOutput struct {
	Body *types.Usage
}

func (h *Handlers) CreateCampaign(ctx context.Context, in *CreateCampaignInput) (*CampaignOutput, error) {
	campaign, err := h.svc.CreateCampaign(ctx, UserID(ctx), in.Body)
	if err != nil {
		return nil, toHuma(err)
	}
	return &CampaignOutput{Body: campaign}, nil
}

func (h *Handlers) GetCampaign(ctx context.Context, in *IDInput) (*CampaignStatusOutput, error) {
	st, err := h.svc.CampaignStatus(ctx, UserID(ctx), in.ID)
	if err != nil {
		return nil, toHuma(err)
	}
	return &CampaignStatusOutput{Body: st}, nil
}

func (h *Handlers) ListCampaignJobs(ctx context.Context, in *IDInput) (*CampaignJobsOutput, error) {
	jobs, err := h.svc.CampaignJobs(ctx, UserID(ctx), in.ID)
	if err != nil {
		return nil, toHuma(err)
	}
	out := make([]*coordinator.JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = coordinator.StatusOf(j)
	}
	return &CampaignJobsOutput{Body: out}, nil
}

func (h *Handlers) SubmitJob(ctx context.Context, in *SubmitJobInput) (*JobOutput, error) {
	job, err := h.svc.SubmitJob(ctx, UserID(ctx), in.Body)
	if err != nil {
		return nil, toHuma(err)
	}
	return &JobOutput{Body: coordinator.StatusOf(job)}, nil
}

func (h *Handlers) GetJob(ctx context.Context, in *IDInput) (*JobOutput, error) {
	st, err := h.svc.JobStatus(ctx, UserID(ctx), in.ID)
	if err != nil {
		return nil, toHuma(err)
	}
	return &JobOutput{Body: st}, nil
}

func (h *Handlers) GetJobResults(ctx context.Context, in *IDInput) (*JobResultsOutput, error) {
	batches, err := h.svc.JobResults(ctx, UserID(ctx), in.ID)
	if err != nil {
		return nil, toHuma(err)
	}
	return &JobResultsOutput{Body: batches}, nil
}

func (h *Handlers) GetUsage(ctx context.Context, _ *struct{}) (*UsageOutput, error) {
	u, err := h.svc.Usage(ctx, UserID(ctx))
	if err != nil {
		return nil, toHuma(err)
	}
	return &UsageOutput{Body: u}, nil
}

func toHuma(err error) error {
	return huma.NewError(apperrors.HTTPStatus(err), err.Error())
}
