package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/creatorscout/searchjobs/pkg/coordinator"
)

func (s *MCPServer) handleSubmitJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	platform, err := request.RequireString("platform")
	if err != nil {
		return mcp.NewToolResultError("platform required"), nil
	}
	mode, err := request.RequireString("search_mode")
	if err != nil {
		return mcp.NewToolResultError("search_mode required"), nil
	}
	target, err := request.RequireFloat("target_results")
	if err != nil {
		return mcp.NewToolResultError("target_results required"), nil
	}

	var keywords []string
	if raw := request.GetString("keywords", ""); raw != "" {
		keywords = strings.Split(raw, ",")
	}

	job, err := s.svc.SubmitJob(ctx, s.user(request), coordinator.JobRequest{
		CampaignID:       request.GetString("campaign_id", ""),
		Platform:         platform,
		SearchMode:       mode,
		Keywords:         keywords,
		TargetUsername:   request.GetString("target_username", ""),
		ProviderOverride: request.GetString("provider_override", ""),
		TargetResults:    int(target),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(coordinator.StatusOf(job))
}

func (s *MCPServer) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id required"), nil
	}
	st, err := s.svc.JobStatus(ctx, s.user(request), id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}
