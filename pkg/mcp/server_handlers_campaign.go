package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/creatorscout/searchjobs/pkg/coordinator"
)

func (s *MCPServer) handleCreateCampaign(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name required"), nil
	}
	mode, err := request.RequireString("search_mode")
	if err != nil {
		return mcp.NewToolResultError("search_mode required"), nil
	}

	campaign, err := s.svc.CreateCampaign(ctx, s.user(request), coordinator.CampaignRequest{
		Name:          name,
		SearchMode:    mode,
		TargetResults: int(request.GetFloat("target_results", 0)),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(campaign)
}

func (s *MCPServer) handleCampaignStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("campaign_id")
	if err != nil {
		return mcp.NewToolResultError("campaign_id required"), nil
	}
	st, err := s.svc.CampaignStatus(ctx, s.user(request), id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}
