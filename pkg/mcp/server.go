// Package mcp exposes campaign and job operations as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/coordinator"
)

// MCPServer wraps the coordinator service with MCP protocol support
type MCPServer struct {
	svc       *coordinator.Service
	userID    string
	mcpServer *server.MCPServer
}

// NewMCPServer creates an MCP server acting on behalf of userID unless a
// tool call names another user.
func NewMCPServer(svc *coordinator.Service, userID string) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Creator Search",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &MCPServer{
		svc:       svc,
		userID:    userID,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	createCampaign := mcp.NewTool("create_campaign",
		mcp.WithDescription("Create a campaign that groups search jobs and notifies once when they are done"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Campaign name")),
		mcp.WithString("search_mode",
			mcp.Required(),
			mcp.Description("Whether the campaign runs keyword or lookalike searches"),
			mcp.Enum("keyword", "similar"),
		),
		mcp.WithNumber("target_results",
			mcp.Description("Results wanted across the whole campaign (keyword campaigns)"),
			mcp.DefaultNumber(0),
			mcp.Min(0),
		),
		mcp.WithString("user_id", mcp.Description("Act as this user")),
	)
	s.mcpServer.AddTool(createCampaign, s.handleCreateCampaign)

	campaignStatus := mcp.NewTool("get_campaign_status",
		mcp.WithDescription("Aggregate progress of a campaign's jobs"),
		mcp.WithString("campaign_id", mcp.Required()),
		mcp.WithString("user_id", mcp.Description("Act as this user")),
	)
	s.mcpServer.AddTool(campaignStatus, s.handleCampaignStatus)

	submitJob := mcp.NewTool("submit_search_job",
		mcp.WithDescription("Start an asynchronous creator search"),
		mcp.WithString("platform",
			mcp.Required(),
			mcp.Enum("tiktok", "instagram", "youtube", "google-serp"),
		),
		mcp.WithString("search_mode",
			mcp.Required(),
			mcp.Enum("keyword", "similar"),
		),
		mcp.WithString("keywords", mcp.Description("Comma-separated keywords for keyword searches")),
		mcp.WithString("target_username", mcp.Description("Seed creator for similar searches")),
		mcp.WithNumber("target_results", mcp.Required(), mcp.Min(1)),
		mcp.WithString("campaign_id", mcp.Description("Campaign to attach the job to")),
		mcp.WithString("provider_override", mcp.Description("Instagram keyword pipeline token (v1, v2, apify)")),
		mcp.WithString("user_id", mcp.Description("Act as this user")),
	)
	s.mcpServer.AddTool(submitJob, s.handleSubmitJob)

	getJob := mcp.NewTool("get_search_job",
		mcp.WithDescription("Status and progress of a search job"),
		mcp.WithString("job_id", mcp.Required()),
		mcp.WithString("user_id", mcp.Description("Act as this user")),
	)
	s.mcpServer.AddTool(getJob, s.handleGetJob)
}

func (s *MCPServer) user(request mcp.CallToolRequest) string {
	return request.GetString("user_id", s.userID)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// Start serves MCP over stdio until the client disconnects.
func (s *MCPServer) Start(ctx context.Context) error {
	log.Info().Str("user_id", s.userID).Msg("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}
