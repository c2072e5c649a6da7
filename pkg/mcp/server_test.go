package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscout/searchjobs/pkg/coordinator"
	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/router"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/store/badgerstore"
	"github.com/creatorscout/searchjobs/pkg/types"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, scheduler.Continuation) error { return nil }

func newServer(t *testing.T) *MCPServer {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	svc := coordinator.NewService(s, router.New(provider.NewRegistry()), nopPublisher{}, event.NewBus(), coordinator.DefaultLimits)
	return NewMCPServer(svc, "operator")
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestCampaignAndJobTools(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, err := s.handleCreateCampaign(ctx, call("create_campaign", map[string]any{
		"name": "spring", "search_mode": "keyword", "target_results": float64(100),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var campaign types.Campaign
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &campaign))
	assert.Equal(t, "operator", campaign.UserID)
	assert.Equal(t, 100, campaign.TargetResults)

	res, err = s.handleSubmitJob(ctx, call("submit_search_job", map[string]any{
		"platform":       "tiktok",
		"search_mode":    "keyword",
		"keywords":       "yoga, pilates",
		"target_results": float64(40),
		"campaign_id":    campaign.ID,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var job coordinator.JobStatus
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &job))
	assert.Equal(t, types.StatusPending, job.Status)
	assert.Equal(t, campaign.ID, job.CampaignID)

	res, err = s.handleGetJob(ctx, call("get_search_job", map[string]any{"job_id": job.JobID}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = s.handleCampaignStatus(ctx, call("get_campaign_status", map[string]any{"campaign_id": campaign.ID}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var st types.CampaignStatus
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &st))
	assert.Equal(t, 1, st.Jobs)

	// another user cannot see the job
	res, err = s.handleGetJob(ctx, call("get_search_job", map[string]any{"job_id": job.JobID, "user_id": "someone-else"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolErrors(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, err := s.handleSubmitJob(ctx, call("submit_search_job", map[string]any{"platform": "tiktok"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleSubmitJob(ctx, call("submit_search_job", map[string]any{
		"platform": "tiktok", "search_mode": "similar", "target_username": "x", "target_results": float64(5),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleGetJob(ctx, call("get_search_job", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
