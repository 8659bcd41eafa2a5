package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/denylist"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

func newTestServer(t *testing.T, store quota.Store) *Server {
	t.Helper()
	cfg := &config.Config{
		Limits: []config.RouteLimit{
			{Path: "user/{user_id}", Tiers: []config.TierLimit{{Seconds: 60, Quota: 2}}},
		},
	}
	cfg.SetDefaults()

	table, err := quota.NewTable(cfg.Limits)
	require.NoError(t, err)
	return New(cfg, quota.NewCoordinator(table, store))
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args

	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected content in tool result")
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func decodeCheckResult(t *testing.T, result *mcp.CallToolResult) checkQuotaResult {
	t.Helper()
	var out checkQuotaResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	return out
}

func TestCheckQuota_AdmitsAndRejects(t *testing.T) {
	s := newTestServer(t, quota.NewMemoryStore())
	args := map[string]any{"user_id": "42"}

	for i := 0; i < 2; i++ {
		result := callTool(t, s.handleCheckQuota, args)
		require.False(t, result.IsError, "call %d: unexpected tool error", i+1)
		out := decodeCheckResult(t, result)
		require.True(t, out.Admitted, "call %d: expected admission", i+1)
	}

	result := callTool(t, s.handleCheckQuota, args)
	out := decodeCheckResult(t, result)
	assert.False(t, out.Admitted, "expected third call to be rejected")
}

func TestCheckQuota_Denylisted(t *testing.T) {
	store := quota.NewMemoryStore()
	s := newTestServer(t, store)

	deny := denylist.NewMemoryDenylist()
	require.NoError(t, deny.Set(context.Background(), "user-13", "abusive traffic"))
	s.SetDenylist(deny)

	result := callTool(t, s.handleCheckQuota, map[string]any{"user_id": "user-13"})
	out := decodeCheckResult(t, result)
	assert.False(t, out.Admitted)
	assert.True(t, out.Denied)
	assert.Equal(t, "abusive traffic", out.Reason)
	assert.Equal(t, 0, store.Len(), "expected no quota consumed")
}

func TestCheckQuota_RejectsNonStringArgument(t *testing.T) {
	s := newTestServer(t, quota.NewMemoryStore())

	result := callTool(t, s.handleCheckQuota, map[string]any{"user_id": 42})
	assert.True(t, result.IsError, "expected tool error for numeric argument")
}

type failingStore struct{}

func (failingStore) FindByPath(context.Context, string) ([]quota.Row, error) {
	return nil, errors.New("backend down")
}

func (failingStore) Commit(context.Context, []quota.Upsert) error {
	return errors.New("backend down")
}

func (failingStore) Close() error { return nil }

func TestCheckQuota_StoreError(t *testing.T) {
	s := newTestServer(t, failingStore{})

	result := callTool(t, s.handleCheckQuota, map[string]any{"user_id": "42"})
	assert.True(t, result.IsError, "expected tool error when the store is down")
}

func TestRemainingQuota(t *testing.T) {
	s := newTestServer(t, quota.NewMemoryStore())
	args := map[string]any{"user_id": "42"}

	remaining := func() remainingQuotaResult {
		result := callTool(t, s.handleRemainingQuota, args)
		require.False(t, result.IsError, "unexpected tool error")
		var out remainingQuotaResult
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
		return out
	}

	out := remaining()
	require.Len(t, out.Routes, 1)
	assert.Equal(t, uint32(2), out.Routes[0].Tiers[0].Remaining)

	// remaining_quota consumes nothing
	assert.Equal(t, uint32(2), remaining().Routes[0].Tiers[0].Remaining)

	// check_quota does
	result := callTool(t, s.handleCheckQuota, args)
	require.False(t, result.IsError, "unexpected tool error")
	assert.Equal(t, uint32(1), remaining().Routes[0].Tiers[0].Remaining)
}

func TestHTTPHandlerNotNil(t *testing.T) {
	s := newTestServer(t, quota.NewMemoryStore())
	assert.NotNil(t, s.HTTPHandler(), "expected streamable HTTP handler")
}
