// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcpserver exposes the admission engine as MCP tools, so agent
// runtimes can gate their own actions on the same quotas as every other
// caller. Served over stdio or mounted on the HTTP server.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/quotagate"
	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/denylist"
	"github.com/kadirpekel/quotagate/pkg/observability"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

// Server wraps a coordinator behind the check_quota and remaining_quota
// MCP tools.
type Server struct {
	cfg         *config.Config
	coordinator *quota.Coordinator
	deny        denylist.Denylist
	mcp         *server.MCPServer
}

// New creates an MCP server over the coordinator and registers its tools.
func New(cfg *config.Config, coordinator *quota.Coordinator) *Server {
	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
	}

	mcpServer := server.NewMCPServer("quotagate", quotagate.Version,
		server.WithToolCapabilities(false),
	)

	// Every tool argument is one context key; the declared properties are
	// the conventional ones, extra string arguments pass through too.
	checkTool := mcp.NewTool("check_quota",
		mcp.WithDescription("Consume one unit of every quota matching the given context and report whether the request is admitted. Rejection consumes nothing."),
		mcp.WithString("user_id", mcp.Description("Principal that per-user quotas are keyed on")),
		mcp.WithString("channel_id", mcp.Description("Channel that per-channel quotas are keyed on")),
		mcp.WithString("guild_id", mcp.Description("Group that per-group quotas are keyed on")),
	)
	mcpServer.AddTool(checkTool, s.handleCheckQuota)

	remainingTool := mcp.NewTool("remaining_quota",
		mcp.WithDescription("Report how many units each matching quota tier would currently grant, without consuming anything."),
		mcp.WithString("user_id", mcp.Description("Principal that per-user quotas are keyed on")),
		mcp.WithString("channel_id", mcp.Description("Channel that per-channel quotas are keyed on")),
		mcp.WithString("guild_id", mcp.Description("Group that per-group quotas are keyed on")),
	)
	mcpServer.AddTool(remainingTool, s.handleRemainingQuota)

	s.mcp = mcpServer
	return s
}

// SetDenylist attaches the denylist consulted before check_quota admits.
func (s *Server) SetDenylist(d denylist.Denylist) {
	s.deny = d
}

// ServeStdio answers MCP requests on stdin/stdout until EOF or a fatal
// transport error.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// HTTPHandler returns the streamable HTTP transport for mounting on the
// HTTP server.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

type checkQuotaResult struct {
	Admitted bool   `json:"admitted"`
	Denied   bool   `json:"denied,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type remainingQuotaResult struct {
	Routes []quota.RouteStatus `json:"routes"`
}

func (s *Server) handleCheckQuota(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqCtx, err := contextFromArgs(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.deny != nil {
		principal := reqCtx[s.cfg.Denylist.PrincipalKey]
		if principal != "" {
			entry, err := s.deny.Check(ctx, principal)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("denylist unavailable: %v", err)), nil
			}
			if entry != nil {
				observability.GetGlobalMetrics().RecordDenylistHit(ctx)
				return toolJSON(checkQuotaResult{Denied: true, Reason: entry.Reason})
			}
		}
	}

	admitted, err := s.coordinator.Admit(ctx, reqCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store unavailable: %v", err)), nil
	}
	return toolJSON(checkQuotaResult{Admitted: admitted})
}

func (s *Server) handleRemainingQuota(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqCtx, err := contextFromArgs(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	statuses, err := s.coordinator.Inspect(ctx, reqCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store unavailable: %v", err)), nil
	}
	return toolJSON(remainingQuotaResult{Routes: statuses})
}

// contextFromArgs turns the tool arguments into a request context. Only
// string values are meaningful as context keys.
func contextFromArgs(args map[string]any) (map[string]string, error) {
	reqCtx := make(map[string]string, len(args))
	for key, value := range args {
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a string, got %T", key, value)
		}
		reqCtx[key] = str
	}
	return reqCtx, nil
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
