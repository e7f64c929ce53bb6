package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marcus-qen/frontdesk/internal/audit"
	"github.com/marcus-qen/frontdesk/internal/directory"
)

type listAgentsInput struct {
	TenantID string `json:"tenant_id" jsonschema:"tenant identifier"`
	Status   string `json:"status,omitempty" jsonschema:"agent status filter: available, busy, offline, or all"`
}

type listCallbacksInput struct {
	TenantID string `json:"tenant_id" jsonschema:"tenant identifier"`
	Status   string `json:"status,omitempty" jsonschema:"optional callback status filter"`
}

type tenantUsageInput struct {
	TenantID string `json:"tenant_id" jsonschema:"tenant identifier"`
}

type searchAuditInput struct {
	TenantID string `json:"tenant_id" jsonschema:"tenant identifier"`
	Type     string `json:"type,omitempty" jsonschema:"optional audit event type filter"`
	Since    string `json:"since,omitempty" jsonschema:"optional ISO-8601 timestamp filter"`
	Limit    int    `json:"limit,omitempty" jsonschema:"optional limit (default 50)"`
}

type gatewayStatusInput struct{}

type agentSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Extension   string   `json:"extension"`
	Departments []string `json:"departments"`
	Status      string   `json:"status"`
	Load        int      `json:"load"`
	Capacity    int      `json:"capacity"`
}

func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "frontdesk_list_agents",
		Description: "List a tenant's agents with status filtering",
	}, s.handleListAgents)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "frontdesk_list_callbacks",
		Description: "List a tenant's pending and resolved callbacks",
	}, s.handleListCallbacks)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "frontdesk_tenant_usage",
		Description: "Get a tenant's call-minute usage and concurrent call count",
	}, s.handleTenantUsage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "frontdesk_search_audit",
		Description: "Search a tenant's audit trail",
	}, s.handleSearchAudit)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "frontdesk_gateway_status",
		Description: "Get AI provider endpoint health and breaker states",
	}, s.handleGatewayStatus)
}

func (s *MCPServer) handleListAgents(_ context.Context, _ *mcp.CallToolRequest, input listAgentsInput) (*mcp.CallToolResult, any, error) {
	if s.agents == nil {
		return nil, nil, fmt.Errorf("agent directory unavailable")
	}
	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return nil, nil, fmt.Errorf("tenant_id is required")
	}

	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status == "" {
		status = "all"
	}
	switch status {
	case "all", string(directory.StatusAvailable), string(directory.StatusBusy), string(directory.StatusOffline):
	default:
		return nil, nil, fmt.Errorf("invalid status %q: expected available, busy, offline, or all", input.Status)
	}

	out := make([]agentSummary, 0)
	for _, a := range s.agents.List(tenantID) {
		if status != "all" && string(a.Status) != status {
			continue
		}
		out = append(out, agentSummary{
			ID:          a.ID,
			Name:        a.Name,
			Extension:   a.Extension,
			Departments: append([]string(nil), a.Departments...),
			Status:      string(a.Status),
			Load:        a.Load,
			Capacity:    a.Capacity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return jsonToolResult(out)
}

func (s *MCPServer) handleListCallbacks(_ context.Context, _ *mcp.CallToolRequest, input listCallbacksInput) (*mcp.CallToolResult, any, error) {
	if s.callbacks == nil {
		return nil, nil, fmt.Errorf("callback queue unavailable")
	}
	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return nil, nil, fmt.Errorf("tenant_id is required")
	}

	list, err := s.callbacks.List(tenantID)
	if err != nil {
		return nil, nil, err
	}
	if want := strings.TrimSpace(input.Status); want != "" {
		filtered := list[:0]
		for _, cb := range list {
			if string(cb.Status) == want {
				filtered = append(filtered, cb)
			}
		}
		list = filtered
	}

	// Callback's JSON shape already excludes the raw number.
	return jsonToolResult(list)
}

func (s *MCPServer) handleTenantUsage(_ context.Context, _ *mcp.CallToolRequest, input tenantUsageInput) (*mcp.CallToolResult, any, error) {
	if s.tenants == nil || s.credits == nil {
		return nil, nil, fmt.Errorf("tenant registry unavailable")
	}
	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return nil, nil, fmt.Errorf("tenant_id is required")
	}

	tn, err := s.tenants.Get(tenantID)
	if err != nil {
		return nil, nil, err
	}

	return jsonToolResult(map[string]any{
		"tenant_id":       tn.ID,
		"name":            tn.Name,
		"active":          tn.Active,
		"monthly_minutes": tn.MonthlyMinutes,
		"used_seconds":    s.credits.Usage(tn.ID),
		"active_calls":    s.tenants.ActiveCalls(tn.ID),
	})
}

func (s *MCPServer) handleSearchAudit(_ context.Context, _ *mcp.CallToolRequest, input searchAuditInput) (*mcp.CallToolResult, any, error) {
	if s.auditStore == nil {
		return nil, nil, fmt.Errorf("audit store unavailable")
	}
	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return nil, nil, fmt.Errorf("tenant_id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	f := audit.Filter{
		TenantID: tenantID,
		Type:     audit.EventType(strings.TrimSpace(input.Type)),
		Limit:    limit,
	}
	if since := strings.TrimSpace(input.Since); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid since timestamp %q: %w", since, err)
		}
		f.Since = t
	}

	return jsonToolResult(s.auditStore.Query(f))
}

func (s *MCPServer) handleGatewayStatus(_ context.Context, _ *mcp.CallToolRequest, _ gatewayStatusInput) (*mcp.CallToolResult, any, error) {
	if s.gateway == nil {
		return nil, nil, fmt.Errorf("gateway unavailable")
	}
	return jsonToolResult(s.gateway.Status())
}

func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textToolResult(string(data)), nil, nil
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
