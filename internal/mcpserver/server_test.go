package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/audit"
	"github.com/marcus-qen/frontdesk/internal/callback"
	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/ledger"
	"github.com/marcus-qen/frontdesk/internal/shared/privacy"
	"github.com/marcus-qen/frontdesk/internal/store"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

func newTestMCPServer(t *testing.T) (*MCPServer, *tenant.Registry, *directory.Directory, *callback.Queue) {
	t.Helper()
	dir := t.TempDir()

	tenants := tenant.NewRegistry(zap.NewNop())
	agents := directory.New(zap.NewNop())

	db, err := store.Open(filepath.Join(dir, "callbacks.db"))
	if err != nil {
		t.Fatalf("open callback db: %v", err)
	}
	callbacks, err := callback.NewQueue(db, tenants, privacy.NewHasher([]byte("salt")), zap.NewNop())
	if err != nil {
		t.Fatalf("new callback queue: %v", err)
	}
	credits, err := ledger.NewStore(filepath.Join(dir, "ledger.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("new ledger store: %v", err)
	}
	auditStore, err := audit.NewStore(filepath.Join(dir, "audit.db"), 1000)
	if err != nil {
		t.Fatalf("new audit store: %v", err)
	}

	srv := New(tenants, agents, callbacks, credits, auditStore, nil, zap.NewNop())

	t.Cleanup(func() {
		_ = db.Close()
		_ = credits.Close()
		_ = auditStore.Close()
	})
	return srv, tenants, agents, callbacks
}

func connectClient(t *testing.T, srv *MCPServer) *mcp.ClientSession {
	t.Helper()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.server.Run(runCtx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect client: %v", err)
	}

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Logf("mcp server run exited with: %v", err)
			}
		case <-time.After(2 * time.Second):
		}
	})
	return session
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(result.Content))
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", result.Content[0])
	}
	return text.Text
}

func TestToolsRegistered(t *testing.T) {
	srv, _, _, _ := newTestMCPServer(t)
	session := connectClient(t, srv)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	expected := []string{
		"frontdesk_gateway_status",
		"frontdesk_list_agents",
		"frontdesk_list_callbacks",
		"frontdesk_search_audit",
		"frontdesk_tenant_usage",
	}

	if len(names) != len(expected) {
		t.Fatalf("expected %d tools, got %d: %v", len(expected), len(names), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Fatalf("unexpected tool list: got %v want %v", names, expected)
		}
	}
}

func TestListAgentsTool(t *testing.T) {
	srv, _, agents, _ := newTestMCPServer(t)
	a1, err := agents.Register(directory.Agent{TenantID: "t-acme", Name: "Dana", Extension: "101", Departments: []string{"support"}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := agents.Register(directory.Agent{TenantID: "t-acme", Name: "Lee", Extension: "102", Departments: []string{"sales"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := agents.SetStatus("t-acme", a1.ID, directory.StatusBusy); err != nil {
		t.Fatalf("set status: %v", err)
	}

	session := connectClient(t, srv)
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "frontdesk_list_agents",
		Arguments: map[string]any{
			"tenant_id": "t-acme",
			"status":    "busy",
		},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}

	var out []agentSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0].Name != "Dana" {
		t.Errorf("agents = %+v", out)
	}
}

func TestListCallbacksToolHidesNumbers(t *testing.T) {
	srv, tenants, _, callbacks := newTestMCPServer(t)
	if _, err := tenants.Create(tenant.Tenant{ID: "t-acme", Name: "Acme"}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if _, err := callbacks.Create(callback.Callback{
		TenantID: "t-acme",
		Number:   "+15551234567",
		Priority: callback.PriorityUrgent,
		Reason:   "missed call",
	}); err != nil {
		t.Fatalf("create callback: %v", err)
	}

	session := connectClient(t, srv)
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "frontdesk_list_callbacks",
		Arguments: map[string]any{"tenant_id": "t-acme"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}

	text := toolText(t, result)
	if strings.Contains(text, "+15551234567") {
		t.Error("raw caller number leaked through MCP tool")
	}
	if !strings.Contains(text, "caller_fingerprint") {
		t.Errorf("fingerprint missing: %s", text)
	}
}

func TestTenantUsageTool(t *testing.T) {
	srv, tenants, _, _ := newTestMCPServer(t)
	if _, err := tenants.Create(tenant.Tenant{ID: "t-acme", Name: "Acme", MonthlyMinutes: 500}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	session := connectClient(t, srv)
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "frontdesk_tenant_usage",
		Arguments: map[string]any{"tenant_id": "t-acme"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["name"] != "Acme" {
		t.Errorf("usage = %+v", out)
	}
}

func TestToolErrorsOnMissingTenant(t *testing.T) {
	srv, _, _, _ := newTestMCPServer(t)
	session := connectClient(t, srv)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "frontdesk_tenant_usage",
		Arguments: map[string]any{"tenant_id": "t-nope"},
	})
	if err == nil && (result == nil || !result.IsError) {
		t.Error("expected error for unknown tenant")
	}
}
