// Package mcpserver exposes read-only frontdesk operations as MCP tools,
// so an operator's assistant can inspect tenants, agents, callbacks, and
// gateway health without write access. Every tool answer is tenant-scoped
// and free of raw caller numbers.
package mcpserver

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/audit"
	"github.com/marcus-qen/frontdesk/internal/callback"
	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/gateway"
	"github.com/marcus-qen/frontdesk/internal/ledger"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// Version is injected from the build metadata.
var Version = "dev"

// MCPServer exposes frontdesk state as MCP tools.
type MCPServer struct {
	server     *mcp.Server
	handler    http.Handler
	tenants    *tenant.Registry
	agents     *directory.Directory
	callbacks  *callback.Queue
	credits    *ledger.Store
	auditStore *audit.Store
	gateway    *gateway.Gateway
	logger     *zap.Logger
}

// New creates and wires the MCP tool surface.
func New(
	tenants *tenant.Registry,
	agents *directory.Directory,
	callbacks *callback.Queue,
	credits *ledger.Store,
	auditStore *audit.Store,
	gw *gateway.Gateway,
	logger *zap.Logger,
) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	implVersion := Version
	if implVersion == "" {
		implVersion = "dev"
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "frontdesk",
		Version: implVersion,
	}, nil)

	m := &MCPServer{
		server:     srv,
		tenants:    tenants,
		agents:     agents,
		callbacks:  callbacks,
		credits:    credits,
		auditStore: auditStore,
		gateway:    gw,
		logger:     logger.Named("mcp"),
	}

	m.registerTools()
	m.handler = mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return m.server
	}, nil)

	return m
}

// Handler returns the HTTP SSE transport handler mounted at /mcp.
func (s *MCPServer) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}
