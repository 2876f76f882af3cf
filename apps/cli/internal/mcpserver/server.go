package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	registrar "github.com/turkkalori/fcm-registrar"
)

// Registrar is the registrar surface the MCP server drives.
type Registrar interface {
	Submit(ctx context.Context, token string) (registrar.Ack, error)
	Resume(ctx context.Context) (registrar.Ack, error)
	Record() (registrar.Record, bool)
}

// RegistrarMCPServer exposes token registration as MCP tools and resources.
type RegistrarMCPServer struct {
	server   *mcp.Server
	reg      Registrar
	endpoint string
	logger   *slog.Logger
}

// New creates a RegistrarMCPServer around reg. endpoint is only reported.
func New(reg Registrar, endpoint, version string, logger *slog.Logger) *RegistrarMCPServer {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "fcm-registrar",
		Version: version,
	}, &mcp.ServerOptions{
		SubscribeHandler:   func(context.Context, *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error { return nil },
	})

	if logger == nil {
		logger = slog.Default()
	}
	g := &RegistrarMCPServer{
		server:   s,
		reg:      reg,
		endpoint: endpoint,
		logger:   logger,
	}
	g.registerResources()
	g.registerTools()
	return g
}

// Run starts the MCP server on stdio and blocks until done.
func (g *RegistrarMCPServer) Run(ctx context.Context) error {
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// RunWithTransport starts the MCP server on a custom transport (for testing).
func (g *RegistrarMCPServer) RunWithTransport(ctx context.Context, t mcp.Transport) error {
	_, err := g.server.Connect(ctx, t, nil)
	return err
}

// jsonResult marshals v to JSON and returns it as a text CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult returns a CallToolResult with IsError=true.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
