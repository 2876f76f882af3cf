package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	recordURI = "registrar://record"
	statusURI = "registrar://status"
)

func (g *RegistrarMCPServer) registerResources() {
	g.server.AddResource(&mcp.Resource{
		URI:         recordURI,
		Name:        "Registration Record",
		Description: "The persisted token registration record",
		MIMEType:    "application/json",
	}, g.handleRecordResource)

	g.server.AddResource(&mcp.Resource{
		URI:         statusURI,
		Name:        "Registrar Status",
		Description: "Configured endpoint and current registration state",
		MIMEType:    "application/json",
	}, g.handleStatusResource)
}

func (g *RegistrarMCPServer) handleRecordResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	rec, ok := g.reg.Record()
	if !ok {
		return jsonResource(req.Params.URI, map[string]any{"registered": false})
	}
	return jsonResource(req.Params.URI, rec)
}

func (g *RegistrarMCPServer) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	status := map[string]any{
		"endpoint":     g.endpoint,
		"acknowledged": false,
	}
	if rec, ok := g.reg.Record(); ok {
		status["state"] = rec.State
		status["acknowledged"] = rec.Acknowledged()
		status["resumable"] = rec.Resumable()
		status["instance_id"] = rec.InstanceID
	}
	return jsonResource(req.Params.URI, status)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
