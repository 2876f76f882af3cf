package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	registrar "github.com/turkkalori/fcm-registrar"
)

func (g *RegistrarMCPServer) registerTools() {
	g.server.AddTool(submitTokenTool(), g.handleSubmitToken)
	g.server.AddTool(resumeRegistrationTool(), g.handleResumeRegistration)
}

func submitTokenTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "submit_token",
		Description: "Register an FCM device token with the registry, retrying transient failures. Blocks until the token is acknowledged or fails.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"token": {"type": "string", "description": "FCM registration token"}
			},
			"required": ["token"]
		}`),
	}
}

func (g *RegistrarMCPServer) handleSubmitToken(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Token string `json:"token"`
	}
	if req.Params.Arguments != nil {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}

	ack, err := g.reg.Submit(ctx, args.Token)
	g.recordUpdated(ctx)
	if err != nil {
		return errorResult(describeError(err)), nil
	}
	return jsonResult(ack)
}

func resumeRegistrationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "resume_registration",
		Description: "Resume a registration left pending by an earlier run.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (g *RegistrarMCPServer) handleResumeRegistration(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ack, err := g.reg.Resume(ctx)
	g.recordUpdated(ctx)
	if errors.Is(err, registrar.ErrNoRecord) {
		return jsonResult(map[string]any{"resumed": false, "message": "no registration record"})
	}
	if err != nil {
		return errorResult(describeError(err)), nil
	}
	return jsonResult(ack)
}

func (g *RegistrarMCPServer) recordUpdated(ctx context.Context) {
	if err := g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: recordURI}); err != nil {
		g.logger.Debug("resource update notification failed", "error", err)
	}
}

// describeError prefixes err with its outcome class.
func describeError(err error) string {
	switch {
	case errors.Is(err, registrar.ErrInvalidToken):
		return "invalid token: " + err.Error()
	case errors.Is(err, registrar.ErrRejected):
		return "rejected: " + err.Error()
	case errors.Is(err, registrar.ErrTransientFailureExhausted):
		return "retries exhausted: " + err.Error()
	case errors.Is(err, registrar.ErrSuperseded):
		return "superseded: " + err.Error()
	default:
		return err.Error()
	}
}
