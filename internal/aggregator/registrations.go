package aggregator

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp-app/agent/internal/upstream"
)

// ToolRegistration, PromptRegistration, ResourceRegistration and
// ResourceTemplateRegistration pair a namespaced capability with the
// handler that routes its invocation back to the owning upstream —
// the shape a session's inbound mcp.Server registers directly via
// AddTool/AddPrompt/AddResource/AddResourceTemplate, so the SDK's own
// list_changed delivery does the notifying (spec.md §4.9 is then just
// "call Refresh"; the AddTool/RemoveTools pattern already covers wire
// delivery).
type ToolRegistration struct {
	ServerName string
	Tool       *mcp.Tool
	Handler    mcp.ToolHandler
}

type PromptRegistration struct {
	ServerName string
	Prompt     *mcp.Prompt
	Handler    mcp.PromptHandler
}

type ResourceRegistration struct {
	ServerName string
	Resource   *mcp.Resource
	Handler    mcp.ResourceHandler
}

type ResourceTemplateRegistration struct {
	ServerName string
	Template   *mcp.ResourceTemplate
	Handler    mcp.ResourceHandler
}

// Capabilities is one session's full filtered/namespaced view,
// per spec.md §3 CapabilityView.
type Capabilities struct {
	Tools             []ToolRegistration
	Prompts           []PromptRegistration
	Resources         []ResourceRegistration
	ResourceTemplates []ResourceTemplateRegistration
}

// ToolNames, PromptNames, ResourceURIs and TemplateURITemplates return
// just the identifiers, the shape Server.RemoveTools & co. expect.
func (c Capabilities) ToolNames() []string {
	out := make([]string, len(c.Tools))
	for i, t := range c.Tools {
		out[i] = t.Tool.Name
	}
	return out
}

func (c Capabilities) PromptNames() []string {
	out := make([]string, len(c.Prompts))
	for i, p := range c.Prompts {
		out[i] = p.Prompt.Name
	}
	return out
}

func (c Capabilities) ResourceURIs() []string {
	out := make([]string, len(c.Resources))
	for i, r := range c.Resources {
		out[i] = r.Resource.URI
	}
	return out
}

func (c Capabilities) TemplateURITemplates() []string {
	out := make([]string, len(c.ResourceTemplates))
	for i, r := range c.ResourceTemplates {
		out[i] = r.Template.URITemplate
	}
	return out
}

// BuildCapabilities fans out to every admitted upstream and returns the
// namespaced registrations a session's inbound server should carry,
// with handlers that close over conns/allowed to route back to the
// right upstream on invocation.
func BuildCapabilities(ctx context.Context, conns map[string]*upstream.OutboundConnection, names []string) (Capabilities, error) {
	allowed := AdmittedSet(names)

	tools, err := ListTools(ctx, conns, names)
	if err != nil {
		return Capabilities{}, err
	}
	prompts, err := ListPrompts(ctx, conns, names)
	if err != nil {
		return Capabilities{}, err
	}
	resources, err := ListResources(ctx, conns, names)
	if err != nil {
		return Capabilities{}, err
	}
	templates, err := ListResourceTemplates(ctx, conns, names)
	if err != nil {
		return Capabilities{}, err
	}

	var caps Capabilities
	for _, t := range tools {
		caps.Tools = append(caps.Tools, ToolRegistration{
			ServerName: t.Upstream,
			Tool:       t.Tool,
			Handler:    toolHandler(conns, allowed),
		})
	}
	for _, p := range prompts {
		caps.Prompts = append(caps.Prompts, PromptRegistration{
			ServerName: p.Upstream,
			Prompt:     p.Prompt,
			Handler:    promptHandler(conns, allowed),
		})
	}
	for _, r := range resources {
		caps.Resources = append(caps.Resources, ResourceRegistration{
			ServerName: r.Upstream,
			Resource:   r.Resource,
			Handler:    resourceHandler(conns, allowed),
		})
	}
	for _, rt := range templates {
		caps.ResourceTemplates = append(caps.ResourceTemplates, ResourceTemplateRegistration{
			ServerName: rt.Upstream,
			Template:   rt.Template,
			Handler:    resourceHandler(conns, allowed),
		})
	}
	return caps, nil
}

func toolHandler(conns map[string]*upstream.OutboundConnection, allowed map[string]bool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req.Params != nil {
			args = req.Params.Arguments
		}
		name := ""
		if req.Params != nil {
			name = req.Params.Name
		}
		return CallTool(ctx, name, args, conns, allowed)
	}
}

func promptHandler(conns map[string]*upstream.OutboundConnection, allowed map[string]bool) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		name, args := "", map[string]string{}
		if req.Params != nil {
			name, args = req.Params.Name, req.Params.Arguments
		}
		return GetPrompt(ctx, name, args, conns, allowed)
	}
}

func resourceHandler(conns map[string]*upstream.OutboundConnection, allowed map[string]bool) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := ""
		if req.Params != nil {
			uri = req.Params.URI
		}
		return ReadResource(ctx, uri, conns, allowed)
	}
}
