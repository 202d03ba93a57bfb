package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NamespacedTool pairs a discovered tool with the server id that serves it.
type NamespacedTool struct {
	ServerID string
	Tool     *mcpsdk.Tool
}

// NamespacedPrompt pairs a discovered prompt with its serving server id.
type NamespacedPrompt struct {
	ServerID string
	Prompt   *mcpsdk.Prompt
}

// NamespacedResource pairs a discovered resource with its serving server id.
type NamespacedResource struct {
	ServerID string
	Resource *mcpsdk.Resource
}

// NamespacedResourceTemplate pairs a discovered resource template with its
// serving server id.
type NamespacedResourceTemplate struct {
	ServerID string
	Template *mcpsdk.ResourceTemplate
}

func (m *Manager) readyConnections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		if c.State == StateReady {
			conns = append(conns, c)
		}
	}
	return conns
}

// ListTools returns the union of tools across every ready connection, each
// tagged with its serverId. Each connection's tools keep the order the
// server listed them in; the order of the connections relative to each
// other is not defined.
func (m *Manager) ListTools() []NamespacedTool {
	var out []NamespacedTool
	for _, c := range m.readyConnections() {
		for _, t := range c.Tools {
			out = append(out, NamespacedTool{ServerID: c.ID, Tool: t})
		}
	}
	return out
}

// ListPrompts returns the union of prompts across every ready connection.
func (m *Manager) ListPrompts() []NamespacedPrompt {
	var out []NamespacedPrompt
	for _, c := range m.readyConnections() {
		for _, p := range c.Prompts {
			out = append(out, NamespacedPrompt{ServerID: c.ID, Prompt: p})
		}
	}
	return out
}

// ListResources returns the union of resources across every ready connection.
func (m *Manager) ListResources() []NamespacedResource {
	var out []NamespacedResource
	for _, c := range m.readyConnections() {
		for _, r := range c.Resources {
			out = append(out, NamespacedResource{ServerID: c.ID, Resource: r})
		}
	}
	return out
}

// ListResourceTemplates returns the union of resource templates across
// every ready connection.
func (m *Manager) ListResourceTemplates() []NamespacedResourceTemplate {
	var out []NamespacedResourceTemplate
	for _, c := range m.readyConnections() {
		for _, t := range c.ResourceTemplates {
			out = append(out, NamespacedResourceTemplate{ServerID: c.ID, Template: t})
		}
	}
	return out
}

// CallTool invokes name on serverID, or on the server encoded in name if it
// is given in the namespaced "<serverId>.<local>" form (serverID may then
// be empty).
func (m *Manager) CallTool(ctx context.Context, serverID, name string, arguments map[string]any) (*mcpsdk.CallToolResult, error) {
	serverID, name = m.splitNamespacedName(serverID, name)

	conn, ok := m.readyConnection(serverID)
	if !ok {
		return nil, fmt.Errorf("no ready connection for server id %q", serverID)
	}
	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("call tool %q on %q: %w", name, serverID, err)
	}
	return result, nil
}

// ReadResource forwards a resource read verbatim to serverID's connection.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcpsdk.ReadResourceResult, error) {
	conn, ok := m.readyConnection(serverID)
	if !ok {
		return nil, fmt.Errorf("no ready connection for server id %q", serverID)
	}
	result, err := conn.session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("read resource %q from %q: %w", uri, serverID, err)
	}
	return result, nil
}

// GetPrompt forwards a prompt request verbatim to serverID's connection.
func (m *Manager) GetPrompt(ctx context.Context, serverID, name string, arguments map[string]string) (*mcpsdk.GetPromptResult, error) {
	conn, ok := m.readyConnection(serverID)
	if !ok {
		return nil, fmt.Errorf("no ready connection for server id %q", serverID)
	}
	result, err := conn.session.GetPrompt(ctx, &mcpsdk.GetPromptParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("get prompt %q from %q: %w", name, serverID, err)
	}
	return result, nil
}

func (m *Manager) readyConnection(serverID string) (*Connection, bool) {
	conn, ok := m.connection(serverID)
	if !ok || conn.State != StateReady {
		return nil, false
	}
	return conn, true
}

// splitNamespacedName strips a "<serverId>." prefix from name when
// serverID isn't already supplied, before forwarding to the connection.
func (m *Manager) splitNamespacedName(serverID, name string) (string, string) {
	if serverID != "" {
		return serverID, name
	}
	if idx := strings.Index(name, "."); idx != -1 {
		return name[:idx], name[idx+1:]
	}
	return serverID, name
}

// AITool is the shape unstable_getAITools() produces for each discovered
// tool: a description, input schema, and a ready-to-call Execute closure.
type AITool struct {
	Description string
	InputSchema *jsonschema.Schema
	Execute     func(ctx context.Context, args map[string]any) (string, error)
}

// GetAITools builds one entry per discovered tool, keyed
// "tool_<serverId>_<name>", each wrapping a normalize-name/resolve-server/
// invoke/surface-isError Execute closure.
func (m *Manager) GetAITools() map[string]AITool {
	out := make(map[string]AITool)
	for _, nt := range m.ListTools() {
		serverID, tool := nt.ServerID, nt.Tool
		key := fmt.Sprintf("tool_%s_%s", serverID, tool.Name)
		out[key] = AITool{
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				result, err := m.CallTool(ctx, serverID, tool.Name, args)
				if err != nil {
					return "", err
				}
				if result.IsError {
					return "", fmt.Errorf("%s", firstText(result, "Tool execution failed"))
				}
				return firstText(result, ""), nil
			},
		}
	}
	return out
}

func firstText(result *mcpsdk.CallToolResult, fallback string) string {
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			return tc.Text
		}
	}
	return fallback
}
