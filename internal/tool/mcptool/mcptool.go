// Package mcptool imports tools from external MCP servers into the registry.
//
// It connects via stdio or streamable-HTTP transports using the official MCP
// Go SDK (github.com/modelcontextprotocol/go-sdk). Each discovered tool is
// wrapped so the reasoning loop can call it like any builtin; registry names
// are prefixed with the server name to avoid collisions between servers.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxtail/voxtail/internal/config"
	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/pkg/types"
)

// Connector manages the live MCP server sessions behind registered tools.
type Connector struct {
	client   *mcpsdk.Client
	logger   *slog.Logger
	sessions []*mcpsdk.ClientSession
}

// NewConnector creates a Connector. One SDK client manages all sessions.
func NewConnector(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "voxtail", Version: "1.0.0"},
			nil,
		),
		logger: logger,
	}
}

// ConnectAll connects every configured server and registers its tools with
// reg under "<server>__<tool>" names. A server that fails to connect or list
// tools is logged and skipped; startup proceeds with the rest.
func (c *Connector) ConnectAll(ctx context.Context, reg *tool.Registry, servers []config.MCPServerConfig) {
	for _, srv := range servers {
		n, err := c.connect(ctx, reg, srv)
		if err != nil {
			c.logger.Warn("skipping MCP server", "server", srv.Name, "err", err)
			continue
		}
		c.logger.Info("connected MCP server", "server", srv.Name, "tools", n)
	}
}

func (c *Connector) connect(ctx context.Context, reg *tool.Registry, cfg config.MCPServerConfig) (int, error) {
	if cfg.Name == "" {
		return 0, fmt.Errorf("mcptool: server name must not be empty")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case config.MCPStdio:
		if cfg.Command == "" {
			return 0, fmt.Errorf("mcptool: stdio server %q requires a command", cfg.Name)
		}
		transport = &mcpsdk.CommandTransport{
			Command: exec.CommandContext(ctx, cfg.Command, cfg.Args...),
		}
	case config.MCPHTTP:
		if cfg.URL == "" {
			return 0, fmt.Errorf("mcptool: http server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return 0, fmt.Errorf("mcptool: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return 0, fmt.Errorf("mcptool: connect: %w", err)
	}

	count := 0
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return 0, fmt.Errorf("mcptool: list tools: %w", err)
		}
		rt := &remoteTool{
			session: session,
			remote:  t.Name,
			def: types.ToolDefinition{
				Name:        RegistryName(cfg.Name, t.Name),
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
		}
		if err := reg.Register(rt); err != nil {
			c.logger.Warn("skipping MCP tool", "server", cfg.Name, "tool", t.Name, "err", err)
			continue
		}
		count++
	}

	c.sessions = append(c.sessions, session)
	return count, nil
}

// Close shuts down all server sessions.
func (c *Connector) Close() error {
	var firstErr error
	for _, s := range c.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptool: close session: %w", err)
		}
	}
	c.sessions = nil
	return firstErr
}

// RegistryName builds the registry name for a remote tool.
func RegistryName(server, toolName string) string {
	return server + "__" + toolName
}

var _ tool.Tool = (*remoteTool)(nil)

// remoteTool routes one registry entry to a server session.
type remoteTool struct {
	session *mcpsdk.ClientSession
	remote  string
	def     types.ToolDefinition
}

// Definition implements tool.Tool.
func (t *remoteTool) Definition() types.ToolDefinition {
	return t.def
}

// Invoke implements tool.Tool. Application-level tool errors surface as an
// error so the loop reports them like any failed invocation.
func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.remote,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcptool: call %s: %w", t.remote, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcptool: %s reported error: %s", t.remote, sb.String())
	}
	return sb.String(), nil
}

// schemaToMap converts the SDK's schema value into the map form the registry
// validates with.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
