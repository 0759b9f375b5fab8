package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/mudler/LocalEntity/pkg/xlog"
)

// MCPServer points at a remote MCP server reachable over SSE.
type MCPServer struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// MCPSTDIOServer launches a local MCP server process and talks to it over
// stdin/stdout.
type MCPSTDIOServer struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
	Env  []string `json:"env"`
}

// toolInputSchema is the wire shape of an MCP tool's input schema.
type toolInputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// bearerTokenRoundTripper injects a bearer token into HTTP requests.
type bearerTokenRoundTripper struct {
	token string
	base  http.RoundTripper
}

func (rt *bearerTokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.token != "" {
		req.Header.Set("Authorization", "Bearer "+rt.token)
	}
	return rt.base.RoundTrip(req)
}

// MCPSource manages sessions against configured MCP servers and exposes
// their tools as registry entries.
type MCPSource struct {
	sessions []*mcp.ClientSession
	logger   *slog.Logger
}

// NewMCPSource connects to every configured server. Servers that fail to
// connect are skipped with a log line, the rest stay usable.
func NewMCPSource(ctx context.Context, servers []MCPServer, stdioServers []MCPSTDIOServer, logger *slog.Logger) *MCPSource {
	if logger == nil {
		logger = xlog.Nop()
	}
	src := &MCPSource{logger: logger}

	client := mcp.NewClient(&mcp.Implementation{Name: "LocalEntity", Version: "v1.0.0"}, nil)

	for _, server := range servers {
		httpClient := &http.Client{
			Timeout: 360 * time.Second,
			Transport: &bearerTokenRoundTripper{
				token: server.Token,
				base:  http.DefaultTransport,
			},
		}
		transport := &mcp.SSEClientTransport{HTTPClient: httpClient, Endpoint: server.URL}

		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			logger.Error("failed to connect to MCP server", "url", server.URL, "error", err)
			continue
		}
		src.sessions = append(src.sessions, session)
	}

	for _, server := range stdioServers {
		command := exec.Command(server.Cmd, server.Args...)
		command.Env = append(os.Environ(), server.Env...)

		session, err := client.Connect(ctx, &mcp.CommandTransport{Command: command}, nil)
		if err != nil {
			logger.Error("failed to connect to MCP server", "cmd", server.Cmd, "error", err)
			continue
		}
		src.sessions = append(src.sessions, session)
	}

	return src
}

// Tools lists every tool of every connected session as a proxy Tool.
func (s *MCPSource) Tools(ctx context.Context) ([]Tool, error) {
	var out []Tool
	for _, session := range s.sessions {
		tools, err := SessionTools(ctx, session, s.logger)
		if err != nil {
			s.logger.Error("failed to list MCP tools", "error", err)
			continue
		}
		out = append(out, tools...)
	}
	return out, nil
}

// Close shuts down every session.
func (s *MCPSource) Close() {
	for _, session := range s.sessions {
		session.Close()
	}
	s.sessions = nil
}

// SessionTools wraps each tool of one MCP session as a proxy Tool.
func SessionTools(ctx context.Context, session *mcp.ClientSession, logger *slog.Logger) ([]Tool, error) {
	if logger == nil {
		logger = xlog.Nop()
	}

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing MCP tools: %w", err)
	}

	out := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		def := Definition{
			Name:        t.Name,
			Description: t.Description,
			Properties:  map[string]jsonschema.Definition{},
			Category:    "mcp",
		}

		if t.InputSchema != nil {
			raw, err := json.Marshal(t.InputSchema)
			if err == nil {
				var schema toolInputSchema
				if err := json.Unmarshal(raw, &schema); err == nil {
					def.Required = schema.Required
					for name, prop := range schema.Properties {
						b, err := json.Marshal(prop)
						if err != nil {
							continue
						}
						var d jsonschema.Definition
						if err := json.Unmarshal(b, &d); err != nil {
							continue
						}
						def.Properties[name] = d
					}
				}
			}
		}

		out = append(out, &mcpTool{session: session, def: def, logger: logger})
	}
	return out, nil
}

// mcpTool proxies one remote MCP tool.
type mcpTool struct {
	session *mcp.ClientSession
	def     Definition
	logger  *slog.Logger
}

func (t *mcpTool) Definition() Definition { return t.def }

func (t *mcpTool) Run(ctx context.Context, params Params) (Result, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.def.Name,
		Arguments: map[string]interface{}(params),
	})
	if err != nil {
		return Result{}, fmt.Errorf("calling MCP tool %s: %w", t.def.Name, err)
	}

	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	output := strings.Join(parts, "\n")

	if res.IsError {
		return Result{}, fmt.Errorf("MCP tool %s failed: %s", t.def.Name, output)
	}
	return Result{Output: output}, nil
}
