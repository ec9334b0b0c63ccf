// Package sandbox provides the persistent execution environment and the
// orchestration layer that runs user code with MCP tool servers loaded.
// Sandbox is the orchestrator: the composition of one execution environment
// with a loaded tool-server configuration.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/toolserver"
)

// ToolSummary is one tool's name plus the first line of its documentation.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolInfo is the full introspection record for a single tool. Found=false
// with a nil error means the introspection ran and reported absence as data,
// which is operationally different from an execution failure.
type ToolInfo struct {
	Found       bool   `json:"found"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Doc         string `json:"doc,omitempty"`
}

// Sandbox owns one Environment by reference and one immutable tool-server
// configuration, loaded once at construction. Every call re-synthesizes and
// re-loads the tool-server bindings inside the environment; there is no
// cross-call persistence of loaded bindings.
type Sandbox struct {
	env        Environment
	servers    []toolserver.Server
	configPath string
	logger     *zap.Logger
}

// New creates a Sandbox around env, loading the tool-server configuration
// from configPath. A missing or invalid configuration is fatal.
func New(env Environment, configPath string, logger *zap.Logger) (*Sandbox, error) {
	servers, err := toolserver.Load(configPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(servers))
	for i, server := range servers {
		names[i] = server.Name
	}
	logger.Info("tool server configuration loaded",
		zap.String("path", configPath),
		zap.Strings("servers", names))

	return &Sandbox{
		env:        env,
		servers:    servers,
		configPath: configPath,
		logger:     logger,
	}, nil
}

// Run executes user code in the environment with the tool-server bindings
// established first. Setup and user code run in one interpreter invocation
// and share scope. The result, including a non-zero exit code, is returned
// unmodified.
func (s *Sandbox) Run(ctx context.Context, code string) (ExecutionResult, error) {
	full := SetupCode(s.servers) + "\n" + code
	return s.env.Run(ctx, []string{Interpreter, "-c", full})
}

// ListTools reports the tools exposed by loaded servers as a mapping from
// server name to summaries. serverName restricts the listing to one server;
// a server that is absent or failed to load yields an empty list, while an
// execution failure or unparseable output is an error.
func (s *Sandbox) ListTools(ctx context.Context, serverName string) (map[string][]ToolSummary, error) {
	result, err := s.env.Run(ctx, []string{Interpreter, "-c", ListToolsCode(s.servers, serverName)})
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("listing tools failed with exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	var tools map[string][]ToolSummary
	if err := json.Unmarshal([]byte(result.Stdout), &tools); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntrospection, err)
	}
	if tools == nil {
		tools = map[string][]ToolSummary{}
	}
	return tools, nil
}

// GetToolInfo looks up one tool by exact name on the named server. Absence
// is reported as data (Found=false), not as an error.
func (s *Sandbox) GetToolInfo(ctx context.Context, serverName, toolName string) (ToolInfo, error) {
	result, err := s.env.Run(ctx, []string{Interpreter, "-c", ToolInfoCode(s.servers, serverName, toolName)})
	if err != nil {
		return ToolInfo{}, err
	}
	if result.ExitCode != 0 {
		return ToolInfo{}, fmt.Errorf("tool lookup failed with exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	var info ToolInfo
	if err := json.Unmarshal([]byte(result.Stdout), &info); err != nil {
		return ToolInfo{}, fmt.Errorf("%w: %v", ErrMalformedIntrospection, err)
	}
	return info, nil
}

// ServerNames returns the configured server names in configuration order.
func (s *Sandbox) ServerNames() []string {
	names := make([]string, len(s.servers))
	for i, server := range s.servers {
		names[i] = server.Name
	}
	return names
}

// ConfigPath returns the path the tool-server configuration was loaded from.
func (s *Sandbox) ConfigPath() string {
	return s.configPath
}
