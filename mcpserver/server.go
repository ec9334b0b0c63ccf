// Package mcpserver provides the Model Context Protocol (MCP) server
// implementation.
//
// The mcpserver package exposes the sandbox orchestrator's operations as MCP
// tools using the mark3labs/mcp-go library: execute_code, list_mcp_tools,
// get_mcp_tool_info and get_sandbox_info. Internal failures are converted to
// structured error results so a single bad tool call can never take down the
// long-lived server process.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/config"
	"github.com/isdmx/sandboxd/sandbox"
)

// MaxCodeChars bounds the size of a submitted program. Larger submissions
// are rejected before any container interaction.
const MaxCodeChars = 100000

// Orchestrator is the part of the sandbox the bridge drives.
type Orchestrator interface {
	Run(ctx context.Context, code string) (sandbox.ExecutionResult, error)
	ListTools(ctx context.Context, serverName string) (map[string][]sandbox.ToolSummary, error)
	GetToolInfo(ctx context.Context, serverName, toolName string) (sandbox.ToolInfo, error)
	ServerNames() []string
	ConfigPath() string
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	env       sandbox.Environment
	sandbox   Orchestrator
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, env sandbox.Environment, sb Orchestrator) (*MCPServer, error) {
	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		env:     env,
		sandbox: sb,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.String("sandbox.container_name", cfg.Sandbox.ContainerName),
		zap.Int("sandbox.cpu_quota", cfg.Sandbox.CPUQuota),
		zap.String("sandbox.memory", cfg.Sandbox.Memory),
		zap.String("sandbox.network_mode", cfg.Sandbox.NetworkMode),
		zap.String("servers.config_path", cfg.Servers.ConfigPath),
	)

	s.mcpServer = server.NewMCPServer("mcp-server-sandbox", "Persistent sandbox execution server with MCP tool servers")

	s.registerExecuteCodeTool()
	s.registerListToolsTool()
	s.registerToolInfoTool()
	s.registerSandboxInfoTool()

	return s, nil
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute Python code in the persistent sandbox with MCP tool servers loaded",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python code to execute",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Advisory execution time bound in seconds (not enforced)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerListToolsTool() {
	tool := mcp.Tool{
		Name:        "list_mcp_tools",
		Description: "List tools exposed by the MCP servers loaded in the sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"server_name": map[string]any{
					"type":        "string",
					"description": "Restrict the listing to one server (optional)",
				},
			},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListTools)
}

func (s *MCPServer) registerToolInfoTool() {
	tool := mcp.Tool{
		Name:        "get_mcp_tool_info",
		Description: "Get detailed information about one MCP tool",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"server_name": map[string]any{
					"type":        "string",
					"description": "Name of the MCP server",
				},
				"tool_name": map[string]any{
					"type":        "string",
					"description": "Name of the tool",
				},
			},
			Required: []string{"server_name", "tool_name"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleToolInfo)
}

func (s *MCPServer) registerSandboxInfoTool() {
	tool := mcp.Tool{
		Name:        "get_sandbox_info",
		Description: "Get the sandbox container identity, image and configured servers",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleSandboxInfo)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	timeout := request.GetInt("timeout", 30)

	execID := uuid.NewString()

	if code == "" {
		return s.errorResult("code cannot be empty", 1), nil
	}
	if len(code) > MaxCodeChars {
		s.logger.Warn("code rejected, exceeds size bound",
			zap.String("exec_id", execID),
			zap.Int("chars", len(code)))
		return s.errorResult(fmt.Sprintf("code too large (max %d characters)", MaxCodeChars), 1), nil
	}

	s.logger.Info("executing code in sandbox",
		zap.String("exec_id", execID),
		zap.Int("chars", len(code)),
		zap.Int("advisory_timeout_sec", timeout))

	result, err := s.sandbox.Run(ctx, code)
	if err != nil {
		s.logger.Error("sandbox execution failed",
			zap.String("exec_id", execID),
			zap.Error(err))
		return s.errorResult(fmt.Sprintf("execution failed: %v", err), 1), nil
	}

	s.logger.Info("code execution completed",
		zap.String("exec_id", execID),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	return s.jsonResult(map[string]any{
		"exit_code": result.ExitCode,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
	}), nil
}

// handleListTools handles the list_mcp_tools tool
func (s *MCPServer) handleListTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverName := request.GetString("server_name", "")

	s.logger.Info("listing MCP tools", zap.String("server", firstNonEmpty(serverName, "all")))

	tools, err := s.sandbox.ListTools(ctx, serverName)
	if err != nil {
		s.logger.Error("list_mcp_tools failed", zap.Error(err))
		return s.errorResult(fmt.Sprintf("failed to list tools: %v", err), 0), nil
	}

	return s.jsonResult(map[string]any{"tools": tools}), nil
}

// handleToolInfo handles the get_mcp_tool_info tool
func (s *MCPServer) handleToolInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverName, err := request.RequireString("server_name")
	if err != nil {
		return nil, fmt.Errorf("server_name parameter is required: %w", err)
	}
	toolName, err := request.RequireString("tool_name")
	if err != nil {
		return nil, fmt.Errorf("tool_name parameter is required: %w", err)
	}

	s.logger.Info("getting tool info",
		zap.String("server", serverName),
		zap.String("tool", toolName))

	info, err := s.sandbox.GetToolInfo(ctx, serverName, toolName)
	if err != nil {
		s.logger.Error("get_mcp_tool_info failed", zap.Error(err))
		return s.errorResult(fmt.Sprintf("failed to get tool info: %v", err), 0), nil
	}

	if !info.Found {
		s.logger.Warn("tool not found",
			zap.String("server", serverName),
			zap.String("tool", toolName))
	}

	return s.jsonResult(info), nil
}

// handleSandboxInfo handles the get_sandbox_info tool
func (s *MCPServer) handleSandboxInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.jsonResult(map[string]any{
		"status":         "ready",
		"container_name": s.env.ContainerName(),
		"image":          s.env.Image(),
		"mcp_servers":    s.sandbox.ServerNames(),
		"config_path":    s.sandbox.ConfigPath(),
	}), nil
}

// jsonResult encodes v as the single text content of a successful result.
func (s *MCPServer) jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return s.errorResult(fmt.Sprintf("failed to encode result: %v", err), 0)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}
}

// errorResult converts an internal failure to a structured error result.
// The error crosses the protocol boundary as data, never as a transport
// fault.
func (s *MCPServer) errorResult(message string, exitCode int) *mcp.CallToolResult {
	payload := map[string]any{"error": message}
	if exitCode != 0 {
		payload["exit_code"] = exitCode
	}
	data, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
