// Package mcpserver provides the Model Context Protocol (MCP) server
// implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// sandbox orchestrator as four tools: execute_code, list_mcp_tools,
// get_mcp_tool_info and get_sandbox_info. It uses the mark3labs/mcp-go
// library to handle the protocol details.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration. Handler failures are converted into structured
// error results rather than propagated, keeping the long-lived process alive
// across individual tool-call failures.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, env, sb)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
