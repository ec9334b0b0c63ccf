// Package main is the entry point for the sandboxd MCP server.
//
// sandboxd provisions one persistent, named container, loads a configured
// set of MCP tool servers inside it, and exposes code execution plus tool
// introspection as MCP operations over stdio or HTTP.
//
// Usage:
//
//	sandboxd --config mcp_config.json [--image sandbox:latest] [--container-name mcp-sandbox-persistent]
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging, viper for
// configuration and cobra for the command line.
package main
