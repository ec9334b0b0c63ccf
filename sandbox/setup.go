// Package sandbox provides the persistent execution environment and the
// orchestration layer that runs user code with MCP tool servers loaded.
// This file holds the setup-code synthesis: the generated Python runs inside
// the environment before the user's code, in the same interpreter invocation,
// so bindings it
// establishes are visible to the user code. Configuration values are never
// spliced into source text: the server table and introspection queries
// travel as a base64-encoded JSON blob consumed by a fixed loader, so a
// hostile name or documentation string cannot escape the generated program.
package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/isdmx/sandboxd/toolserver"
)

// Interpreter is the runtime the environment image provides for payloads.
const Interpreter = "python3"

const setupTemplate = `# Auto-generated setup code for sandbox execution
import base64 as _b64
import json as _json
import os
from pathlib import Path
from mcp2py import load

_sandbox_config = _json.loads(_b64.b64decode("%s").decode("utf-8"))

def _load_tool_servers(config):
    loaded = {}
    for server in config["servers"]:
        for key, value in (server.get("env") or {}).items():
            os.environ[key] = value
        command = server["command"]
        for arg in server.get("args") or []:
            command += " " + arg
        try:
            handle = load(command)
        except Exception:
            handle = None
        loaded[server["name"]] = handle
        globals()[server["name"]] = handle
    return loaded

_servers = _load_tool_servers(_sandbox_config)

def _list_all_tools():
    """List name and first doc line for every tool on every loaded server."""
    tools = {}
    for name, handle in _servers.items():
        if handle is None or not hasattr(handle, "tools"):
            continue
        tools[name] = [
            {"name": t.__name__, "description": (t.__doc__ or "").split("\n")[0]}
            for t in handle.tools
        ]
    return tools

# Pre-computed once per invocation so helpers don't re-query the servers.
_all_tools = _list_all_tools()
`

const listToolsTemplate = `
_query = _json.loads(_b64.b64decode("%s").decode("utf-8"))
_name = _query.get("server")
if _name is None:
    print(_json.dumps(_all_tools))
else:
    print(_json.dumps({_name: _all_tools.get(_name, [])}))
`

const toolInfoTemplate = `
_query = _json.loads(_b64.b64decode("%s").decode("utf-8"))
_info = {"found": False, "name": _query["tool"]}
_handle = _servers.get(_query["server"])
if _handle is not None and hasattr(_handle, "tools"):
    for _tool in _handle.tools:
        if _tool.__name__ == _query["tool"]:
            _doc = _tool.__doc__ or ""
            _info = {
                "found": True,
                "name": _tool.__name__,
                "description": _doc.split("\n")[0],
                "doc": _doc,
            }
            break
print(_json.dumps(_info))
`

type setupPayload struct {
	Servers []toolserver.Server `json:"servers"`
}

type toolQuery struct {
	Server *string `json:"server,omitempty"`
	Tool   string  `json:"tool,omitempty"`
}

// SetupCode generates the initialization program for the configured servers,
// in configuration order.
func SetupCode(servers []toolserver.Server) string {
	return fmt.Sprintf(setupTemplate, encodePayload(setupPayload{Servers: normalize(servers)}))
}

// ListToolsCode generates an introspection program printing a JSON mapping
// of server name to tool summaries on stdout. An empty serverName lists all
// configured servers; a name that is not loaded reports an empty list.
func ListToolsCode(servers []toolserver.Server, serverName string) string {
	query := toolQuery{}
	if serverName != "" {
		query.Server = &serverName
	}
	return SetupCode(servers) + fmt.Sprintf(listToolsTemplate, encodePayload(query))
}

// ToolInfoCode generates an introspection program printing a JSON document
// for one tool, or a found=false marker, on stdout.
func ToolInfoCode(servers []toolserver.Server, serverName, toolName string) string {
	return SetupCode(servers) + fmt.Sprintf(toolInfoTemplate, encodePayload(toolQuery{Server: &serverName, Tool: toolName}))
}

// encodePayload marshals v and wraps it in base64 so it can sit inside a
// Python string literal regardless of content.
func encodePayload(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Payload types contain only strings, slices and maps; this is
		// unreachable with valid inputs.
		panic(fmt.Sprintf("encoding setup payload: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func normalize(servers []toolserver.Server) []toolserver.Server {
	if servers == nil {
		return []toolserver.Server{}
	}
	return servers
}
