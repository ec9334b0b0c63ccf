// Package toolserver loads the declarative MCP tool-server configuration.
//
// The configuration file uses the conventional mcpServers shape:
//
//	{
//	  "mcpServers": {
//	    "weather": {
//	      "command": "uvx",
//	      "args": ["mcp-server-weather"],
//	      "env": {"WEATHER_API_KEY": "..."}
//	    }
//	  }
//	}
//
// The file is parsed through the yaml.v3 node API, which accepts both JSON
// and YAML and preserves mapping order, so the loaded server list iterates
// in the file's insertion order.
package toolserver

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration indicates the tool-server configuration is missing or
// structurally invalid. It is startup-fatal.
var ErrConfiguration = errors.New("invalid tool server configuration")

// Server is one configured tool server. Name becomes an identifier inside
// the execution environment, so it is validated at load time.
type Server struct {
	Name    string            `yaml:"-" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
}

// LaunchCommand returns the command line used to start the server, as a
// single string.
func (s Server) LaunchCommand() string {
	cmd := s.Command
	for _, arg := range s.Args {
		cmd += " " + arg
	}
	return cmd
}

// nameRe matches names that are valid both as identifiers bound inside the
// execution environment and as environment-variable-name fragments.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads and validates the tool-server configuration file, returning
// the servers in the file's mapping order.
func Load(path string) ([]Server, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from the operator's CLI flag
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrConfiguration, path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %v", ErrConfiguration, path, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %q: top level must be a mapping", ErrConfiguration, path)
	}

	servers := mappingValue(root.Content[0], "mcpServers")
	if servers == nil {
		return nil, fmt.Errorf("%w: %q: missing mcpServers key", ErrConfiguration, path)
	}
	if servers.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %q: mcpServers must be a mapping", ErrConfiguration, path)
	}

	var result []Server
	for i := 0; i+1 < len(servers.Content); i += 2 {
		name := servers.Content[i].Value
		if !nameRe.MatchString(name) {
			return nil, fmt.Errorf("%w: server name %q is not a valid identifier", ErrConfiguration, name)
		}

		var server Server
		if err := servers.Content[i+1].Decode(&server); err != nil {
			return nil, fmt.Errorf("%w: server %q: %v", ErrConfiguration, name, err)
		}
		if server.Command == "" {
			return nil, fmt.Errorf("%w: server %q: command is required", ErrConfiguration, name)
		}
		server.Name = name
		result = append(result, server)
	}

	return result, nil
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
