// Package sandbox provides the persistent execution environment and the
// orchestration layer that runs user code with MCP tool servers loaded.
//
// The package defines the Environment capability interface (create, run,
// cleanup) with a container-backed implementation (DockerEnv, also covering
// the CLI-compatible Podman) and a host-process development backend
// (ProcessEnv). On top of it, Sandbox composes one environment with a loaded
// tool-server configuration: it synthesizes setup code that starts the
// configured MCP servers inside the environment, prepends it to user code,
// and parses structured introspection output back out.
//
// Usage:
//
//	env, err := sandbox.NewEnvironment(logger, envConfig, "docker")
//	err = env.Create(ctx)
//	defer env.Cleanup(ctx)
//	sb, err := sandbox.New(env, "mcp_config.json", logger)
//	result, err := sb.Run(ctx, "print(weather.get_forecast('SF'))")
package sandbox
