package sandbox

import (
	"fmt"

	"go.uber.org/zap"
)

// NewEnvironment creates the environment backend selected by name. Podman is
// CLI-compatible with Docker, so it reuses DockerEnv with a different binary.
func NewEnvironment(logger *zap.Logger, config EnvConfig, backend string) (Environment, error) {
	switch backend {
	case "docker":
		return NewDockerEnv(logger, config), nil
	case "podman":
		return NewDockerEnv(logger, config, WithContainerCLI("podman")), nil
	case "process":
		return NewProcessEnv(logger, config), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}
