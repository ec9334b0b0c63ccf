// Package sandbox provides the persistent execution environment and the
// orchestration layer that runs user code with MCP tool servers loaded.
// ProcessEnv runs payloads directly on the host (for development only).
// There is no container boundary: the only isolation is a throwaway working
// directory. It must be explicitly enabled in configuration.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// ProcessEnv implements Environment using host processes (for development only)
type ProcessEnv struct {
	logger *zap.Logger
	config EnvConfig

	mu      sync.Mutex
	workdir string
}

// NewProcessEnv creates a host-process backed environment.
func NewProcessEnv(logger *zap.Logger, config EnvConfig) *ProcessEnv {
	return &ProcessEnv{
		logger: logger,
		config: config,
	}
}

// Create allocates a throwaway working directory. Idempotent.
func (p *ProcessEnv) Create(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workdir != "" {
		return nil
	}

	dir, err := os.MkdirTemp("", "sandboxd-proc-*")
	if err != nil {
		return fmt.Errorf("%w: creating workdir: %v", ErrProvisioning, err)
	}

	p.logger.Warn("process environment enabled: payloads run on the host without isolation",
		zap.String("workdir", dir))
	p.workdir = dir
	return nil
}

// Run executes the argument vector as a host process in the throwaway
// working directory, with the configured environment overrides applied.
func (p *ProcessEnv) Run(ctx context.Context, argv []string) (ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workdir == "" {
		return ExecutionResult{}, fmt.Errorf("%w: environment not created", ErrUnreachable)
	}
	if len(argv) == 0 {
		return ExecutionResult{}, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // Development backend, explicitly opted into
	cmd.Dir = p.workdir
	cmd.Env = os.Environ()
	for key, value := range p.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitError, ok := err.(*exec.ExitError)
		if !ok {
			return ExecutionResult{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		exitCode = exitError.ExitCode()
	}

	return ExecutionResult{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}, nil
}

// Cleanup removes the working directory. Idempotent, never fails.
func (p *ProcessEnv) Cleanup(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workdir == "" {
		return
	}
	if err := os.RemoveAll(p.workdir); err != nil {
		p.logger.Warn("failed to remove workdir", zap.String("workdir", p.workdir), zap.Error(err))
	}
	p.workdir = ""
}

// ContainerName reports a fixed identity for the host-process backend.
func (p *ProcessEnv) ContainerName() string {
	return "host-process"
}

// Image reports the host runtime in place of an image tag.
func (p *ProcessEnv) Image() string {
	return "host"
}
