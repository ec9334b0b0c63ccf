// Package sandbox provides the persistent execution environment and the
// orchestration layer that runs user code with MCP tool servers loaded.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// ExecutionResult represents the outcome of one command executed inside an
// environment. Stdout and Stderr are always captured as separate streams.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Environment is the capability contract for one isolated, addressable
// execution context. Implementations must make Create idempotent (a second
// call binds to the same underlying context), must report a payload's
// non-zero exit status as data rather than as an error, and must make
// Cleanup safe to call at any time, including twice.
type Environment interface {
	// Create provisions the underlying execution context, or adopts an
	// existing one with the same identity.
	Create(ctx context.Context) error

	// Run executes the argument vector inside the environment's working
	// directory and returns the demultiplexed output. It blocks for the
	// full duration of the execution.
	Run(ctx context.Context, argv []string) (ExecutionResult, error)

	// Cleanup releases the underlying context. It never fails: teardown
	// errors are swallowed because cleanup runs on shutdown paths where
	// they are not actionable.
	Cleanup(ctx context.Context)

	// ContainerName reports the identity of the underlying context.
	ContainerName() string

	// Image reports the image tag the environment was resolved against.
	Image() string
}

// ShellCommand wraps a shell-interpreted command string into the argument
// vector Run expects. User payloads should prefer explicit argument vectors:
// the shell form is for trusted operator-supplied commands only, since shell
// metacharacters are interpreted.
func ShellCommand(command string) []string {
	return []string{"sh", "-c", command}
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments. Stdout and stderr
// are collected into separate buffers, which is what keeps container output
// demultiplexed all the way up the stack.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
			err = nil
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for the file system operations the
// environment needs (currently just existence checks for build inputs).
type FileSystem interface {
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
