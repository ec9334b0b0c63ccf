package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type cmdResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	commandResults map[string]cmdResult
	defaultResult  cmdResult
	calls          [][]string
}

func (m *MockCommandRunner) RunCommand(_ context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	m.calls = append(m.calls, args)

	if result, exists := m.commandResults[strings.Join(args, " ")]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) callsWithPrefix(prefix ...string) [][]string {
	var matched [][]string
	for _, call := range m.calls {
		if len(call) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if call[i] != p {
				match = false
				break
			}
		}
		if match {
			matched = append(matched, call)
		}
	}
	return matched
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	exists map[string]bool
}

func (m *MockFileSystem) FileExists(path string) (bool, error) {
	return m.exists[path], nil
}

func testEnvConfig() EnvConfig {
	return EnvConfig{
		Image:         "sandbox:latest",
		ContainerName: "mcp-sandbox-test",
		Dockerfile:    "docker/sandbox.Dockerfile",
	}
}

func TestDockerEnvConstructor(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Defaults", func(t *testing.T) {
		env := NewDockerEnv(logger, testEnvConfig())
		require.NotNil(t, env)
		assert.Equal(t, DefaultWorkdir, env.config.Workdir)
		assert.Equal(t, DefaultCPUQuota, env.config.CPUQuota)
		assert.Equal(t, DefaultMemory, env.config.Memory)
		assert.Equal(t, DefaultNetworkMode, env.config.NetworkMode)
		assert.Equal(t, "docker", env.binary)
		assert.NotNil(t, env.cmdRunner)
		assert.NotNil(t, env.fs)
	})

	t.Run("Options", func(t *testing.T) {
		mockRunner := &MockCommandRunner{}
		mockFS := &MockFileSystem{}

		env := NewDockerEnv(
			logger,
			testEnvConfig(),
			WithDockerCommandRunner(mockRunner),
			WithDockerFileSystem(mockFS),
			WithContainerCLI("podman"),
		)
		require.NotNil(t, env)
		assert.Equal(t, mockRunner, env.cmdRunner)
		assert.Equal(t, mockFS, env.fs)
		assert.Equal(t, "podman", env.binary)
	})
}

func TestCreateAdoptsExistingContainer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker image inspect --format {{.Id}} sandbox:latest":                           {stdout: "sha256:abc", exitCode: 0},
			"docker container inspect --format {{.State.Running}} mcp-sandbox-test":         {stdout: "true\n", exitCode: 0},
		},
	}

	env := NewDockerEnv(logger, testEnvConfig(), WithDockerCommandRunner(mockRunner))
	require.NoError(t, env.Create(context.Background()))

	assert.Empty(t, mockRunner.callsWithPrefix("docker", "run"), "adoption must not provision a new container")
	assert.Empty(t, mockRunner.callsWithPrefix("docker", "start"), "running container must not be restarted")
}

func TestCreateStartsStoppedContainer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker image inspect --format {{.Id}} sandbox:latest":                   {exitCode: 0},
			"docker container inspect --format {{.State.Running}} mcp-sandbox-test": {stdout: "false\n", exitCode: 0},
			"docker start mcp-sandbox-test":                                         {exitCode: 0},
		},
	}

	env := NewDockerEnv(logger, testEnvConfig(), WithDockerCommandRunner(mockRunner))
	require.NoError(t, env.Create(context.Background()))

	assert.Len(t, mockRunner.callsWithPrefix("docker", "start"), 1)
	assert.Empty(t, mockRunner.callsWithPrefix("docker", "run"))
}

func TestCreateProvisionsWhenMissing(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testEnvConfig()
	cfg.Volumes = map[string]string{"/local/data": "/workspace/data"}
	cfg.Env = map[string]string{"API_KEY": "secret"}
	cfg.Keepalive = []string{"sleep", "infinity"}

	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker image inspect --format {{.Id}} sandbox:latest":                   {exitCode: 0},
			"docker container inspect --format {{.State.Running}} mcp-sandbox-test": {stderr: "Error: No such container", exitCode: 1},
		},
		defaultResult: cmdResult{stdout: "containerid\n", exitCode: 0},
	}

	env := NewDockerEnv(logger, cfg, WithDockerCommandRunner(mockRunner))
	require.NoError(t, env.Create(context.Background()))

	runs := mockRunner.callsWithPrefix("docker", "run", "-d")
	require.Len(t, runs, 1)

	args := strings.Join(runs[0], " ")
	assert.Contains(t, args, "--name mcp-sandbox-test")
	assert.Contains(t, args, "--workdir /workspace")
	assert.Contains(t, args, "--cpu-quota 50000")
	assert.Contains(t, args, "--memory 512m")
	assert.Contains(t, args, "--network bridge")
	assert.Contains(t, args, "-v /local/data:/workspace/data:ro")
	assert.Contains(t, args, "-e API_KEY=secret")
	assert.True(t, strings.HasSuffix(args, "sandbox:latest sleep infinity"))
	assert.NotContains(t, args, "--rm")
}

func TestCreateIsIdempotent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker image inspect --format {{.Id}} sandbox:latest":                   {exitCode: 0},
			"docker container inspect --format {{.State.Running}} mcp-sandbox-test": {exitCode: 1},
		},
		defaultResult: cmdResult{stdout: "containerid\n", exitCode: 0},
	}

	env := NewDockerEnv(logger, testEnvConfig(), WithDockerCommandRunner(mockRunner))
	require.NoError(t, env.Create(context.Background()))
	require.NoError(t, env.Create(context.Background()))

	assert.Len(t, mockRunner.callsWithPrefix("docker", "run", "-d"), 1,
		"second create must bind to the first container, not provision another")
}

func TestCreateImageErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("ImageAbsentAndNoDockerfile", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]cmdResult{
				"docker image inspect --format {{.Id}} sandbox:latest": {exitCode: 1},
			},
		}
		env := NewDockerEnv(logger, testEnvConfig(),
			WithDockerCommandRunner(mockRunner),
			WithDockerFileSystem(&MockFileSystem{exists: map[string]bool{}}),
		)

		err := env.Create(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrImageNotFound)
	})

	t.Run("DaemonUnreachable", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]cmdResult{
				"docker image inspect --format {{.Id}} sandbox:latest": {
					stderr:   "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?",
					exitCode: 1,
				},
			},
		}
		env := NewDockerEnv(logger, testEnvConfig(),
			WithDockerCommandRunner(mockRunner),
			WithDockerFileSystem(&MockFileSystem{exists: map[string]bool{"docker/sandbox.Dockerfile": true}}),
		)

		err := env.Create(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvisioning, "a daemon outage is not a missing image")
		assert.NotErrorIs(t, err, ErrImageNotFound)
		assert.Empty(t, mockRunner.callsWithPrefix("docker", "build"), "a daemon outage must not trigger a build")
	})

	t.Run("BuildFallbackSucceeds", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]cmdResult{
				"docker image inspect --format {{.Id}} sandbox:latest":                   {exitCode: 1},
				"docker container inspect --format {{.State.Running}} mcp-sandbox-test": {exitCode: 1},
			},
			defaultResult: cmdResult{exitCode: 0},
		}
		env := NewDockerEnv(logger, testEnvConfig(),
			WithDockerCommandRunner(mockRunner),
			WithDockerFileSystem(&MockFileSystem{exists: map[string]bool{"docker/sandbox.Dockerfile": true}}),
		)

		require.NoError(t, env.Create(context.Background()))
		assert.Len(t, mockRunner.callsWithPrefix("docker", "build"), 1)
	})

	t.Run("BuildFails", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]cmdResult{
				"docker image inspect --format {{.Id}} sandbox:latest":                       {exitCode: 1},
				"docker build -t sandbox:latest -f docker/sandbox.Dockerfile .":              {stderr: "build failed", exitCode: 1},
			},
		}
		env := NewDockerEnv(logger, testEnvConfig(),
			WithDockerCommandRunner(mockRunner),
			WithDockerFileSystem(&MockFileSystem{exists: map[string]bool{"docker/sandbox.Dockerfile": true}}),
		)

		err := env.Create(context.Background())
		assert.ErrorIs(t, err, ErrImageNotFound)
	})
}

func TestCreateProvisioningError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker image inspect --format {{.Id}} sandbox:latest":                   {exitCode: 0},
			"docker container inspect --format {{.State.Running}} mcp-sandbox-test": {exitCode: 1},
		},
		defaultResult: cmdResult{stderr: "Error response from daemon: invalid memory limit", exitCode: 125},
	}

	env := NewDockerEnv(logger, testEnvConfig(), WithDockerCommandRunner(mockRunner))
	err := env.Create(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvisioning)
	assert.Contains(t, err.Error(), "invalid memory limit")
}

// adoptedEnv returns an environment already bound to a running container.
func adoptedEnv(t *testing.T, mockRunner *MockCommandRunner) *DockerEnv {
	t.Helper()
	if mockRunner.commandResults == nil {
		mockRunner.commandResults = map[string]cmdResult{}
	}
	mockRunner.commandResults["docker image inspect --format {{.Id}} sandbox:latest"] = cmdResult{exitCode: 0}
	mockRunner.commandResults["docker container inspect --format {{.State.Running}} mcp-sandbox-test"] = cmdResult{stdout: "true", exitCode: 0}

	env := NewDockerEnv(zaptest.NewLogger(t), testEnvConfig(), WithDockerCommandRunner(mockRunner))
	require.NoError(t, env.Create(context.Background()))
	return env
}

func TestRunPassthrough(t *testing.T) {
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker exec --workdir /workspace mcp-sandbox-test echo hello": {stdout: "hello", exitCode: 0},
		},
	}
	env := adoptedEnv(t, mockRunner)

	result, err := env.Run(context.Background(), []string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, ExecutionResult{ExitCode: 0, Stdout: "hello", Stderr: ""}, result)
}

func TestRunDemultiplexedStreams(t *testing.T) {
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker exec --workdir /workspace mcp-sandbox-test both-streams": {stdout: "A", stderr: "B", exitCode: 0},
		},
	}
	env := adoptedEnv(t, mockRunner)

	result, err := env.Run(context.Background(), []string{"both-streams"})
	require.NoError(t, err)
	assert.Equal(t, "A", result.Stdout)
	assert.Equal(t, "B", result.Stderr)
}

func TestRunNonZeroExitIsData(t *testing.T) {
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker exec --workdir /workspace mcp-sandbox-test failing": {stderr: "Traceback (most recent call last)", exitCode: 3},
		},
	}
	env := adoptedEnv(t, mockRunner)

	result, err := env.Run(context.Background(), []string{"failing"})
	require.NoError(t, err, "payload failure must be reported as data, not as an error")
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "Traceback")
}

func TestRunPayloadStderrCannotFakeUnreachable(t *testing.T) {
	// A failing payload may print anything, including phrases the daemon
	// uses in its own errors. As long as the container is running, the
	// exit code and streams are data.
	mockRunner := &MockCommandRunner{
		commandResults: map[string]cmdResult{
			"docker exec --workdir /workspace mcp-sandbox-test failing": {
				stderr:   "RuntimeError: the weather service is not running",
				exitCode: 1,
			},
		},
	}
	env := adoptedEnv(t, mockRunner)

	result, err := env.Run(context.Background(), []string{"failing"})
	require.NoError(t, err, "reachability is decided by the daemon, never by payload output")
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "is not running")
}

func TestRunUnreachable(t *testing.T) {
	t.Run("NotCreated", func(t *testing.T) {
		env := NewDockerEnv(zaptest.NewLogger(t), testEnvConfig(), WithDockerCommandRunner(&MockCommandRunner{}))
		_, err := env.Run(context.Background(), []string{"echo", "hi"})
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("ContainerGone", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]cmdResult{
				"docker exec --workdir /workspace mcp-sandbox-test echo hi": {
					stderr:   "Error response from daemon: No such container: mcp-sandbox-test",
					exitCode: 1,
				},
			},
		}
		env := adoptedEnv(t, mockRunner)
		// The container disappears after adoption: the re-inspect fails.
		mockRunner.commandResults["docker container inspect --format {{.State.Running}} mcp-sandbox-test"] = cmdResult{
			stderr:   "Error: No such container: mcp-sandbox-test",
			exitCode: 1,
		}

		_, err := env.Run(context.Background(), []string{"echo", "hi"})
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("ContainerStopped", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]cmdResult{
				"docker exec --workdir /workspace mcp-sandbox-test echo hi": {
					stderr:   "Error response from daemon: container mcp-sandbox-test is not running",
					exitCode: 1,
				},
			},
		}
		env := adoptedEnv(t, mockRunner)
		mockRunner.commandResults["docker container inspect --format {{.State.Running}} mcp-sandbox-test"] = cmdResult{
			stdout:   "false",
			exitCode: 0,
		}

		_, err := env.Run(context.Background(), []string{"echo", "hi"})
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("RunnerError", func(t *testing.T) {
		mockRunner := &MockCommandRunner{}
		env := adoptedEnv(t, mockRunner)
		mockRunner.defaultResult = cmdResult{err: errors.New("docker binary not found")}

		_, err := env.Run(context.Background(), []string{"echo", "hi"})
		assert.ErrorIs(t, err, ErrUnreachable)
	})
}

func TestCleanupIdempotent(t *testing.T) {
	mockRunner := &MockCommandRunner{}
	env := adoptedEnv(t, mockRunner)

	env.Cleanup(context.Background())
	stops := len(mockRunner.callsWithPrefix("docker", "stop"))
	removes := len(mockRunner.callsWithPrefix("docker", "rm"))
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, removes)

	env.Cleanup(context.Background())
	assert.Len(t, mockRunner.callsWithPrefix("docker", "stop"), stops, "second cleanup must be a no-op")
	assert.Len(t, mockRunner.callsWithPrefix("docker", "rm"), removes)
}

func TestCleanupSwallowsErrors(t *testing.T) {
	mockRunner := &MockCommandRunner{}
	env := adoptedEnv(t, mockRunner)
	mockRunner.defaultResult = cmdResult{stderr: "Error response from daemon", exitCode: 1}

	// Must not panic or propagate anything.
	env.Cleanup(context.Background())
}

func TestCleanupRemoveVolumes(t *testing.T) {
	mockRunner := &MockCommandRunner{}
	cfg := testEnvConfig()
	cfg.RemoveVolumes = true

	if mockRunner.commandResults == nil {
		mockRunner.commandResults = map[string]cmdResult{}
	}
	mockRunner.commandResults["docker image inspect --format {{.Id}} sandbox:latest"] = cmdResult{exitCode: 0}
	mockRunner.commandResults["docker container inspect --format {{.State.Running}} mcp-sandbox-test"] = cmdResult{stdout: "true", exitCode: 0}

	env := NewDockerEnv(zaptest.NewLogger(t), cfg, WithDockerCommandRunner(mockRunner))
	require.NoError(t, env.Create(context.Background()))

	env.Cleanup(context.Background())
	removes := mockRunner.callsWithPrefix("docker", "rm", "-v")
	assert.Len(t, removes, 1)
}

func TestEnvironmentIdentity(t *testing.T) {
	env := NewDockerEnv(zaptest.NewLogger(t), testEnvConfig())
	assert.Equal(t, "mcp-sandbox-test", env.ContainerName())
	assert.Equal(t, "sandbox:latest", env.Image())
}
