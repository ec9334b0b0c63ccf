// Package sandbox provides the persistent execution environment and the
// orchestration layer that runs user code with MCP tool servers loaded.
// DockerEnv binds to a single named container: it adopts the container if one
// with the configured name already exists, provisions it otherwise, and runs
// every execution through `docker exec` with stdout and stderr captured as
// separate streams.
package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EnvConfig holds the creation-time parameters of a container environment.
// On adoption of an existing container, the resource and volume fields are
// ignored: the persistent-container model trades strict reproducibility of
// limits for warm reuse across process restarts.
type EnvConfig struct {
	Image         string
	ContainerName string
	Workdir       string
	CPUQuota      int
	Memory        string
	NetworkMode   string
	AutoRemove    bool
	RemoveVolumes bool
	Volumes       map[string]string // host path -> container path, mounted read-only
	Env           map[string]string
	Dockerfile    string // build fallback when the image is absent
	BuildContext  string
	Keepalive     []string // container main process; empty means the image CMD
}

// DockerEnv implements Environment against a container CLI (docker or the
// CLI-compatible podman).
type DockerEnv struct {
	logger    *zap.Logger
	config    EnvConfig
	binary    string
	cmdRunner CommandRunner
	fs        FileSystem

	// mu serializes Create, Run and Cleanup: a create racing a teardown on
	// the same named container is the primary lifecycle hazard.
	mu    sync.Mutex
	bound bool
}

// DockerEnvOption defines a functional option for DockerEnv
type DockerEnvOption func(*DockerEnv)

// WithDockerCommandRunner sets the CommandRunner for DockerEnv
func WithDockerCommandRunner(cmdRunner CommandRunner) DockerEnvOption {
	return func(d *DockerEnv) {
		d.cmdRunner = cmdRunner
	}
}

// WithDockerFileSystem sets the FileSystem for DockerEnv
func WithDockerFileSystem(fs FileSystem) DockerEnvOption {
	return func(d *DockerEnv) {
		d.fs = fs
	}
}

// WithContainerCLI overrides the container binary (e.g. "podman").
func WithContainerCLI(binary string) DockerEnvOption {
	return func(d *DockerEnv) {
		d.binary = binary
	}
}

// NewDockerEnv creates a new DockerEnv with default implementations and
// optional interfaces. The environment is unbound until Create is called.
func NewDockerEnv(logger *zap.Logger, config EnvConfig, opts ...DockerEnvOption) *DockerEnv {
	if config.Workdir == "" {
		config.Workdir = DefaultWorkdir
	}
	if config.CPUQuota == 0 {
		config.CPUQuota = DefaultCPUQuota
	}
	if config.Memory == "" {
		config.Memory = DefaultMemory
	}
	if config.NetworkMode == "" {
		config.NetworkMode = DefaultNetworkMode
	}

	env := &DockerEnv{
		logger:    logger,
		config:    config,
		binary:    "docker",
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(env)
	}

	return env
}

// Defaults for EnvConfig fields left zero.
const (
	DefaultWorkdir     = "/workspace"
	DefaultCPUQuota    = 50000
	DefaultMemory      = "512m"
	DefaultNetworkMode = "bridge"
)

// Create provisions or adopts the named container. It is idempotent: a
// second call on an already-bound environment is a no-op. Image resolution
// failures surface as ErrImageNotFound, everything else as ErrProvisioning;
// neither is retried here — retry policy belongs to the caller.
func (d *DockerEnv) Create(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bound {
		return nil
	}

	if err := d.ensureImage(ctx); err != nil {
		return err
	}

	name := d.config.ContainerName

	stdout, _, exitCode, err := d.cmdRunner.RunCommand(ctx, []string{
		d.binary, "container", "inspect", "--format", "{{.State.Running}}", name,
	})
	if err != nil {
		return fmt.Errorf("%w: inspecting container %q: %v", ErrProvisioning, name, err)
	}

	if exitCode == 0 {
		// The container survives process restarts; requested volumes,
		// environment and limits only apply at creation time and are
		// ignored on adoption.
		if strings.TrimSpace(stdout) != "true" {
			_, stderr, startCode, startErr := d.cmdRunner.RunCommand(ctx, []string{d.binary, "start", name})
			if startErr != nil || startCode != 0 {
				return fmt.Errorf("%w: starting container %q: %s", ErrProvisioning, name, firstNonEmpty(stderr, fmt.Sprint(startErr)))
			}
		}
		d.logger.Info("container found, adopting",
			zap.String("container", name),
			zap.String("image", d.config.Image))
		d.logger.Debug("creation-time arguments ignored on adoption",
			zap.Int("cpu_quota", d.config.CPUQuota),
			zap.String("memory", d.config.Memory))
		d.bound = true
		return nil
	}

	d.logger.Info("container not found, creating",
		zap.String("container", name),
		zap.String("image", d.config.Image))

	_, stderr, runCode, runErr := d.cmdRunner.RunCommand(ctx, d.provisionArgs())
	if runErr != nil || runCode != 0 {
		return fmt.Errorf("%w: creating container %q: %s", ErrProvisioning, name, firstNonEmpty(stderr, fmt.Sprint(runErr)))
	}

	d.bound = true
	return nil
}

// provisionArgs builds the container run invocation for a fresh container.
func (d *DockerEnv) provisionArgs() []string {
	args := []string{
		d.binary, "run", "-d",
		"--name", d.config.ContainerName,
		"--workdir", d.config.Workdir,
		"--cpu-quota", strconv.Itoa(d.config.CPUQuota),
		"--memory", d.config.Memory,
		"--network", d.config.NetworkMode,
	}

	if d.config.AutoRemove {
		args = append(args, "--rm")
	}

	for _, host := range sortedKeys(d.config.Volumes) {
		args = append(args, "-v", fmt.Sprintf("%s:%s:ro", host, d.config.Volumes[host]))
	}
	for _, key := range sortedKeys(d.config.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, d.config.Env[key]))
	}

	args = append(args, d.config.Image)
	args = append(args, d.config.Keepalive...)
	return args
}

// Run executes the argument vector inside the container via exec. A non-zero
// exit code from the payload is data, not an error; Run fails only when the
// container itself is not reachable.
func (d *DockerEnv) Run(ctx context.Context, argv []string) (ExecutionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.bound {
		return ExecutionResult{}, fmt.Errorf("%w: environment not created", ErrUnreachable)
	}
	if len(argv) == 0 {
		return ExecutionResult{}, fmt.Errorf("empty command")
	}

	args := append([]string{d.binary, "exec", "--workdir", d.config.Workdir, d.config.ContainerName}, argv...)

	stdout, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if exitCode != 0 && !d.containerRunning(ctx) {
		return ExecutionResult{}, fmt.Errorf("%w: %s", ErrUnreachable, strings.TrimSpace(stderr))
	}

	return ExecutionResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

// Cleanup stops and removes the container. It is idempotent and never
// fails: it runs on shutdown paths, including error recovery, where a
// teardown failure would only mask the original problem.
func (d *DockerEnv) Cleanup(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.bound {
		return
	}

	name := d.config.ContainerName

	if _, stderr, code, err := d.cmdRunner.RunCommand(ctx, []string{d.binary, "stop", name}); err != nil || code != 0 {
		d.logger.Warn("failed to stop container",
			zap.String("container", name),
			zap.String("stderr", strings.TrimSpace(stderr)),
			zap.Error(err))
	}

	rmArgs := []string{d.binary, "rm"}
	if d.config.RemoveVolumes {
		rmArgs = append(rmArgs, "-v")
	}
	rmArgs = append(rmArgs, name)
	if _, stderr, code, err := d.cmdRunner.RunCommand(ctx, rmArgs); err != nil || code != 0 {
		d.logger.Warn("failed to remove container",
			zap.String("container", name),
			zap.String("stderr", strings.TrimSpace(stderr)),
			zap.Error(err))
	}

	d.bound = false
}

// ContainerName reports the configured container identity.
func (d *DockerEnv) ContainerName() string {
	return d.config.ContainerName
}

// Image reports the image tag the environment runs on.
func (d *DockerEnv) Image() string {
	return d.config.Image
}

// ensureImage checks that the configured image exists locally and falls back
// to building it from the configured Dockerfile when it does not.
func (d *DockerEnv) ensureImage(ctx context.Context) error {
	_, inspectStderr, exitCode, err := d.cmdRunner.RunCommand(ctx, []string{
		d.binary, "image", "inspect", "--format", "{{.Id}}", d.config.Image,
	})
	if err != nil {
		return fmt.Errorf("%w: inspecting image %q: %v", ErrProvisioning, d.config.Image, err)
	}
	if exitCode == 0 {
		return nil
	}
	// A daemon outage also fails the inspect; it is not a missing image.
	if daemonUnreachable(inspectStderr) {
		return fmt.Errorf("%w: inspecting image %q: %s", ErrProvisioning, d.config.Image, strings.TrimSpace(inspectStderr))
	}

	exists, statErr := d.fs.FileExists(d.config.Dockerfile)
	if statErr != nil || !exists {
		return fmt.Errorf("%w: image %q absent and build file %q missing", ErrImageNotFound, d.config.Image, d.config.Dockerfile)
	}

	d.logger.Info("image not found, building",
		zap.String("image", d.config.Image),
		zap.String("dockerfile", d.config.Dockerfile))

	buildContext := d.config.BuildContext
	if buildContext == "" {
		buildContext = "."
	}

	_, stderr, buildCode, buildErr := d.cmdRunner.RunCommand(ctx, []string{
		d.binary, "build", "-t", d.config.Image, "-f", d.config.Dockerfile, buildContext,
	})
	if buildErr != nil || buildCode != 0 {
		return fmt.Errorf("%w: building image %q: %s", ErrImageNotFound, d.config.Image, firstNonEmpty(strings.TrimSpace(stderr), fmt.Sprint(buildErr)))
	}

	d.logger.Info("image built", zap.String("image", d.config.Image))
	return nil
}

// containerRunning re-inspects the container state. A payload's stderr is
// user-controlled and must never influence the reachability decision, so a
// non-zero exec exit is only an environment failure when the daemon itself
// reports the container gone or stopped.
func (d *DockerEnv) containerRunning(ctx context.Context) bool {
	stdout, _, exitCode, err := d.cmdRunner.RunCommand(ctx, []string{
		d.binary, "container", "inspect", "--format", "{{.State.Running}}", d.config.ContainerName,
	})
	return err == nil && exitCode == 0 && strings.TrimSpace(stdout) == "true"
}

// daemonUnreachable recognizes a CLI complaint about the daemon socket. Only
// called on CLI-level output, never on payload streams.
func daemonUnreachable(stderr string) bool {
	for _, marker := range []string{
		"Cannot connect to the Docker daemon",
		"unable to connect to Podman",
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" && v != "<nil>" {
			return v
		}
	}
	return ""
}
