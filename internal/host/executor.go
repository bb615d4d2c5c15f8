package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/slipway/internal/artifact"
	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/manifest"
	"github.com/cruciblehq/slipway/internal/paths"
	"github.com/cruciblehq/slipway/internal/provision"
)

// Shell used to run stage commands.
const shell = "/bin/sh"

// Executes stages in per-stage sandbox directories on the host.
//
// Each stage gets a freshly created sandbox; declared paths and the
// stage workdir address the sandbox root, and commands run with the
// sandbox as their working directory. The sandbox is removed when the
// stage completes, so only harvested artifacts survive.
type Executor struct {
	cache   *provision.Cache // Shared base-environment cache.
	runID   string           // Pipeline run identifier, used in sandbox naming.
	workDir string           // Parent directory for stage sandboxes.
}

// Creates a host executor for a single pipeline run.
func New(cache *provision.Cache, runID string) *Executor {
	return &Executor{
		cache:   cache,
		runID:   runID,
		workDir: paths.RunDir(runID),
	}
}

// Runs the stage's command sequence in a fresh sandbox.
//
// The base environment, when declared, is resolved through the cache
// and prepended to the command PATH. Commands execute strictly in
// order; the first non-zero exit aborts the stage with a
// [engine.CommandError]. After the last command every declared
// artifact path must exist in the sandbox, else the stage fails with
// [engine.ErrMissingArtifact].
func (e *Executor) Execute(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
	root, err := e.createSandbox(stage.Name)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(root)

	if err := seed.WriteDir(root); err != nil {
		return nil, fmt.Errorf("seed sandbox: %w", err)
	}

	baseDir, err := e.cache.Ensure(ctx, stage.Base)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", engine.ErrProvision, err)
	}

	env := commandEnv(stage.Env, baseDir, root)
	cwd, err := commandDir(root, stage.Workdir)
	if err != nil {
		return nil, err
	}

	for i, command := range stage.Commands {
		// Cancellation is honored between commands, never mid-command.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slog.Debug("run", "stage", stage.Name, "command", command)

		if err := runCommand(stage.Name, i, command, cwd, env); err != nil {
			return nil, err
		}
	}

	out, err := artifact.FromDir(root, stage.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrMissingArtifact, err)
	}
	return out, nil
}

// Creates the sandbox directory for a stage.
func (e *Executor) createSandbox(stage string) (string, error) {
	root := filepath.Join(e.workDir, stage)
	if err := os.MkdirAll(root, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	return root, nil
}

// Removes the run's sandbox parent directory.
func (e *Executor) Cleanup() {
	os.RemoveAll(e.workDir)
}

// Runs a single stage command through the shell, capturing combined
// output. A non-zero exit becomes a [engine.CommandError] carrying the
// output tail.
func runCommand(stage string, index int, command, dir string, env []string) error {
	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &engine.CommandError{
			Stage:    stage,
			Index:    index,
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Output:   engine.OutputTail(out.String()),
		}
	}
	return fmt.Errorf("%w: %s: %w", engine.ErrCommandFailed, command, err)
}

// Builds the command environment: the host environment, the stage's
// declared variables, the sandbox root, and the base environment's bin
// directory at the front of PATH.
func commandEnv(stageEnv map[string]string, baseDir, root string) []string {
	env := os.Environ()
	for k, v := range stageEnv {
		env = append(env, k+"="+v)
	}
	env = append(env, "SLIPWAY_ROOT="+root)

	if baseDir != "" {
		env = append(env, "PATH="+pathWithBase(os.Getenv("PATH"), baseDir))
	}
	return env
}

// Prepends the base environment's bin directory (or the directory
// itself when it has no bin/) to PATH.
func pathWithBase(path, baseDir string) string {
	bin := filepath.Join(baseDir, "bin")
	if info, err := os.Stat(bin); err != nil || !info.IsDir() {
		bin = baseDir
	}
	if path == "" {
		return bin
	}
	return bin + string(os.PathListSeparator) + path
}

// Resolves the stage workdir within the sandbox, creating it when
// necessary.
func commandDir(root, workdir string) (string, error) {
	if workdir == "" {
		return root, nil
	}
	dir := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(workdir, "/")))
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}
	return dir, nil
}
