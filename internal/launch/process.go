package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/manifest"
)

// How long a process without declared ports gets to prove it did not
// exit immediately.
const startupProbe = 500 * time.Millisecond

// How long the health check waits for a declared port to accept
// connections.
const portBindTimeout = 10 * time.Second

// Runs the configured runtime entry point as a child process.
type process struct {
	cmd   *exec.Cmd
	addr  string
	grace time.Duration
	done  chan error
}

// Starts the process-serve variant: execs the configured entry point
// rooted at the materialized artifact directory.
//
// The launch health check requires the declared port to accept a
// connection (or, with no declared port, the process to survive a short
// startup probe). A process that exits before passing the check fails
// with [engine.ErrLaunch].
func startProcess(ctx context.Context, cfg manifest.RuntimeConfig, root string) (Handle, error) {
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "SLIPWAY_ROOT="+root)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %q: %w", engine.ErrLaunch, cfg.Command[0], err)
	}

	p := &process{
		cmd:   cmd,
		grace: cfg.Grace,
		done:  make(chan error, 1),
	}
	go func() {
		p.done <- cmd.Wait()
	}()

	if err := p.healthCheck(ctx, cfg); err != nil {
		p.kill()
		return nil, err
	}

	slog.Info("runtime process started", "pid", cmd.Process.Pid, "command", cfg.Command[0])
	return p, nil
}

// Waits until the process is demonstrably serving: port bound and
// process alive.
func (p *process) healthCheck(ctx context.Context, cfg manifest.RuntimeConfig) error {
	port := launchPort(cfg)
	if port == 0 {
		select {
		case err := <-p.done:
			return fmt.Errorf("%w: process exited during startup: %v", engine.ErrLaunch, err)
		case <-time.After(startupProbe):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(portBindTimeout)

	for {
		select {
		case err := <-p.done:
			return fmt.Errorf("%w: process exited before binding port %d: %v", engine.ErrLaunch, port, err)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if portOpen(addr) {
			p.addr = addr
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: port %d not bound within %s", engine.ErrLaunch, port, portBindTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (p *process) Done() <-chan error {
	return p.done
}

// Sends SIGTERM and waits up to the grace period for the process to
// drain, then kills it.
func (p *process) Stop(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}

	p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case err := <-p.done:
		// Termination by our own signal is an orderly shutdown.
		return ignoreSignalExit(err)
	case <-time.After(p.grace):
		p.kill()
		<-p.done
		return nil
	case <-ctx.Done():
		p.kill()
		return ctx.Err()
	}
}

func (p *process) Addr() string {
	return p.addr
}

func (p *process) kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// Treats death-by-SIGTERM/SIGKILL as a clean stop.
func ignoreSignalExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
		return nil
	}
	return err
}
