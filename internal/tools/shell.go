package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
)

const (
	defaultShellTimeout = 120 * time.Second
	maxShellTimeout     = 10 * time.Minute
	maxOutputLength     = 100000

	// timeoutExitCode mirrors the coreutils timeout(1) convention.
	timeoutExitCode = 124
)

type shellRunInput struct {
	Cmd        string `json:"cmd" jsonschema:"command line, run with /bin/sh -lc"`
	Workdir    string `json:"workdir,omitempty" jsonschema:"sandboxed working directory, created if missing"`
	TimeoutSec int    `json:"timeout_sec,omitempty" jsonschema:"wall clock limit in seconds (default 120, max 600)"`
}

func init() {
	Register[shellRunInput](Registration{
		Name:        "shell.run",
		Description: "Run a shell command inside the sandbox and capture its output",
		Scopes:      []string{consent.ScopeExecShell},
		Handler:     shellRun,
	})
}

func shellRun(ctx context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in shellRunInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Cmd) == "" {
		return nil, core.NewValidationError("cmd", in.Cmd, errors.New("command is required"))
	}
	// Reject commands the shell itself would choke on before spawning one.
	if _, err := syntax.NewParser().Parse(strings.NewReader(in.Cmd), ""); err != nil {
		return nil, core.NewValidationError("cmd", in.Cmd, err)
	}

	if in.Workdir == "" {
		in.Workdir = "."
	}
	workdir, err := env.Sandbox.Resolve(in.Workdir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workdir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create workdir %s: %w", in.Workdir, err)
	}

	timeout := resolveShellTimeout(in.TimeoutSec)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-lc", in.Cmd)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	stderrText := stderr.String()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		exitCode = timeoutExitCode
		if stderrText != "" && !strings.HasSuffix(stderrText, "\n") {
			stderrText += "\n"
		}
		stderrText += fmt.Sprintf("TIMEOUT after %ds", int(timeout.Seconds()))
	} else if runErr != nil && cmd.ProcessState == nil {
		// The process never started (missing shell, bad workdir).
		return nil, fmt.Errorf("failed to run command: %w", runErr)
	}

	return map[string]any{
		"cwd":       env.Sandbox.Rel(workdir),
		"cmd":       in.Cmd,
		"exit_code": exitCode,
		"stdout":    truncateOutput(stdout.String()),
		"stderr":    truncateOutput(stderrText),
	}, nil
}

func resolveShellTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultShellTimeout
	}
	return min(time.Duration(seconds)*time.Second, maxShellTimeout)
}

func truncateOutput(s string) string {
	if len(s) > maxOutputLength {
		return s[:maxOutputLength] + "\n... [output truncated]"
	}
	return s
}
