package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
)

type gitStatusInput struct {
	Workdir string `json:"workdir,omitempty" jsonschema:"sandboxed repository directory, defaults to the root"`
}

type gitAddInput struct {
	Paths   []string `json:"paths" jsonschema:"paths to stage, relative to the repository"`
	Workdir string   `json:"workdir,omitempty" jsonschema:"sandboxed repository directory, defaults to the root"`
}

type gitCommitInput struct {
	Message string `json:"message" jsonschema:"commit message"`
	Workdir string `json:"workdir,omitempty" jsonschema:"sandboxed repository directory, defaults to the root"`
}

type gitCloneInput struct {
	URL   string `json:"url" jsonschema:"http(s) remote or sandboxed source path"`
	Path  string `json:"path" jsonschema:"sandboxed destination directory"`
	Depth int    `json:"depth,omitempty" jsonschema:"shallow clone depth, 0 for full history"`
}

func init() {
	Register[gitStatusInput](Registration{
		Name:        "git.status",
		Description: "Show the working tree status of a sandboxed repository",
		Scopes:      []string{consent.ScopeGitOps},
		Handler:     gitStatus,
	})
	Register[gitAddInput](Registration{
		Name:        "git.add",
		Description: "Stage paths in a sandboxed repository",
		Scopes:      []string{consent.ScopeGitOps},
		Handler:     gitAdd,
	})
	Register[gitCommitInput](Registration{
		Name:        "git.commit",
		Description: "Commit staged changes in a sandboxed repository",
		Scopes:      []string{consent.ScopeGitOps},
		Handler:     gitCommit,
	})
	Register[gitCloneInput](Registration{
		Name:        "git.clone",
		Description: "Clone a repository into the sandbox",
		Scopes:      []string{consent.ScopeGitOps, consent.ScopeNetGet},
		Handler:     gitClone,
	})
}

func gitStatus(ctx context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in gitStatusInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	return runGit(ctx, env, in.Workdir, "status", "--porcelain=v1")
}

func gitAdd(ctx context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in gitAddInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if len(in.Paths) == 0 {
		return nil, core.NewValidationError("paths", in.Paths, errors.New("at least one path is required"))
	}
	args := append([]string{"add", "--"}, in.Paths...)
	return runGit(ctx, env, in.Workdir, args...)
}

func gitCommit(ctx context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in gitCommitInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, core.NewValidationError("message", in.Message, errors.New("commit message is required"))
	}
	return runGit(ctx, env, in.Workdir, "commit", "-m", in.Message)
}

// runGit executes the git binary with argv semantics inside the sandbox so
// no input string can smuggle extra shell syntax.
func runGit(ctx context.Context, env Env, workdir string, args ...string) (map[string]any, error) {
	if workdir == "" {
		workdir = "."
	}
	resolved, err := env.Sandbox.Resolve(workdir)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = resolved

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil && cmd.ProcessState == nil {
		return nil, fmt.Errorf("failed to run git: %w", runErr)
	}
	return map[string]any{
		"exit_code": cmd.ProcessState.ExitCode(),
		"stdout":    truncateOutput(stdout.String()),
		"stderr":    truncateOutput(stderr.String()),
	}, nil
}

func gitClone(ctx context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in gitCloneInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	url := in.URL
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		// Remote clone.
	case strings.Contains(url, "://"):
		return nil, core.NewValidationError("url", url, errors.New("only http(s) remotes or sandboxed paths are allowed"))
	default:
		// Local source must live inside the sandbox too.
		resolved, err := env.Sandbox.Resolve(url)
		if err != nil {
			return nil, err
		}
		url = resolved
	}

	dest, err := env.Sandbox.Resolve(in.Path)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:   url,
		Depth: in.Depth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", in.URL, err)
	}

	out := map[string]any{"path": env.Sandbox.Rel(dest)}
	if head, err := repo.Head(); err == nil {
		out["head"] = head.Hash().String()
	}
	return out, nil
}
