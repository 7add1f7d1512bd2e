package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/olympus-org/olympus/internal/consent"
)

type fsReadInput struct {
	Path string `json:"path" jsonschema:"sandboxed file path to read"`
}

type fsWriteInput struct {
	Path      string `json:"path" jsonschema:"sandboxed file path to write"`
	Content   string `json:"content" jsonschema:"full file content"`
	Overwrite bool   `json:"overwrite,omitempty" jsonschema:"replace the file if it already exists"`
}

type fsDeleteInput struct {
	Path      string `json:"path" jsonschema:"sandboxed path to remove"`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"remove directories and their contents"`
}

type fsListInput struct {
	Path string `json:"path,omitempty" jsonschema:"sandboxed directory, defaults to the sandbox root"`
}

func init() {
	Register[fsReadInput](Registration{
		Name:        "fs.read",
		Description: "Read a file inside the sandbox",
		Scopes:      []string{consent.ScopeReadFS},
		Handler:     fsRead,
	})
	Register[fsWriteInput](Registration{
		Name:        "fs.write",
		Description: "Write a file inside the sandbox, creating parent directories",
		Scopes:      []string{consent.ScopeWriteFS},
		Handler:     fsWrite,
	})
	Register[fsDeleteInput](Registration{
		Name:        "fs.delete",
		Description: "Remove a file or directory inside the sandbox",
		Scopes:      []string{consent.ScopeDeleteFS},
		Handler:     fsDelete,
	})
	Register[fsListInput](Registration{
		Name:        "fs.list",
		Description: "List directory entries inside the sandbox",
		Scopes:      []string{consent.ScopeListFS},
		Handler:     fsList,
	})
}

func fsRead(_ context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in fsReadInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	resolved, err := env.Sandbox.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", in.Path, err)
	}
	return map[string]any{
		"path":    env.Sandbox.Rel(resolved),
		"bytes":   len(data),
		"content": string(data),
	}, nil
}

func fsWrite(_ context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in fsWriteInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	resolved, err := env.Sandbox.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	if !in.Overwrite {
		if _, err := os.Lstat(resolved); err == nil {
			return nil, fmt.Errorf("file %s already exists (set overwrite to replace it)", in.Path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", in.Path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return nil, fmt.Errorf("failed to create parent directories for %s: %w", in.Path, err)
	}
	if err := os.WriteFile(resolved, []byte(in.Content), 0640); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", in.Path, err)
	}
	return map[string]any{
		"path":          env.Sandbox.Rel(resolved),
		"bytes_written": len(in.Content),
	}, nil
}

func fsDelete(_ context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in fsDeleteInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	resolved, err := env.Sandbox.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	rel := env.Sandbox.Rel(resolved)

	fi, err := os.Lstat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{"path": rel, "deleted": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", in.Path, err)
	}

	if fi.IsDir() && in.Recursive {
		err = os.RemoveAll(resolved)
	} else {
		// Fails on a non-empty directory, which is the safe default.
		err = os.Remove(resolved)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", in.Path, err)
	}
	return map[string]any{"path": rel, "deleted": true}, nil
}

func fsList(_ context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in fsListInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.Path == "" {
		in.Path = "."
	}
	resolved, err := env.Sandbox.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", in.Path, err)
	}

	out := make([]any, 0, len(entries))
	for _, entry := range entries {
		var size int64
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			size = info.Size()
		}
		out = append(out, map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
			"size":   size,
		})
	}
	return map[string]any{
		"path":    env.Sandbox.Rel(resolved),
		"entries": out,
	}, nil
}
