package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
)

const (
	// maxMatches caps glob and search results so a runaway pattern cannot
	// blow up the step output row.
	maxMatches = 1000

	// defaultSearchBytes bounds how much of a file fs.search scans.
	defaultSearchBytes = 2 << 20

	// maxLineBytes is the longest line fs.search will consider.
	maxLineBytes = 1 << 20
)

type fsGlobInput struct {
	Pattern string `json:"pattern" jsonschema:"shell-style glob; ** crosses directories"`
	Start   string `json:"start,omitempty" jsonschema:"sandboxed directory to search from, defaults to the root"`
}

type fsSearchInput struct {
	Path     string `json:"path" jsonschema:"sandboxed file to scan"`
	Pattern  string `json:"pattern" jsonschema:"regular expression matched against each line"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"scan at most this many bytes (default 2097152)"`
}

func init() {
	Register[fsGlobInput](Registration{
		Name:        "fs.glob",
		Description: "Find files matching a glob pattern inside the sandbox",
		Scopes:      []string{consent.ScopeListFS},
		Handler:     fsGlob,
	})
	Register[fsSearchInput](Registration{
		Name:        "fs.search",
		Description: "Search a sandboxed file line by line with a regular expression",
		Scopes:      []string{consent.ScopeSearchFS},
		Handler:     fsSearch,
	})
}

func fsGlob(_ context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in fsGlobInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(in.Pattern) {
		return nil, core.NewValidationError("pattern", in.Pattern, errors.New("invalid glob pattern"))
	}
	if in.Start == "" {
		in.Start = "."
	}
	start, err := env.Sandbox.Resolve(in.Start)
	if err != nil {
		return nil, err
	}

	var (
		matches   []any
		truncated bool
	)
	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == start {
			return nil
		}
		// WalkDir does not follow symlinked directories; drop symlink
		// entries entirely to match the sandbox rules.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(start, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if globMatch(in.Pattern, rel) || globMatch(in.Pattern, d.Name()) {
			matches = append(matches, rel)
			if len(matches) >= maxMatches {
				truncated = true
				return fs.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to glob %s: %w", in.Pattern, walkErr)
	}
	return map[string]any{
		"root":      env.Sandbox.Rel(start),
		"pattern":   in.Pattern,
		"matches":   matches,
		"truncated": truncated,
	}, nil
}

func globMatch(pattern, value string) bool {
	ok, err := doublestar.Match(pattern, filepath.ToSlash(value))
	return err == nil && ok
}

func fsSearch(_ context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in fsSearchInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return nil, core.NewValidationError("pattern", in.Pattern, err)
	}
	if in.MaxBytes <= 0 {
		in.MaxBytes = defaultSearchBytes
	}
	resolved, err := env.Sandbox.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", in.Path, err)
	}
	defer func() { _ = f.Close() }()

	var (
		matches   []any
		truncated bool
	)
	scanner := bufio.NewScanner(io.LimitReader(f, int64(in.MaxBytes)))
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		matches = append(matches, map[string]any{"line": line, "text": text})
		if len(matches) >= maxMatches {
			truncated = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", in.Path, err)
	}
	return map[string]any{
		"path":      env.Sandbox.Rel(resolved),
		"pattern":   in.Pattern,
		"matches":   matches,
		"truncated": truncated,
	}, nil
}
