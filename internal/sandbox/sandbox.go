// Package sandbox confines filesystem access to a single root directory.
// Every user-supplied path is interpreted relative to the root; escapes via
// .., absolute paths, or symlinks are rejected.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/olympus-org/olympus/internal/core"
)

// Sandbox resolves untrusted paths against a fixed root directory.
type Sandbox struct {
	root string
}

// New creates a Sandbox rooted at dir, creating the directory if needed.
// The root is canonicalized so that containment checks hold even when the
// configured path contains symlinks (e.g. /tmp on some systems).
func New(dir string) (*Sandbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root %q: %w", abs, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize sandbox root %q: %w", abs, err)
	}
	return &Sandbox{root: root}, nil
}

// Root returns the canonical sandbox root directory.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve normalizes a user-supplied path into an absolute path under the
// sandbox root. Absolute paths are treated as sandbox-relative. Paths that
// escape the root return ErrPathEscape; any symlink component within the
// root returns ErrSymlinkForbidden. The target does not need to exist, so
// resolved paths are usable for writes.
func (s *Sandbox) Resolve(path string) (string, error) {
	rel := strings.TrimLeft(path, "/\\")

	candidate := filepath.Join(s.root, rel)
	real, err := canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %q: %w", path, err)
	}

	if real != s.root && !strings.HasPrefix(real, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", core.ErrPathEscape, real)
	}

	normRel := filepath.Clean(rel)
	if normRel == "." || normRel == "" {
		return s.root, nil
	}

	// Reject symlinks at every existing component. Once a component is
	// missing nothing below it can be a symlink.
	cur := s.root
	for _, part := range strings.Split(normRel, string(os.PathSeparator)) {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		fi, lerr := os.Lstat(cur)
		if lerr != nil {
			if errors.Is(lerr, fs.ErrNotExist) {
				break
			}
			return "", fmt.Errorf("failed to stat %q: %w", cur, lerr)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %s", core.ErrSymlinkForbidden, cur)
		}
	}

	return real, nil
}

// Rel returns the sandbox-relative form of a resolved path, for display.
func (s *Sandbox) Rel(resolved string) string {
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return resolved
	}
	return rel
}

// canonicalize resolves symlinks in the longest existing prefix of path and
// rejoins the non-existent remainder lexically.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	clean := filepath.Clean(path)
	dir, base := filepath.Split(clean)
	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	if dir == "" || dir == clean {
		return clean, nil
	}

	resolvedDir, err := canonicalize(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}
