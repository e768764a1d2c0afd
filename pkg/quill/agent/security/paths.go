// Package security guards the boundary between tools and the host: file
// paths are confined to the configured workspace, outgoing URLs are screened
// against internal targets, and tool executions are appended to an audit log.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard confines file access to a workspace root plus an explicit allow
// list. Restricted paths are rejected even inside the workspace.
type PathGuard struct {
	workspace  string
	allowed    []string
	restricted []string
}

// NewPathGuard creates a guard rooted at workspace. An empty workspace
// defaults to the current directory. Allowed and restricted entries are
// normalised to absolute paths.
func NewPathGuard(workspace string, allowed, restricted []string) (*PathGuard, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve workspace: %w", err)
		}
		workspace = wd
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", workspace, err)
	}

	g := &PathGuard{workspace: abs}
	for _, p := range allowed {
		if a, err := filepath.Abs(p); err == nil {
			g.allowed = append(g.allowed, a)
		}
	}
	for _, p := range restricted {
		if a, err := filepath.Abs(p); err == nil {
			g.restricted = append(g.restricted, a)
		}
	}
	return g, nil
}

// Workspace returns the absolute workspace root.
func (g *PathGuard) Workspace() string { return g.workspace }

// Resolve validates a path and returns its absolute form. Relative paths are
// resolved against the workspace. Paths escaping the workspace are rejected
// unless covered by the allow list; restricted paths always lose.
func (g *PathGuard) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path contains NUL byte")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.workspace, abs)
	}
	abs = filepath.Clean(abs)

	// Symlinks are followed so a link inside the workspace cannot point out
	// of it. A missing target resolves its deepest existing parent.
	if resolved, err := resolveSymlinks(abs); err == nil {
		abs = resolved
	}

	for _, r := range g.restricted {
		if within(abs, r) {
			return "", fmt.Errorf("path %s is restricted", path)
		}
	}

	if within(abs, g.workspace) {
		return abs, nil
	}
	for _, a := range g.allowed {
		if within(abs, a) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %s is outside the workspace", path)
}

// within reports whether path equals root or lies under it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolveSymlinks evaluates symlinks for the deepest existing ancestor of
// path, re-joining the non-existent tail.
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	dir, base := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)
	if dir == path {
		return path, nil
	}
	parent, err := resolveSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}
