package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathGuardResolve(t *testing.T) {
	workspace := t.TempDir()
	outside := t.TempDir()
	secrets := filepath.Join(workspace, "secrets")
	if err := os.MkdirAll(secrets, 0o755); err != nil {
		t.Fatal(err)
	}

	guard, err := NewPathGuard(workspace, []string{outside}, []string{secrets})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative inside workspace", "notes.txt", false},
		{"nested relative", "sub/dir/file.go", false},
		{"absolute inside workspace", filepath.Join(workspace, "data.json"), false},
		{"workspace root itself", workspace, false},
		{"allowed external root", filepath.Join(outside, "shared.txt"), false},
		{"traversal out of workspace", "../escape.txt", true},
		{"absolute outside", "/etc/passwd", true},
		{"restricted subtree", "secrets/key.pem", true},
		{"restricted root", secrets, true},
		{"empty path", "", true},
		{"nul byte", "a\x00b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.Resolve(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Resolve(%q) = %q, expected rejection", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.path, err)
			}
			if !filepath.IsAbs(got) {
				t.Errorf("Resolve(%q) returned a relative path %q", tt.path, got)
			}
		})
	}
}

func TestPathGuardRelativeJoinsWorkspace(t *testing.T) {
	workspace := t.TempDir()
	guard, err := NewPathGuard(workspace, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := guard.Resolve("a/b.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasSuffix(got, filepath.Join("a", "b.txt")) {
		t.Errorf("expected the workspace join, got %q", got)
	}
	if guard.Workspace() == "" {
		t.Error("workspace must be set")
	}
}

func TestPathGuardSymlinkEscape(t *testing.T) {
	workspace := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(workspace, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	guard, err := NewPathGuard(workspace, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := guard.Resolve("sneaky/file.txt"); err == nil {
		t.Errorf("symlink escape resolved to %q, expected rejection", got)
	}
}

func TestPathGuardDefaultWorkspace(t *testing.T) {
	guard, err := NewPathGuard("", nil, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	wd, _ := os.Getwd()
	resolved, _ := filepath.EvalSymlinks(wd)
	if guard.Workspace() != wd && guard.Workspace() != resolved {
		t.Errorf("expected the working directory, got %q", guard.Workspace())
	}
}
