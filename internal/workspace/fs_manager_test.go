package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCreatesAndSeeds(t *testing.T) {
	sourceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "main.tf"), []byte("resource {}"), 0o644); err != nil {
		t.Fatalf("WriteFile(main.tf) error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(sourceDir, "variables.tf"), []byte("variable {}"), 0o644); err != nil {
		t.Fatalf("WriteFile(variables.tf) error = %v", err)
	}

	wsPath := filepath.Join(t.TempDir(), "nested", "demo-1")
	mgr := NewFSManager()

	seeds := []string{"main.tf", "variables.tf", "terraform.tfvars"}
	if err := mgr.Ensure(context.Background(), wsPath, sourceDir, seeds); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(wsPath, "main.tf"))
	if err != nil {
		t.Fatalf("ReadFile(main.tf) error = %v", err)
	}
	if string(got) != "resource {}" {
		t.Fatalf("main.tf = %q, want %q", string(got), "resource {}")
	}

	if _, err := os.Stat(filepath.Join(wsPath, "variables.tf")); err != nil {
		t.Fatalf("Stat(variables.tf) error = %v", err)
	}

	// terraform.tfvars was absent at the source; it must be skipped, not created.
	if _, err := os.Stat(filepath.Join(wsPath, "terraform.tfvars")); !os.IsNotExist(err) {
		t.Fatalf("terraform.tfvars should not exist, stat err = %v", err)
	}
}

func TestEnsureIdempotent(t *testing.T) {
	sourceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "main.tf"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	wsPath := filepath.Join(t.TempDir(), "demo-1")
	mgr := NewFSManager()

	if err := mgr.Ensure(context.Background(), wsPath, sourceDir, []string{"main.tf"}); err != nil {
		t.Fatalf("Ensure() first call error = %v", err)
	}

	// Source changed; a second Ensure re-copies over the existing workspace.
	if err := os.WriteFile(filepath.Join(sourceDir, "main.tf"), []byte("v2"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := mgr.Ensure(context.Background(), wsPath, sourceDir, []string{"main.tf"}); err != nil {
		t.Fatalf("Ensure() second call error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(wsPath, "main.tf"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("main.tf = %q, want %q", string(got), "v2")
	}
}

func TestEnsureCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr := NewFSManager()
	if err := mgr.Ensure(ctx, filepath.Join(t.TempDir(), "ws"), t.TempDir(), nil); err == nil {
		t.Fatalf("Ensure() with cancelled context should fail")
	}
}

func TestRemoveWorkspace(t *testing.T) {
	mgr := NewFSManager()

	wsPath := filepath.Join(t.TempDir(), "demo-1")
	if err := os.MkdirAll(filepath.Join(wsPath, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsPath, "sub", "state"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if ok := mgr.Remove(wsPath); !ok {
		t.Fatalf("Remove() = false, want true")
	}
	if _, err := os.Stat(wsPath); !os.IsNotExist(err) {
		t.Fatalf("workspace still exists after Remove")
	}

	// Removing a nonexistent path is success.
	if ok := mgr.Remove(wsPath); !ok {
		t.Fatalf("Remove(nonexistent) = false, want true")
	}

	// Empty path is refused.
	if ok := mgr.Remove(""); ok {
		t.Fatalf("Remove(\"\") = true, want false")
	}
}

func TestExists(t *testing.T) {
	mgr := NewFSManager()

	dir := t.TempDir()
	if !mgr.Exists(dir) {
		t.Fatalf("Exists(%q) = false, want true", dir)
	}
	if mgr.Exists(filepath.Join(dir, "missing")) {
		t.Fatalf("Exists(missing) = true, want false")
	}

	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if mgr.Exists(file) {
		t.Fatalf("Exists(regular file) = true, want false")
	}
}
