package workspace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/terraflow/internal/log"
)

// fsManager manages per-template workspace directories on local disk.
type fsManager struct {
	logger *slog.Logger
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager.
func NewFSManager() *fsManager {
	return &fsManager{
		logger: log.WithComponent("workspace"),
	}
}

// Ensure creates the workspace directory and seeds it from sourceDir.
func (m *fsManager) Ensure(ctx context.Context, path, sourceDir string, seedFiles []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("workspace path is empty")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create workspace directory %q: %w", path, err)
	}

	for _, name := range seedFiles {
		if err := ctx.Err(); err != nil {
			return err
		}

		src := filepath.Join(sourceDir, name)
		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			// Optional seed file; not present at the source.
			continue
		}
		if err != nil {
			m.logger.Warn("skipping seed file", "file", name, "error", err)
			continue
		}
		if info.IsDir() {
			m.logger.Warn("skipping seed entry: is a directory", "file", name)
			continue
		}

		if err := copyFile(src, filepath.Join(path, name), info.Mode().Perm()); err != nil {
			m.logger.Warn("failed to copy seed file", "file", name, "error", err)
			continue
		}
		m.logger.Debug("seeded workspace file", "file", name, "workspace", path)
	}

	return nil
}

// Remove deletes the workspace tree. Absent paths are success.
func (m *fsManager) Remove(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true
	}
	if err := os.RemoveAll(path); err != nil {
		m.logger.Error("failed to remove workspace", "path", path, "error", err)
		return false
	}
	m.logger.Debug("removed workspace", "path", path)
	return true
}

// Exists reports whether path is an existing directory.
func (m *fsManager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %q: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	return out.Close()
}
