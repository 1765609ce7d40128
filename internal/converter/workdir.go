package converter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// removeAll is swapped in tests
var removeAll = os.RemoveAll

// withWorkdir runs fn inside a fresh temporary directory that is removed on every exit path.
// A failed removal is logged; the result of fn stands.
func withWorkdir(base, prefix string, logger *zap.Logger, fn func(dir string) error) error {
	dir, err := os.MkdirTemp(base, prefix+"-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if rmErr := removeAll(dir); rmErr != nil {
			logger.Error("failed to remove work dir",
				zap.String("dir", dir),
				zap.Error(rmErr),
			)
		}
	}()
	return fn(dir)
}

// CopyFile copies src to dst with mode 0644, replacing dst
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// MoveFile renames src to dst, falling back to copy and remove across filesystems
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	return os.Remove(src)
}
